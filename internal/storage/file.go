package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/IshaanNene/reviewgoat/internal/types"
)

var errNotOpen = errors.New("sink is not open")

// --- CSV Sink ---

// CSVSink writes records as RFC 4180 rows under a fixed header.
type CSVSink struct {
	path      string
	columns   []string
	file      *os.File
	committed int64 // bytes known good; -1 before the first open
	count     int
	logger    *slog.Logger
}

// NewCSVSink creates a CSV sink writing the given columns to path.
func NewCSVSink(path string, columns []string, logger *slog.Logger) *CSVSink {
	return &CSVSink{
		path:      path,
		columns:   columns,
		committed: -1,
		logger:    logger.With("component", "csv_sink"),
	}
}

func (s *CSVSink) Name() string     { return "csv" }
func (s *CSVSink) Location() string { return s.path }

// Open truncates the file and writes the header row.
func (s *CSVSink) Open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	s.file = f
	s.committed = 0
	return s.writeHeader()
}

// Reopen closes the current handle and reopens the file for appending. A
// partial row left by a failed write is cut off first. The header is written
// again only if the file is empty.
func (s *CSVSink) Reopen() error {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	f, size, err := reopenAppend(s.path, s.committed)
	if err != nil {
		return err
	}
	s.file = f
	s.committed = size
	if size == 0 {
		return s.writeHeader()
	}
	return nil
}

// Write encodes rec in memory and appends it with a single write call.
func (s *CSVSink) Write(rec types.Record) error {
	if s.file == nil {
		return errNotOpen
	}
	flat := rec.Flat()
	row := make([]string, len(s.columns))
	for i, c := range s.columns {
		row[i] = flat[c]
	}
	line, err := encodeCSV(row)
	if err != nil {
		return err
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write CSV row: %w", err)
	}
	s.committed += int64(len(line))
	s.count++
	return nil
}

func (s *CSVSink) Close() error {
	s.logger.Info("CSV written", "path", s.path, "rows", s.count)
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *CSVSink) writeHeader() error {
	line, err := encodeCSV(s.columns)
	if err != nil {
		return err
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	s.committed += int64(len(line))
	return nil
}

func encodeCSV(row []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return nil, fmt.Errorf("encode CSV row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode CSV row: %w", err)
	}
	return buf.Bytes(), nil
}

// reopenAppend opens path for appending and truncates it back to committed
// bytes when a failed write left a tail behind. A negative committed keeps
// whatever the file holds. It returns the resulting file size.
func reopenAppend(path string, committed int64) (*os.File, int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, 0, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("reopen output file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat output file: %w", err)
	}
	size := info.Size()
	if committed >= 0 && size > committed {
		if err := f.Truncate(committed); err != nil {
			_ = f.Close()
			return nil, 0, fmt.Errorf("truncate partial write: %w", err)
		}
		size = committed
	}
	return f, size, nil
}

// --- JSONL Sink ---

// JSONLSink writes records as newline-delimited JSON (one object per line).
type JSONLSink struct {
	path      string
	file      *os.File
	committed int64
	count     int
	logger    *slog.Logger
}

// NewJSONLSink creates a JSONL sink writing to path.
func NewJSONLSink(path string, logger *slog.Logger) *JSONLSink {
	return &JSONLSink{
		path:      path,
		committed: -1,
		logger:    logger.With("component", "jsonl_sink"),
	}
}

func (s *JSONLSink) Name() string     { return "jsonl" }
func (s *JSONLSink) Location() string { return s.path }

// Open truncates the file.
func (s *JSONLSink) Open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	s.file = f
	s.committed = 0
	return nil
}

// Reopen appends to the existing file after cutting off any partial line;
// JSONL has no header to re-declare.
func (s *JSONLSink) Reopen() error {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	f, size, err := reopenAppend(s.path, s.committed)
	if err != nil {
		return err
	}
	s.file = f
	s.committed = size
	return nil
}

func (s *JSONLSink) Write(rec types.Record) error {
	if s.file == nil {
		return errNotOpen
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode JSONL: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write JSONL: %w", err)
	}
	s.committed += int64(len(line))
	s.count++
	return nil
}

func (s *JSONLSink) Close() error {
	s.logger.Info("JSONL written", "path", s.path, "records", s.count)
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
