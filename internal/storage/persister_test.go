package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/reviewgoat/internal/ledger"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testProduct() types.ProductRecord {
	return types.ProductRecord{
		ID:          "s123",
		Name:        `Kettle, "Deluxe"` + "\n1.8L",
		Price:       "Rs. 1,299",
		Rating:      4.5,
		URL:         "https://www.daraz.com.np/products/kettle-i123-s123.html",
		ReviewCount: 3,
		ScrapedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func reviewRow(ordinal int) types.ReviewRow {
	p := testProduct()
	return types.ReviewRow{
		Product: p,
		Review: types.ReviewRecord{
			ID:       types.ReviewID(p.ID, ordinal),
			Text:     fmt.Sprintf("review %d", ordinal),
			Rating:   5,
			Date:     "1 May 2024",
			Reviewer: "Anonymous",
			Images:   []string{},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func openCSV(t *testing.T) (*CSVSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out", "reviews.csv")
	sink := NewCSVSink(path, types.ReviewColumns, testLogger)
	require.NoError(t, sink.Open())
	t.Cleanup(func() { _ = sink.Close() })
	return sink, path
}

// flakySink fails the next `failures` writes, and reopens when reopenErr is nil.
type flakySink struct {
	Sink
	mu        sync.Mutex
	failures  int
	writes    int
	reopens   int
	reopenErr error
}

func (s *flakySink) Write(rec types.Record) error {
	s.mu.Lock()
	s.writes++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("broken pipe")
	}
	return s.Sink.Write(rec)
}

func (s *flakySink) Reopen() error {
	s.reopens++
	if s.reopenErr != nil {
		return s.reopenErr
	}
	return s.Sink.Reopen()
}

func TestCSVSinkQuotingAndHeader(t *testing.T) {
	sink, path := openCSV(t)
	p := NewPersister(sink, []string{"product_id", "product_name", "product_url"}, nil, nil, testLogger)

	require.NoError(t, p.Append(reviewRow(1)))
	require.NoError(t, p.Append(reviewRow(2)))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, types.ReviewColumns, rows[0])
	assert.Equal(t, `Kettle, "Deluxe"`+"\n1.8L", rows[1][1])
	assert.Equal(t, "s123_review_2", rows[2][6])
	assert.Equal(t, "[]", rows[2][13])
	assert.Equal(t, "2024-05-01T10:00:00Z", rows[2][17])
}

func TestPersisterDropsInvalidRecords(t *testing.T) {
	sink, path := openCSV(t)
	session := ledger.NewSession()
	p := NewPersister(sink, []string{"product_id", "product_name", "product_url"}, session, nil, testLogger)

	bad := reviewRow(2)
	bad.Product.Name = "   "

	require.NoError(t, p.Append(reviewRow(1)))
	err := p.Append(bad)
	require.Error(t, err)

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"product_name"}, verr.Missing)
	assert.ErrorIs(t, err, types.ErrInvalidRecord)
	require.NoError(t, p.Append(reviewRow(3)))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	for _, row := range rows[1:] {
		assert.NotEqual(t, "s123_review_2", row[6])
		assert.NotEmpty(t, row[1])
	}

	snap := session.Snapshot()
	assert.Equal(t, int64(1), snap.RecordsDropped)
	assert.Equal(t, int64(2), snap.RecordsWritten)
}

func TestPersisterRecoversFromSingleFailure(t *testing.T) {
	csvSink, path := openCSV(t)
	sink := &flakySink{Sink: csvSink}
	p := NewPersister(sink, nil, nil, nil, testLogger)

	require.NoError(t, p.Append(reviewRow(1)))
	sink.failures = 1
	require.NoError(t, p.Append(reviewRow(2)))
	require.NoError(t, p.Append(reviewRow(3)))

	assert.Equal(t, 1, sink.reopens)
	assert.NoError(t, p.Fatal())

	rows := readCSV(t, path)
	require.Len(t, rows, 4, "header written once, no row lost")
	assert.Equal(t, types.ReviewColumns, rows[0])
	for i, row := range rows[1:] {
		assert.Equal(t, types.ReviewID("s123", i+1), row[6])
	}
}

func TestPersisterDoubleFailureIsFatal(t *testing.T) {
	csvSink, path := openCSV(t)
	sink := &flakySink{Sink: csvSink}
	session := ledger.NewSession()
	p := NewPersister(sink, nil, session, nil, testLogger)

	require.NoError(t, p.Append(reviewRow(1)))
	sink.failures = 2

	err := p.Append(reviewRow(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSinkFatal)
	var serr *types.SinkError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Fatal)
	assert.Equal(t, "s123_review_2", serr.Key)

	writes := sink.writes
	err2 := p.Append(reviewRow(3))
	assert.Same(t, serr, err2.(*types.SinkError))
	assert.Equal(t, writes, sink.writes, "no writes after fatal")
	assert.True(t, session.Snapshot().SinkFatal)

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "s123_review_1", rows[1][6])
}

func TestPersisterFailedReopenIsFatal(t *testing.T) {
	csvSink, _ := openCSV(t)
	sink := &flakySink{Sink: csvSink, failures: 1, reopenErr: errors.New("disk gone")}
	p := NewPersister(sink, nil, nil, nil, testLogger)

	err := p.Append(reviewRow(1))
	assert.ErrorIs(t, err, types.ErrSinkFatal)
	assert.Equal(t, 1, sink.writes)
	assert.Error(t, p.Fatal())
}

func TestPersisterConcurrentAppendsKeepRowsIntact(t *testing.T) {
	sink, path := openCSV(t)
	p := NewPersister(sink, []string{"product_id"}, nil, nil, testLogger)

	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, p.Append(reviewRow(i)))
		}(i)
	}
	wg.Wait()

	rows := readCSV(t, path)
	require.Len(t, rows, 65)
	seen := make(map[string]bool)
	for _, row := range rows[1:] {
		require.Len(t, row, len(types.ReviewColumns))
		seen[row[6]] = true
	}
	assert.Len(t, seen, 64)
}

func TestCSVReopenOnEmptyFileRedeclaresHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.csv")
	sink := NewCSVSink(path, types.ReviewColumns, testLogger)
	require.NoError(t, sink.Reopen())
	require.NoError(t, sink.Write(reviewRow(1)))
	require.NoError(t, sink.Reopen())
	require.NoError(t, sink.Write(reviewRow(2)))
	require.NoError(t, sink.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, types.ReviewColumns, rows[0])
}

// appendRaw writes bytes behind the sink's back, as a write that failed
// part way through would.
func appendRaw(t *testing.T, path, raw string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(raw)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestCSVReopenDropsPartialRow(t *testing.T) {
	sink, path := openCSV(t)
	require.NoError(t, sink.Write(reviewRow(1)))
	appendRaw(t, path, `s123,"Kettle, half`)

	require.NoError(t, sink.Reopen())
	require.NoError(t, sink.Write(reviewRow(2)))
	require.NoError(t, sink.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, types.ReviewColumns, rows[0])
	assert.Equal(t, "s123_review_1", rows[1][6])
	assert.Equal(t, "s123_review_2", rows[2][6])
}

func TestJSONLReopenDropsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	sink := NewJSONLSink(path, testLogger)
	require.NoError(t, sink.Open())
	require.NoError(t, sink.Write(reviewRow(1)))
	appendRaw(t, path, `{"product_id":"s1`)

	require.NoError(t, sink.Reopen())
	require.NoError(t, sink.Write(reviewRow(2)))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), "line %q", line)
	}
	assert.Contains(t, lines[1], `"review_id":"s123_review_2"`)
}

func TestOpenStartsFreshOutput(t *testing.T) {
	sink, path := openCSV(t)
	require.NoError(t, sink.Write(reviewRow(1)))
	require.NoError(t, sink.Close())

	again := NewCSVSink(path, types.ReviewColumns, testLogger)
	require.NoError(t, again.Open())
	require.NoError(t, again.Write(reviewRow(2)))
	require.NoError(t, again.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 2, "a new run replaces earlier output")
	assert.Equal(t, "s123_review_2", rows[1][6])
}

func TestJSONLSinkProductMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.jsonl")
	sink := NewJSONLSink(path, testLogger)
	require.NoError(t, sink.Open())

	session := ledger.NewSession()
	p := NewPersister(sink, []string{"product_id"}, session, nil, testLogger)
	row := types.ProductRow{
		Product: testProduct(),
		Reviews: []types.ReviewRecord{reviewRow(1).Review, reviewRow(2).Review},
	}
	require.NoError(t, p.Append(row))
	require.NoError(t, p.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"review_id":"s123_review_2"`)
	assert.Equal(t, int64(2), session.Snapshot().ReviewsWritten)
}

func TestWriteBeforeOpen(t *testing.T) {
	sink := NewCSVSink(filepath.Join(t.TempDir(), "x.csv"), types.ReviewColumns, testLogger)
	assert.ErrorIs(t, sink.Write(reviewRow(1)), errNotOpen)
}
