package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StepSessionSummary is the name of the terminal ledger entry.
const StepSessionSummary = "session_summary"

// Recorder receives structured engine events. *Ledger implements it.
type Recorder interface {
	Record(step, description string, extra map[string]any)
}

// Entry is one line of the ledger file.
type Entry struct {
	Step           int64          `json:"step"`
	Timestamp      string         `json:"timestamp"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	StepName       string         `json:"step_name"`
	Description    string         `json:"description"`
	ExtraData      map[string]any `json:"extra_data,omitempty"`
}

// Ledger appends one JSON object per engine action. Write failures are
// logged once and never returned to the caller.
type Ledger struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	session *Session
	logger  *slog.Logger
	path    string

	warned bool
	closed bool
}

// Open creates (or appends to) the ledger file at path.
func Open(path string, session *Session, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	l := New(f, session, logger)
	l.closer = f
	l.path = path
	return l, nil
}

// New creates a ledger writing to w.
func New(w io.Writer, session *Session, logger *slog.Logger) *Ledger {
	return &Ledger{
		w:       w,
		session: session,
		logger:  logger.With("component", "ledger"),
	}
}

// Path returns the ledger file path, if any.
func (l *Ledger) Path() string { return l.path }

// Session returns the session whose step counter this ledger advances.
func (l *Ledger) Session() *Session { return l.session }

// Record appends an entry. extra may be nil.
func (l *Ledger) Record(step, description string, extra map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.write(step, description, extra)
}

// Close appends the session summary entry and closes the file.
func (l *Ledger) Close() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return l.session.Snapshot()
	}

	// The summary's own step is included in its total.
	l.session.NextStep()
	summary := l.session.Snapshot()
	l.writeEntry(Entry{
		Step:           summary.TotalSteps,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		ElapsedSeconds: summary.ElapsedSeconds,
		StepName:       StepSessionSummary,
		Description:    fmt.Sprintf("processed %d, failed %d, reviews %d", summary.Processed, summary.Failed, summary.ReviewsWritten),
		ExtraData:      summaryExtra(summary),
	})

	l.closed = true
	if l.closer != nil {
		if err := l.closer.Close(); err != nil {
			l.logger.Warn("ledger close failed", "error", err)
		}
	}
	return summary
}

// write must be called with l.mu held so file order follows step order.
func (l *Ledger) write(step, description string, extra map[string]any) {
	l.writeEntry(Entry{
		Step:           l.session.NextStep(),
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		ElapsedSeconds: l.session.Elapsed().Seconds(),
		StepName:       step,
		Description:    description,
		ExtraData:      extra,
	})
}

func (l *Ledger) writeEntry(e Entry) {
	line, err := json.Marshal(e)
	if err != nil {
		// Unencodable payloads still leave a trace of the step.
		e.ExtraData = map[string]any{"encode_error": err.Error()}
		line, err = json.Marshal(e)
		if err != nil {
			l.warn(err)
			return
		}
	}
	line = append(line, '\n')
	if _, err := l.w.Write(line); err != nil {
		l.warn(err)
	}
}

func (l *Ledger) warn(err error) {
	if l.warned {
		return
	}
	l.warned = true
	l.logger.Warn("ledger write failed, further errors suppressed", "error", err)
}

func summaryExtra(s Summary) map[string]any {
	return map[string]any{
		"processed":       s.Processed,
		"failed":          s.Failed,
		"discovered":      s.Discovered,
		"skipped":         s.Skipped,
		"reviews_written": s.ReviewsWritten,
		"records_written": s.RecordsWritten,
		"records_dropped": s.RecordsDropped,
		"success_rate":    s.SuccessRate,
		"terminated":      s.Terminated,
		"sink_fatal":      s.SinkFatal,
	}
}
