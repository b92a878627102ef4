package ledger

import (
	"sync/atomic"
	"time"
)

// Session holds the counters of one crawl run. All mutation goes through
// the increment methods; it is safe for concurrent use.
type Session struct {
	step           atomic.Int64
	processed      atomic.Int64
	failed         atomic.Int64
	discovered     atomic.Int64
	skipped        atomic.Int64
	reviewsWritten atomic.Int64
	recordsWritten atomic.Int64
	recordsDropped atomic.Int64
	terminated     atomic.Bool
	sinkFatal      atomic.Bool

	start time.Time
}

// NewSession starts a session clock.
func NewSession() *Session {
	return &Session{start: time.Now()}
}

// StartTime returns when the session began.
func (s *Session) StartTime() time.Time { return s.start }

// Elapsed returns the time since the session began.
func (s *Session) Elapsed() time.Duration { return time.Since(s.start) }

// NextStep increments and returns the step counter.
func (s *Session) NextStep() int64 { return s.step.Add(1) }

// IncProcessed counts a product processed successfully.
func (s *Session) IncProcessed() { s.processed.Add(1) }

// IncFailed counts a product whose processing failed.
func (s *Session) IncFailed() { s.failed.Add(1) }

// AddDiscovered counts newly discovered product URLs.
func (s *Session) AddDiscovered(n int) { s.discovered.Add(int64(n)) }

// IncSkipped counts a product with no review region.
func (s *Session) IncSkipped() { s.skipped.Add(1) }

// IncWritten counts one record persisted; reviews is the number of reviews it carries.
func (s *Session) IncWritten(reviews int) {
	s.recordsWritten.Add(1)
	s.reviewsWritten.Add(int64(reviews))
}

// IncDropped counts a record rejected by validation.
func (s *Session) IncDropped() { s.recordsDropped.Add(1) }

// MarkTerminated records an operator interrupt.
func (s *Session) MarkTerminated() { s.terminated.Store(true) }

// MarkSinkFatal records that persistence stopped.
func (s *Session) MarkSinkFatal() { s.sinkFatal.Store(true) }

// Terminated reports whether the run was interrupted.
func (s *Session) Terminated() bool { return s.terminated.Load() }

// Summary is the terminal state of a session.
type Summary struct {
	TotalSteps     int64   `json:"total_steps"`
	Processed      int64   `json:"processed"`
	Failed         int64   `json:"failed"`
	Discovered     int64   `json:"discovered"`
	Skipped        int64   `json:"skipped"`
	ReviewsWritten int64   `json:"reviews_written"`
	RecordsWritten int64   `json:"records_written"`
	RecordsDropped int64   `json:"records_dropped"`
	SuccessRate    float64 `json:"success_rate"`
	Terminated     bool    `json:"terminated"`
	SinkFatal      bool    `json:"sink_fatal"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	StartedAt      string  `json:"started_at"`
}

// Snapshot returns the current counters.
func (s *Session) Snapshot() Summary {
	processed := s.processed.Load()
	failed := s.failed.Load()

	var rate float64
	if attempted := processed + failed; attempted > 0 {
		rate = float64(processed) / float64(attempted) * 100
	}

	return Summary{
		TotalSteps:     s.step.Load(),
		Processed:      processed,
		Failed:         failed,
		Discovered:     s.discovered.Load(),
		Skipped:        s.skipped.Load(),
		ReviewsWritten: s.reviewsWritten.Load(),
		RecordsWritten: s.recordsWritten.Load(),
		RecordsDropped: s.recordsDropped.Load(),
		SuccessRate:    rate,
		Terminated:     s.terminated.Load(),
		SinkFatal:      s.sinkFatal.Load(),
		ElapsedSeconds: s.Elapsed().Seconds(),
		StartedAt:      s.start.Format(time.RFC3339),
	}
}
