package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IshaanNene/reviewgoat/internal/ledger"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

// Persister appends records to a Sink one at a time. Invalid records are
// dropped; a failed write gets exactly one reopen-and-retry, after which the
// sink is declared fatal and every later Append returns the same error.
type Persister struct {
	sink     Sink
	required []string
	session  *ledger.Session
	recorder ledger.Recorder
	logger   *slog.Logger

	mu        sync.Mutex
	fatal     *types.SinkError
	onFailure func(recovered bool)
}

// NewPersister wraps an opened sink. session and recorder may be nil.
func NewPersister(sink Sink, required []string, session *ledger.Session, recorder ledger.Recorder, logger *slog.Logger) *Persister {
	return &Persister{
		sink:     sink,
		required: required,
		session:  session,
		recorder: recorder,
		logger:   logger.With("component", "persister", "sink", sink.Name()),
	}
}

// OnFailure registers a hook called after every recovery cycle with its result.
func (p *Persister) OnFailure(fn func(recovered bool)) {
	p.onFailure = fn
}

// Sink returns the underlying sink.
func (p *Persister) Sink() Sink { return p.sink }

// Append validates and writes one record. It returns a *types.ValidationError
// for dropped records and a *types.SinkError when the write failed for good.
func (p *Persister) Append(rec types.Record) error {
	if missing := p.missing(rec); len(missing) > 0 {
		verr := &types.ValidationError{Key: rec.Key(), Missing: missing}
		if p.session != nil {
			p.session.IncDropped()
		}
		p.logger.Warn("record dropped", "key", rec.Key(), "missing", missing)
		p.record("record_dropped", verr.Error(), map[string]any{
			"key":     rec.Key(),
			"missing": missing,
		})
		return verr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fatal != nil {
		return p.fatal
	}

	err := p.sink.Write(rec)
	if err == nil {
		p.written(rec)
		return nil
	}

	p.logger.Warn("sink write failed, reopening", "key", rec.Key(), "error", err)
	p.record("sink_write_failed", "write failed, attempting recovery", map[string]any{
		"key":   rec.Key(),
		"error": err.Error(),
	})

	if rerr := p.sink.Reopen(); rerr != nil {
		err = errors.Join(err, fmt.Errorf("reopen: %w", rerr))
	} else if werr := p.sink.Write(rec); werr != nil {
		err = errors.Join(err, fmt.Errorf("retry: %w", werr))
	} else {
		p.logger.Info("sink recovered", "key", rec.Key())
		p.record("sink_recovered", "sink reopened and write retried", map[string]any{"key": rec.Key()})
		p.failed(true)
		p.written(rec)
		return nil
	}

	p.fatal = &types.SinkError{Backend: p.sink.Name(), Key: rec.Key(), Fatal: true, Err: err}
	if p.session != nil {
		p.session.MarkSinkFatal()
	}
	p.failed(false)
	p.logger.Error("sink unusable, persistence halted", "key", rec.Key(), "error", err)
	p.record("sink_fatal", "persistence halted after failed recovery", map[string]any{
		"key":   rec.Key(),
		"error": err.Error(),
	})
	return p.fatal
}

// Fatal returns the sticky fatal error, if persistence has halted.
func (p *Persister) Fatal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fatal == nil {
		return nil
	}
	return p.fatal
}

// Close closes the sink.
func (p *Persister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sink.Close(); err != nil {
		return &types.StorageError{Backend: p.sink.Name(), Err: err}
	}
	return nil
}

// Check returns a *types.ValidationError naming the required fields rec
// lacks, or nil. It has no side effects.
func (p *Persister) Check(rec types.Record) error {
	if missing := p.missing(rec); len(missing) > 0 {
		return &types.ValidationError{Key: rec.Key(), Missing: missing}
	}
	return nil
}

func (p *Persister) missing(rec types.Record) []string {
	if len(p.required) == 0 {
		return nil
	}
	flat := rec.Flat()
	var missing []string
	for _, f := range p.required {
		if strings.TrimSpace(flat[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

func (p *Persister) written(rec types.Record) {
	if p.session == nil {
		return
	}
	reviews := 1
	if row, ok := rec.(types.ProductRow); ok {
		reviews = len(row.Reviews)
	}
	p.session.IncWritten(reviews)
}

func (p *Persister) failed(recovered bool) {
	if p.onFailure != nil {
		p.onFailure(recovered)
	}
}

func (p *Persister) record(step, desc string, extra map[string]any) {
	if p.recorder != nil {
		p.recorder.Record(step, desc, extra)
	}
}
