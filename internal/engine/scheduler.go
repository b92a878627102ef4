package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/reviewgoat/internal/types"
)

const (
	pollInterval    = 50 * time.Millisecond
	idleInterval    = 200 * time.Millisecond
	idleStreakLimit = 3
)

// Scheduler runs a fixed pool of workers over the frontier. The crawl ends
// when every worker is idle and the frontier has stayed empty for a few
// consecutive checks, or when the frontier is closed.
type Scheduler struct {
	engine      *Engine
	logger      *slog.Logger
	wg          sync.WaitGroup
	idleWorkers atomic.Int32
	done        chan struct{}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(e *Engine) *Scheduler {
	return &Scheduler{
		engine: e,
		logger: e.logger.With("component", "scheduler"),
		done:   make(chan struct{}),
	}
}

// Start launches the worker pool and idle monitor.
func (s *Scheduler) Start(ctx context.Context) {
	concurrency := max(s.engine.cfg.Engine.Concurrency, 1)
	s.logger.Info("starting worker pool", "workers", concurrency)

	for i := 0; i < concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	go s.idleMonitor(ctx, concurrency)
}

// Wait blocks until all workers have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	close(s.done)
}

func (s *Scheduler) idleMonitor(ctx context.Context, concurrency int) {
	ticker := time.NewTicker(idleInterval)
	defer ticker.Stop()
	idleStreak := 0

	for {
		select {
		case <-ctx.Done():
			s.engine.frontier.Close()
			return
		case <-s.done:
			return
		case <-ticker.C:
			queueLen := s.engine.frontier.Len()
			s.engine.metrics.SetQueueDepth(queueLen)

			if int(s.idleWorkers.Load()) >= concurrency && queueLen == 0 {
				idleStreak++
				if idleStreak >= idleStreakLimit {
					s.logger.Info("all workers idle, frontier empty, crawl complete")
					s.engine.frontier.Close()
					return
				}
			} else {
				idleStreak = 0
			}
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With("worker_id", id)

	for {
		req := s.next(ctx)
		if req == nil {
			logger.Debug("worker exiting")
			return
		}
		logger.Debug("task started", "url", req.URLString(), "kind", req.Kind)
		s.engine.process(ctx, req)
	}
}

// next polls the frontier, counting the worker idle while it waits. It
// returns nil once the frontier is closed or ctx is cancelled.
func (s *Scheduler) next(ctx context.Context) *types.Request {
	s.idleWorkers.Add(1)
	defer s.idleWorkers.Add(-1)

	for {
		if req := s.engine.frontier.TryPop(); req != nil {
			return req
		}
		if s.engine.frontier.IsClosed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}
