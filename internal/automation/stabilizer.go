package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/ledger"
)

// Stop reasons reported in LoadState.Reason.
const (
	ReasonStable      = "stable"
	ReasonNoContainer = "no_container"
	ReasonBudget      = "budget_exceeded"
	ReasonCycleCap    = "cycle_cap"
	ReasonCancelled   = "cancelled"
)

// LoadState describes how far a lazily-loaded region was driven.
type LoadState struct {
	ItemsLoaded int
	Extent      int
	Cycles      int
	Stable      bool
	Reason      string
	Elapsed     time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Stabilizer drives a page's load-more mechanism until the measured extent
// stops growing for MaxAttempts consecutive cycles.
type Stabilizer struct {
	cfg      config.ScrollConfig
	logger   *slog.Logger
	recorder ledger.Recorder

	sleep SleepFunc
	now   func() time.Time
}

// NewStabilizer creates a Stabilizer. recorder may be nil.
func NewStabilizer(cfg config.ScrollConfig, logger *slog.Logger, recorder ledger.Recorder) *Stabilizer {
	return &Stabilizer{
		cfg:      cfg,
		logger:   logger.With("component", "stabilizer"),
		recorder: recorder,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// WithClock replaces the sleep and clock functions.
func (s *Stabilizer) WithClock(sleep SleepFunc, now func() time.Time) *Stabilizer {
	s.sleep = sleep
	s.now = now
	return s
}

// Stabilize probes for the container, then triggers loads until the extent
// settles or a bound is hit. It never fails: every outcome is a LoadState.
func (s *Stabilizer) Stabilize(ctx context.Context, page Page, loc config.Locator) LoadState {
	start := s.now()
	state := LoadState{}

	finish := func(reason string, stable bool) LoadState {
		state.Reason = reason
		state.Stable = stable
		state.Elapsed = s.now().Sub(start)
		if stable || reason != ReasonNoContainer {
			state.ItemsLoaded = s.countItems(ctx, page, loc, state.Extent)
		}
		s.record("stabilize_done", "scroll stabilization finished", map[string]any{
			"container":    loc.Selector,
			"reason":       reason,
			"stable":       stable,
			"cycles":       state.Cycles,
			"extent":       state.Extent,
			"items_loaded": state.ItemsLoaded,
		})
		s.logger.Debug("stabilization finished",
			"container", loc.Selector,
			"reason", reason,
			"cycles", state.Cycles,
			"extent", state.Extent,
		)
		return state
	}

	if !s.probe(ctx, page, loc) {
		if ctx.Err() != nil {
			return finish(ReasonCancelled, false)
		}
		return finish(ReasonNoContainer, false)
	}

	last := s.measure(ctx, page, loc, 0)
	state.Extent = last
	noGrowth := 0

	for {
		if ctx.Err() != nil {
			return finish(ReasonCancelled, false)
		}
		if state.Cycles >= s.cfg.MaxCycles {
			return finish(ReasonCycleCap, false)
		}
		if s.now().Sub(start) >= s.cfg.Budget {
			return finish(ReasonBudget, false)
		}

		state.Cycles++
		s.trigger(ctx, page, loc)

		if err := s.sleep(ctx, s.cfg.SettleInterval); err != nil {
			return finish(ReasonCancelled, false)
		}

		current := s.measure(ctx, page, loc, last)
		if current > last {
			// Only a new high-water mark counts as growth, so jitter below it
			// cannot keep the loop alive.
			noGrowth = 0
			last = current
			state.Extent = current
		} else {
			noGrowth++
		}

		if noGrowth >= s.cfg.MaxAttempts {
			return finish(ReasonStable, true)
		}
	}
}

// probe waits for the container to mount, nudging the page between tries.
func (s *Stabilizer) probe(ctx context.Context, page Page, loc config.Locator) bool {
	retries := max(s.cfg.ProbeRetries, 1)
	for i := 0; i < retries; i++ {
		found, err := page.WaitElement(ctx, loc.Selector, s.cfg.ProbeTimeout)
		if err != nil && ctx.Err() != nil {
			return false
		}
		if found {
			s.record("container_found", "content container present", map[string]any{
				"container": loc.Selector,
				"retries":   i,
			})
			return true
		}
		if err != nil {
			s.logger.Debug("container probe error", "container", loc.Selector, "error", err)
		}
		if err := page.ScrollBy(ctx, s.cfg.NudgePixels); err != nil {
			s.logger.Debug("nudge scroll failed", "error", err)
		}
	}
	s.record("container_missing", "content container never appeared", map[string]any{
		"container": loc.Selector,
		"retries":   retries,
	})
	return false
}

// trigger asks the page for more content: a load-more click when one is
// configured and present, otherwise a scroll to the end.
func (s *Stabilizer) trigger(ctx context.Context, page Page, loc config.Locator) {
	if loc.LoadMore != "" {
		clicked, err := page.Click(ctx, loc.LoadMore)
		if err != nil {
			s.logger.Debug("load-more click failed", "selector", loc.LoadMore, "error", err)
		}
		if clicked {
			return
		}
	}
	if err := page.ScrollToBottom(ctx, loc.Selector); err != nil {
		s.logger.Debug("scroll to bottom failed", "error", err)
	}
}

// measure reads the configured extent metric. A failed read is reported as
// fallback, which never counts as growth.
func (s *Stabilizer) measure(ctx context.Context, page Page, loc config.Locator, fallback int) int {
	var (
		v   int
		err error
	)
	if loc.Metric == MetricItemCount && loc.ItemSelector != "" {
		v, err = page.Measure(ctx, loc.ItemSelector, MetricItemCount)
	} else {
		v, err = page.Measure(ctx, loc.Selector, MetricScrollHeight)
	}
	if err != nil {
		s.logger.Debug("extent measurement failed", "container", loc.Selector, "error", err)
		return fallback
	}
	return v
}

func (s *Stabilizer) countItems(ctx context.Context, page Page, loc config.Locator, extent int) int {
	if loc.ItemSelector == "" {
		return 0
	}
	if loc.Metric == MetricItemCount {
		return extent
	}
	n, err := page.Measure(ctx, loc.ItemSelector, MetricItemCount)
	if err != nil {
		return 0
	}
	return n
}

func (s *Stabilizer) record(step, desc string, extra map[string]any) {
	if s.recorder != nil {
		s.recorder.Record(step, desc, extra)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
