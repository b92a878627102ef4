package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/reviewgoat/internal/automation"
	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/extract"
	"github.com/IshaanNene/reviewgoat/internal/fetcher"
	"github.com/IshaanNene/reviewgoat/internal/ledger"
	"github.com/IshaanNene/reviewgoat/internal/observability"
	"github.com/IshaanNene/reviewgoat/internal/review"
	"github.com/IshaanNene/reviewgoat/internal/storage"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

// State represents the engine's current lifecycle state.
type State int32

const (
	StateIdle     State = 0
	StateRunning  State = 1
	StateStopping State = 2
	StateStopped  State = 3
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Ledger steps emitted by the engine.
const (
	StepCategoryParsed = "category_parsed"
	StepCategoryFailed = "category_failed"
	StepProductDone    = "product_done"
	StepProductSkipped = "product_skipped"
	StepProductFailed  = "product_failed"
	StepRunCancelled   = "run_cancelled"
)

// Storage modes.
const (
	ModeReview  = "review"
	ModeProduct = "product"
)

// PagePool hands out live browser pages. Every acquired page is released
// exactly once.
type PagePool interface {
	Acquire(ctx context.Context) (automation.Page, error)
	Release(page automation.Page)
}

// RecordCallback receives every completed record that carries the persister's
// required fields. A later sink failure does not retract a delivered record.
type RecordCallback func(rec types.Record)

// Engine schedules category and product pages and drives each product page
// through stabilization, extraction and persistence.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	session  *ledger.Session
	recorder ledger.Recorder
	metrics  *observability.Metrics

	frontier  *Frontier
	dedup     *Deduplicator
	scheduler *Scheduler

	pages     PagePool
	static    fetcher.Fetcher
	persister *storage.Persister

	resolver   *extract.Resolver
	stabilizer *automation.Stabilizer
	products   *review.ProductExtractor
	builder    *review.Builder

	state          atomic.Int32
	productsQueued atomic.Int64
	openPages      atomic.Int64
	sinkHalted     atomic.Bool

	cbMu      sync.RWMutex
	callbacks []RecordCallback

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Engine. recorder may be nil.
func New(cfg *config.Config, session *ledger.Session, recorder ledger.Recorder, logger *slog.Logger) (*Engine, error) {
	dedup, err := NewDeduplicator(cfg.Engine.DedupCapacity)
	if err != nil {
		return nil, fmt.Errorf("create deduplicator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	resolver := extract.NewResolver(logger, recorder)

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		session:    session,
		recorder:   recorder,
		frontier:   NewFrontier(),
		dedup:      dedup,
		resolver:   resolver,
		stabilizer: automation.NewStabilizer(cfg.Scroll, logger, recorder),
		products:   review.NewProductExtractor(cfg.Selectors.Product, resolver, logger),
		builder:    review.NewBuilder(cfg.Selectors.Review, resolver, recorder, logger),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
	e.scheduler = NewScheduler(e)
	return e, nil
}

// SetPagePool sets the browser page source. Required for product pages.
func (e *Engine) SetPagePool(p PagePool) { e.pages = p }

// SetFetcher sets the static fetcher used when discovery.fetcher is "http".
func (e *Engine) SetFetcher(f fetcher.Fetcher) { e.static = f }

// SetPersister sets the record persister.
func (e *Engine) SetPersister(p *storage.Persister) {
	e.persister = p
	p.OnFailure(func(recovered bool) {
		if recovered {
			e.metrics.IncSinkFailure("recovered")
		} else {
			e.metrics.IncSinkFailure("fatal")
		}
	})
}

// SetMetrics wires Prometheus collectors into the engine and resolver.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
	e.resolver.OnAttempt(m.ObserveAttempt)
}

// OnRecord registers a callback for the record stream.
func (e *Engine) OnRecord(cb RecordCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// Session returns the run's session counters.
func (e *Engine) Session() *ledger.Session { return e.session }

// GetState returns the current engine state.
func (e *Engine) GetState() State {
	return State(e.state.Load())
}

// InferKind guesses whether a seed is a product page or a listing page.
func InferKind(rawURL string) types.RequestKind {
	u, err := url.Parse(rawURL)
	if err == nil && strings.Contains(u.Path, "/products/") {
		return types.KindProduct
	}
	return types.KindCategory
}

// AddSeed schedules a seed URL of the given kind.
func (e *Engine) AddSeed(rawURL string, kind types.RequestKind) error {
	req, err := types.NewRequest(rawURL, kind)
	if err != nil {
		return err
	}
	if kind == types.KindCategory {
		req.Priority = types.PriorityHighest
	}
	return e.AddRequest(req)
}

// AddRequest applies domain, duplicate and limit filters, then queues req.
func (e *Engine) AddRequest(req *types.Request) error {
	if e.session.Terminated() || e.frontier.IsClosed() {
		return types.ErrCrawlStopped
	}
	if !e.isDomainAllowed(req.Domain()) {
		return fmt.Errorf("%w: %s", types.ErrDomainBlocked, req.Domain())
	}

	isProduct := req.Kind == types.KindProduct
	if isProduct && e.limitReached() {
		return types.ErrLimitReached
	}
	if !e.dedup.FirstSeen(string(req.Kind) + " " + CanonicalizeURL(req.URLString(), isProduct)) {
		return types.ErrDuplicate
	}
	if isProduct {
		n := e.productsQueued.Add(1)
		if limit := int64(e.cfg.Engine.MaxProducts); limit > 0 && n > limit {
			e.productsQueued.Add(-1)
			return types.ErrLimitReached
		}
		e.session.AddDiscovered(1)
	}

	if !e.frontier.Push(req) {
		return types.ErrCrawlStopped
	}
	e.metrics.SetQueueDepth(e.frontier.Len())
	return nil
}

func (e *Engine) limitReached() bool {
	limit := int64(e.cfg.Engine.MaxProducts)
	return limit > 0 && e.productsQueued.Load() >= limit
}

// Start launches the worker pool. It fails with types.ErrNoSeeds when
// nothing could be scheduled.
func (e *Engine) Start() error {
	if e.frontier.Len() == 0 {
		return types.ErrNoSeeds
	}
	if e.pages == nil {
		return errors.New("engine: no page pool configured")
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("engine is in state %s, cannot start", e.GetState())
	}

	e.logger.Info("engine starting",
		"concurrency", e.cfg.Engine.Concurrency,
		"queued", e.frontier.Len(),
		"mode", e.cfg.Storage.Mode,
		"discovery", e.cfg.Discovery.Fetcher,
	)
	e.scheduler.Start(e.ctx)
	return nil
}

// Wait blocks until the crawl drains or is stopped.
func (e *Engine) Wait() {
	e.scheduler.Wait()
	e.cancel()
	e.state.Store(int32(StateStopped))

	snap := e.session.Snapshot()
	e.logger.Info("engine stopped",
		"processed", snap.Processed,
		"failed", snap.Failed,
		"discovered", snap.Discovered,
		"reviews_written", snap.ReviewsWritten,
		"terminated", snap.Terminated,
	)
}

// Stop cancels the run: the session is marked terminated, no new tasks are
// started, and in-flight page work observes the cancelled context. Appends
// already under way complete.
func (e *Engine) Stop() {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	e.logger.Info("engine stopping...")
	e.session.MarkTerminated()
	e.frontier.Close()
	e.record(StepRunCancelled, "run cancelled by operator", map[string]any{
		"abandoned": e.frontier.Len(),
	})
	e.cancel()
}

func (e *Engine) isDomainAllowed(domain string) bool {
	if len(e.cfg.Engine.AllowedDomains) == 0 {
		return true
	}
	domain = strings.ToLower(domain)
	for _, d := range e.cfg.Engine.AllowedDomains {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// process runs one task. A panic anywhere below is converted into a task
// failure; page release has already happened by then.
func (e *Engine) process(ctx context.Context, req *types.Request) {
	defer func() {
		if r := recover(); r != nil {
			e.taskFailed(req, &types.TaskError{URL: req.URLString(), Stage: "panic", Err: fmt.Errorf("%v", r)})
		}
	}()

	switch req.Kind {
	case types.KindCategory:
		if err := e.processCategory(ctx, req); err != nil && ctx.Err() == nil {
			e.logger.Warn("category page failed", "url", req.URLString(), "error", err)
			e.record(StepCategoryFailed, err.Error(), map[string]any{"url": req.URLString()})
		}
	case types.KindProduct:
		start := e.now()
		err := e.processProduct(ctx, req)
		e.metrics.ObserveProduct(e.now().Sub(start))
		switch {
		case err == nil:
		case ctx.Err() != nil:
			e.logger.Info("product abandoned on shutdown", "url", req.URLString())
		default:
			e.taskFailed(req, err)
		}
	}
}

func (e *Engine) taskFailed(req *types.Request, err error) {
	e.session.IncFailed()
	e.metrics.IncProduct("failed")

	stage := ""
	var terr *types.TaskError
	if errors.As(err, &terr) {
		stage = terr.Stage
	}
	e.logger.Error("product failed", "url", req.URLString(), "stage", stage, "error", err)
	e.record(StepProductFailed, err.Error(), map[string]any{
		"url":   req.URLString(),
		"stage": stage,
	})
}

func (e *Engine) acquire(ctx context.Context) (automation.Page, error) {
	page, err := e.pages.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	e.metrics.SetOpenPages(e.openPages.Add(1))
	return page, nil
}

func (e *Engine) release(page automation.Page) {
	e.pages.Release(page)
	e.metrics.SetOpenPages(e.openPages.Add(-1))
}

// OpenPages returns the number of pages currently held by tasks.
func (e *Engine) OpenPages() int64 { return e.openPages.Load() }

// processProduct handles one product page: navigate, stabilize the review
// list, extract the product and its reviews, persist.
func (e *Engine) processProduct(ctx context.Context, req *types.Request) error {
	pageURL := req.URLString()
	stageErr := func(stage string, err error) error {
		return &types.TaskError{URL: pageURL, Stage: stage, Err: err}
	}

	page, err := e.acquire(ctx)
	if err != nil {
		return stageErr("acquire", err)
	}
	defer e.release(page)

	if err := page.Navigate(ctx, pageURL); err != nil {
		return stageErr("navigate", err)
	}

	loaded := e.stabilizer.Stabilize(ctx, page, e.cfg.Selectors.Product.Reviews)
	e.metrics.ObserveScroll(loaded.Reason, loaded.Cycles)
	if err := ctx.Err(); err != nil {
		return err
	}

	root, err := page.Snapshot(ctx)
	if err != nil {
		return stageErr("snapshot", err)
	}

	product := e.products.Extract(root, pageURL, e.now())

	if loaded.Reason == automation.ReasonNoContainer {
		e.session.IncSkipped()
		e.session.IncProcessed()
		e.metrics.IncProduct("skipped")
		e.logger.Info("no reviews region, skipping reviews", "url", pageURL, "product_id", product.ID)
		e.record(StepProductSkipped, "reviews region absent", map[string]any{
			"url":        pageURL,
			"product_id": product.ID,
		})
		if e.cfg.Storage.Mode == ModeProduct {
			e.emit(types.ProductRow{Product: product, Reviews: []types.ReviewRecord{}})
		}
		return nil
	}

	nodes := e.products.ReviewNodes(root)
	if limit := e.cfg.Engine.MaxReviewsPerProduct; limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}

	reviews := make([]types.ReviewRecord, 0, len(nodes))
	for i, node := range nodes {
		rec := e.builder.Build(node, product.ID, i+1)
		if e.cfg.Storage.Mode != ModeProduct {
			e.emit(types.ReviewRow{Product: product, Review: rec})
		}
		reviews = append(reviews, rec)
	}
	if e.cfg.Storage.Mode == ModeProduct {
		e.emit(types.ProductRow{Product: product, Reviews: reviews})
	}
	e.metrics.AddReviews(len(reviews))

	e.session.IncProcessed()
	e.metrics.IncProduct("processed")
	e.logger.Info("product done",
		"url", pageURL,
		"product_id", product.ID,
		"reviews", len(reviews),
		"stable", loaded.Stable,
		"cycles", loaded.Cycles,
	)
	e.record(StepProductDone, "product "+product.ID+" extracted", map[string]any{
		"url":          pageURL,
		"product_id":   product.ID,
		"reviews":      len(reviews),
		"stable":       loaded.Stable,
		"stop_reason":  loaded.Reason,
		"items_loaded": loaded.ItemsLoaded,
	})
	return nil
}

// processCategory reads a listing page, queues its product links and,
// within the page limit, its next page.
func (e *Engine) processCategory(ctx context.Context, req *types.Request) error {
	root, err := e.loadCategory(ctx, req)
	if err != nil {
		return err
	}
	e.metrics.IncCategory()

	links, _ := e.resolver.ResolveAll("product_links", e.cfg.Selectors.Category.ProductLinks, root)
	added := 0
	for _, link := range links {
		abs, err := req.Resolve(link)
		if err != nil {
			continue
		}
		preq, err := types.NewRequest(abs, types.KindProduct)
		if err != nil {
			continue
		}
		preq.ParentURL = req.URLString()
		preq.Depth = req.Depth

		err = e.AddRequest(preq)
		if err == nil {
			added++
			continue
		}
		if errors.Is(err, types.ErrLimitReached) || errors.Is(err, types.ErrCrawlStopped) {
			break
		}
	}

	nextQueued := false
	if next := e.resolver.Resolve("next_page", e.cfg.Selectors.Category.NextPage, root); next.Found() && e.allowNextPage(req) {
		if abs, err := req.Resolve(next.Value); err == nil {
			if nreq, err := types.NewRequest(abs, types.KindCategory); err == nil {
				nreq.Depth = req.Depth + 1
				nreq.ParentURL = req.URLString()
				nextQueued = e.AddRequest(nreq) == nil
			}
		}
	}

	e.logger.Info("category parsed",
		"url", req.URLString(),
		"links", len(links),
		"queued", added,
		"next_page", nextQueued,
	)
	e.record(StepCategoryParsed, "listing page parsed", map[string]any{
		"url":       req.URLString(),
		"links":     len(links),
		"queued":    added,
		"next_page": nextQueued,
		"depth":     req.Depth,
	})
	return nil
}

func (e *Engine) allowNextPage(req *types.Request) bool {
	if e.limitReached() {
		return false
	}
	limit := e.cfg.Engine.MaxCategoryPages
	return limit <= 0 || req.Depth+1 < limit
}

// loadCategory returns the listing page DOM, statically or through a
// rendered, scrolled browser page.
func (e *Engine) loadCategory(ctx context.Context, req *types.Request) (extract.Node, error) {
	if e.cfg.Discovery.Fetcher == "http" && e.static != nil {
		resp, err := e.static.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		doc, err := resp.Document()
		if err != nil {
			return nil, &types.FetchError{URL: req.URLString(), StatusCode: resp.StatusCode, Err: err}
		}
		return extract.FromDocument(doc), nil
	}

	page, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.release(page)

	if err := page.Navigate(ctx, req.URLString()); err != nil {
		return nil, err
	}
	loaded := e.stabilizer.Stabilize(ctx, page, e.cfg.Selectors.Category.Container)
	e.metrics.ObserveScroll(loaded.Reason, loaded.Cycles)
	return page.Snapshot(ctx)
}

// emit hands rec to the record stream and then to the persister. Records
// missing a required field go straight to the persister, which drops them.
func (e *Engine) emit(rec types.Record) {
	if e.persister != nil && e.persister.Check(rec) != nil {
		e.store(rec)
		return
	}

	e.cbMu.RLock()
	callbacks := e.callbacks
	e.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(rec)
	}

	if e.persister != nil {
		e.store(rec)
	}
}

func (e *Engine) store(rec types.Record) {
	err := e.persister.Append(rec)
	var verr *types.ValidationError
	switch {
	case err == nil:
		e.metrics.IncWritten()
	case errors.As(err, &verr):
		e.metrics.IncDropped()
	case errors.Is(err, types.ErrSinkFatal):
		if e.sinkHalted.CompareAndSwap(false, true) {
			e.logger.Error("persistence halted, records continue to the stream only", "error", err)
		}
	default:
		e.logger.Warn("append failed", "key", rec.Key(), "error", err)
	}
}

func (e *Engine) record(step, desc string, extra map[string]any) {
	if e.recorder != nil {
		e.recorder.Record(step, desc, extra)
	}
}
