// Package reviewgoat provides a public SDK for embedding the review
// extraction engine as a library.
//
// Example usage:
//
//	scraper := reviewgoat.NewScraper(
//	    reviewgoat.WithConcurrency(2),
//	    reviewgoat.WithOutput("csv", "./output"),
//	    reviewgoat.WithMaxProducts(20),
//	)
//
//	scraper.OnReview(func(r reviewgoat.Review) {
//	    fmt.Println(r.Product.Name, r.Review.Rating)
//	})
//
//	summary, err := scraper.Run(ctx, "https://www.daraz.com.np/kettles/")
package reviewgoat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/engine"
	"github.com/IshaanNene/reviewgoat/internal/fetcher"
	"github.com/IshaanNene/reviewgoat/internal/ledger"
	"github.com/IshaanNene/reviewgoat/internal/storage"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

type (
	// Review is one review together with its product.
	Review = types.ReviewRow

	// Product is one product with all of its extracted reviews.
	Product = types.ProductRow

	// Summary is the terminal state of a run.
	Summary = ledger.Summary

	// PagePool hands out browser pages. The default pool launches Chromium.
	PagePool = engine.PagePool
)

// ErrNoSeeds is returned by Run when none of the URLs could be scheduled.
var ErrNoSeeds = types.ErrNoSeeds

// Scraper is the high-level API for running review extraction.
type Scraper struct {
	cfg      *config.Config
	logger   *slog.Logger
	pages    PagePool
	products bool

	onReview  []func(Review)
	onProduct []func(Product)

	mu     sync.Mutex
	engine *engine.Engine
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithConcurrency sets the number of concurrent browser pages.
func WithConcurrency(n int) Option {
	return func(s *Scraper) { s.cfg.Engine.Concurrency = n }
}

// WithOutput sets the sink type (csv, jsonl, mongodb) and output directory.
func WithOutput(format, path string) Option {
	return func(s *Scraper) {
		s.cfg.Storage.Type = format
		s.cfg.Storage.OutputPath = path
	}
}

// WithProductMode writes one record per product instead of one per review.
func WithProductMode() Option {
	return func(s *Scraper) { s.cfg.Storage.Mode = engine.ModeProduct }
}

// WithMaxProducts limits how many product pages are queued.
func WithMaxProducts(n int) Option {
	return func(s *Scraper) { s.cfg.Engine.MaxProducts = n }
}

// WithMaxReviews limits how many reviews are kept per product.
func WithMaxReviews(n int) Option {
	return func(s *Scraper) { s.cfg.Engine.MaxReviewsPerProduct = n }
}

// WithAllowedDomains restricts crawling to the given domains.
func WithAllowedDomains(domains ...string) Option {
	return func(s *Scraper) { s.cfg.Engine.AllowedDomains = domains }
}

// WithLedger writes the run ledger to path. An empty path disables the file.
func WithLedger(path string) Option {
	return func(s *Scraper) { s.cfg.Ledger.Path = path }
}

// WithHTTPDiscovery reads listing pages with plain HTTP.
func WithHTTPDiscovery() Option {
	return func(s *Scraper) { s.cfg.Discovery.Fetcher = "http" }
}

// WithScroll overrides the scroll stabilization bounds.
func WithScroll(maxAttempts int, settle, budget time.Duration) Option {
	return func(s *Scraper) {
		s.cfg.Scroll.MaxAttempts = maxAttempts
		s.cfg.Scroll.SettleInterval = settle
		s.cfg.Scroll.Budget = budget
	}
}

// WithProductSeeds treats every seed URL as a product page.
func WithProductSeeds() Option {
	return func(s *Scraper) { s.products = true }
}

// WithPagePool supplies the page source, for example a remote browser.
func WithPagePool(p PagePool) Option {
	return func(s *Scraper) { s.pages = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(s *Scraper) {
		s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// NewScraper creates a new Scraper with the given options.
func NewScraper(opts ...Option) *Scraper {
	s := &Scraper{
		cfg:    config.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnReview registers a callback for every extracted review in review mode.
func (s *Scraper) OnReview(cb func(Review)) {
	s.onReview = append(s.onReview, cb)
}

// OnProduct registers a callback for every extracted product in product mode.
func (s *Scraper) OnProduct(cb func(Product)) {
	s.onProduct = append(s.onProduct, cb)
}

// Run crawls urls until the frontier drains or ctx is cancelled, and
// returns the run summary. The error reports configuration problems,
// unschedulable seeds or halted persistence.
func (s *Scraper) Run(ctx context.Context, urls ...string) (summary Summary, err error) {
	if err := config.Validate(s.cfg); err != nil {
		return Summary{}, fmt.Errorf("invalid config: %w", err)
	}

	session := ledger.NewSession()
	var runLedger *ledger.Ledger
	if s.cfg.Ledger.Path != "" {
		if runLedger, err = ledger.Open(s.cfg.Ledger.Path, session, s.logger); err != nil {
			return Summary{}, err
		}
	} else {
		runLedger = ledger.New(io.Discard, session, s.logger)
	}
	defer func() { summary = runLedger.Close() }()

	sink, err := storage.NewSink(s.cfg.Storage, s.logger)
	if err != nil {
		return summary, err
	}
	if err := sink.Open(); err != nil {
		return summary, fmt.Errorf("open sink: %w", err)
	}
	persister := storage.NewPersister(sink, s.cfg.Storage.RequiredFields, session, runLedger, s.logger)
	defer persister.Close()

	eng, err := engine.New(s.cfg, session, runLedger, s.logger)
	if err != nil {
		return summary, err
	}
	eng.SetPersister(persister)
	eng.OnRecord(s.dispatch)

	if s.cfg.Discovery.Fetcher == "http" {
		httpFetcher, err := fetcher.NewHTTPFetcher(s.cfg, s.logger)
		if err != nil {
			return summary, err
		}
		defer httpFetcher.Close()
		eng.SetFetcher(httpFetcher)
	}

	// Add seed URLs; filtered seeds are warnings, not fatal errors
	var seedsAdded int
	for _, u := range urls {
		kind := engine.InferKind(u)
		if s.products {
			kind = types.KindProduct
		}
		if err := eng.AddSeed(u, kind); err != nil {
			s.logger.Warn("seed skipped", "url", u, "reason", err)
			continue
		}
		seedsAdded++
	}
	if seedsAdded == 0 {
		return summary, fmt.Errorf("%w: all %d seed(s) were filtered", ErrNoSeeds, len(urls))
	}

	pages := s.pages
	if pages == nil {
		pool, err := fetcher.NewBrowserPool(s.cfg, s.logger)
		if err != nil {
			return summary, err
		}
		defer pool.Close()
		pages = pool
	}
	eng.SetPagePool(pages)

	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()

	if err := eng.Start(); err != nil {
		return summary, err
	}
	stop := context.AfterFunc(ctx, eng.Stop)
	defer stop()
	eng.Wait()

	return summary, persister.Fatal()
}

// Stop cancels a running crawl. Run returns once in-flight pages finish.
func (s *Scraper) Stop() {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng != nil {
		eng.Stop()
	}
}

func (s *Scraper) dispatch(rec types.Record) {
	switch r := rec.(type) {
	case types.ReviewRow:
		for _, cb := range s.onReview {
			cb(r)
		}
	case types.ProductRow:
		for _, cb := range s.onProduct {
			cb(r)
		}
	}
}
