package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the crawl's Prometheus collectors on a dedicated registry.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	ProductsTotal    *prometheus.CounterVec
	CategoriesTotal  prometheus.Counter
	ReviewsExtracted prometheus.Counter
	RecordsWritten   prometheus.Counter
	RecordsDropped   prometheus.Counter
	SinkFailures     *prometheus.CounterVec
	StrategyAttempts *prometheus.CounterVec
	ScrollCycles     *prometheus.HistogramVec
	ProductDuration  prometheus.Histogram
	OpenPages        prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

// NewMetrics constructs and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ProductsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewgoat_products_total",
			Help: "Product pages handled, by outcome.",
		}, []string{"outcome"}),
		CategoriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reviewgoat_category_pages_total",
			Help: "Category pages parsed for product links.",
		}),
		ReviewsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reviewgoat_reviews_extracted_total",
			Help: "Review records built from review nodes.",
		}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reviewgoat_records_written_total",
			Help: "Records appended to the sink.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reviewgoat_records_dropped_total",
			Help: "Records rejected by required-field validation.",
		}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewgoat_sink_failures_total",
			Help: "Sink write failures, by whether recovery succeeded.",
		}, []string{"result"}),
		StrategyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewgoat_strategy_attempts_total",
			Help: "Selector strategy attempts, by field and outcome.",
		}, []string{"field", "outcome"}),
		ScrollCycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviewgoat_scroll_cycles",
			Help:    "Load cycles per stabilization run, by stop reason.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"reason"}),
		ProductDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reviewgoat_product_duration_seconds",
			Help:    "Wall-clock time spent per product page.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		OpenPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reviewgoat_open_pages",
			Help: "Browser pages currently held by tasks.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reviewgoat_queue_depth",
			Help: "Requests waiting in the frontier.",
		}),
	}

	registry.MustRegister(
		m.ProductsTotal,
		m.CategoriesTotal,
		m.ReviewsExtracted,
		m.RecordsWritten,
		m.RecordsDropped,
		m.SinkFailures,
		m.StrategyAttempts,
		m.ScrollCycles,
		m.ProductDuration,
		m.OpenPages,
		m.QueueDepth,
	)
	return m
}

// IncProduct counts a finished product page ("processed", "failed", "skipped").
func (m *Metrics) IncProduct(outcome string) {
	if m == nil {
		return
	}
	m.ProductsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncCategory() {
	if m == nil {
		return
	}
	m.CategoriesTotal.Inc()
}

func (m *Metrics) AddReviews(n int) {
	if m == nil {
		return
	}
	m.ReviewsExtracted.Add(float64(n))
}

func (m *Metrics) IncWritten() {
	if m == nil {
		return
	}
	m.RecordsWritten.Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.RecordsDropped.Inc()
}

// IncSinkFailure counts a failed write; result is "recovered" or "fatal".
func (m *Metrics) IncSinkFailure(result string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(result).Inc()
}

// ObserveAttempt matches extract.AttemptFunc.
func (m *Metrics) ObserveAttempt(field string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.StrategyAttempts.WithLabelValues(field, outcome).Inc()
}

func (m *Metrics) ObserveScroll(reason string, cycles int) {
	if m == nil {
		return
	}
	m.ScrollCycles.WithLabelValues(reason).Observe(float64(cycles))
}

func (m *Metrics) ObserveProduct(d time.Duration) {
	if m == nil {
		return
	}
	m.ProductDuration.Observe(d.Seconds())
}

func (m *Metrics) SetOpenPages(n int64) {
	if m == nil {
		return
	}
	m.OpenPages.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// Server exposes the registry over HTTP.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// StartServer serves metrics on port at path, plus /health.
func (m *Metrics) StartServer(port int, path string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	s := &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "metrics"),
	}
	s.logger.Info("metrics server starting", "addr", s.srv.Addr, "path", path)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
	return s
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
