package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/reviewgoat/internal/config"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.IncProduct("processed")
	m.IncProduct("processed")
	m.IncProduct("failed")
	m.ObserveAttempt("review_date", true)
	m.ObserveAttempt("review_date", false)
	m.ObserveAttempt("review_date", false)
	m.AddReviews(3)
	m.IncWritten()
	m.IncDropped()
	m.IncSinkFailure("recovered")
	m.ObserveScroll("stable", 7)
	m.ObserveProduct(2 * time.Second)
	m.SetOpenPages(2)
	m.SetQueueDepth(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProductsTotal.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProductsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StrategyAttempts.WithLabelValues("review_date", "miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReviewsExtracted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenPages))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ScrollCycles))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncProduct("processed")
		m.ObserveAttempt("x", true)
		m.ObserveScroll("stable", 1)
		m.SetQueueDepth(1)
	})

	var s *Server
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	logger, closer, err := NewLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: path}, false)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("Warning").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())
}
