package reviewgoat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/reviewgoat/internal/automation"
	"github.com/IshaanNene/reviewgoat/internal/extract"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const kettlePage = `<html><body>
<h1 class="pdp-mod-product-badge-title">Kettle</h1>
<div class="mod-reviews">
  <div class="item"><div class="item-content"><div class="content">Great</div></div></div>
  <div class="item"><div class="item-content"><div class="content">Fine</div></div></div>
</div></body></html>`

// staticPool serves fixed HTML per URL.
type staticPool struct {
	pages map[string]string
	hold  chan struct{}

	mu       sync.Mutex
	released int
}

func (p *staticPool) Acquire(context.Context) (automation.Page, error) {
	return &staticPage{pool: p}, nil
}

func (p *staticPool) Release(automation.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
}

type staticPage struct {
	pool *staticPool
	html string
}

func (s *staticPage) Navigate(ctx context.Context, url string) error {
	if s.pool.hold != nil {
		select {
		case <-s.pool.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	html, ok := s.pool.pages[url]
	if !ok {
		return errors.New("not found")
	}
	s.html = html
	return nil
}

func (s *staticPage) WaitElement(_ context.Context, selector string, _ time.Duration) (bool, error) {
	return s.count(selector) > 0, nil
}

func (s *staticPage) Measure(_ context.Context, selector, _ string) (int, error) {
	return s.count(selector), nil
}

func (s *staticPage) ScrollToBottom(context.Context, string) error { return nil }

func (s *staticPage) ScrollBy(context.Context, int) error { return nil }

func (s *staticPage) Click(context.Context, string) (bool, error) { return false, nil }

func (s *staticPage) Close() error { return nil }

func (s *staticPage) Snapshot(context.Context) (extract.Node, error) {
	return extract.NewDocument(strings.NewReader(s.html))
}

func (s *staticPage) count(selector string) int {
	doc, err := extract.NewDocument(strings.NewReader(s.html))
	if err != nil {
		return 0
	}
	nodes, _ := doc.Find(extract.TypeCSS, selector)
	return len(nodes)
}

const kettleURL = "https://www.daraz.com.np/products/kettle-i1-s101.html"

func newTestScraper(t *testing.T, pool *staticPool, opts ...Option) (*Scraper, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{
		WithLogger(testLogger),
		WithPagePool(pool),
		WithOutput("jsonl", dir),
		WithLedger(filepath.Join(dir, "ledger.jsonl")),
		WithScroll(1, time.Millisecond, time.Second),
	}, opts...)
	return NewScraper(opts...), dir
}

func TestScraperRun(t *testing.T) {
	pool := &staticPool{pages: map[string]string{kettleURL: kettlePage}}
	s, dir := newTestScraper(t, pool)

	var texts []string
	s.OnReview(func(r Review) { texts = append(texts, r.Review.Text) })

	summary, err := s.Run(context.Background(), kettleURL)
	require.NoError(t, err)

	assert.Equal(t, []string{"Great", "Fine"}, texts)
	assert.Equal(t, int64(1), summary.Processed)
	assert.Equal(t, int64(2), summary.ReviewsWritten)
	assert.Equal(t, 1, pool.released)

	f, err := os.Open(filepath.Join(dir, "reviews.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); lines++ {
		var row Review
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		assert.Equal(t, "s101", row.Product.ID)
	}
	assert.Equal(t, 2, lines)

	ledgerBytes, err := os.ReadFile(filepath.Join(dir, "ledger.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(ledgerBytes), "session_summary")
}

func TestScraperProductMode(t *testing.T) {
	pool := &staticPool{pages: map[string]string{kettleURL: kettlePage}}
	s, _ := newTestScraper(t, pool, WithProductMode(), WithMaxReviews(1))

	var got []Product
	s.OnProduct(func(p Product) { got = append(got, p) })

	_, err := s.Run(context.Background(), kettleURL)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Reviews, 1)
}

func TestScraperNoSeeds(t *testing.T) {
	s, _ := newTestScraper(t, &staticPool{}, WithAllowedDomains("daraz.com.np"))

	_, err := s.Run(context.Background(), "https://example.com/products/x-s1.html")
	assert.ErrorIs(t, err, ErrNoSeeds)
}

func TestScraperCancel(t *testing.T) {
	pool := &staticPool{pages: map[string]string{kettleURL: kettlePage}, hold: make(chan struct{})}
	s, _ := newTestScraper(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	summary, err := s.Run(ctx, kettleURL)
	require.NoError(t, err)
	assert.True(t, summary.Terminated)
	assert.Equal(t, int64(0), summary.Failed)
}
