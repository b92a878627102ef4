package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/IshaanNene/reviewgoat/internal/extract"
)

// Extent metrics.
const (
	MetricScrollHeight = "scroll_height"
	MetricItemCount    = "item_count"
)

// Page is a live, rendered page owned by one task.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// WaitElement waits up to timeout for selector to be present.
	// A timeout is reported as (false, nil).
	WaitElement(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// Measure returns the scroll height of selector's first match or the
	// number of selector matches, depending on metric.
	Measure(ctx context.Context, selector, metric string) (int, error)

	// ScrollToBottom scrolls the window, and the container when given, to its end.
	ScrollToBottom(ctx context.Context, container string) error

	// ScrollBy scrolls the window vertically by dy pixels.
	ScrollBy(ctx context.Context, dy int) error

	// Click clicks selector's first match. It reports false when nothing matched.
	Click(ctx context.Context, selector string) (bool, error)

	// Snapshot parses the current DOM into a queryable document.
	Snapshot(ctx context.Context) (extract.Node, error)

	// Close releases the underlying browser tab.
	Close() error
}

const (
	jsScrollHeight = `(sel) => {
		const el = sel ? document.querySelector(sel) : document.scrollingElement;
		return el ? el.scrollHeight : -1;
	}`
	jsItemCount = `(sel) => document.querySelectorAll(sel).length`
	jsScrollEnd = `(sel) => {
		const el = sel ? document.querySelector(sel) : null;
		if (el) {
			el.scrollTop = el.scrollHeight;
			el.scrollIntoView({block: "end"});
		}
		window.scrollTo(0, document.body.scrollHeight);
	}`
	jsScrollBy = `(dy) => window.scrollBy(0, dy)`
)

// RodPage implements Page over a rod tab.
type RodPage struct {
	page       *rod.Page
	logger     *slog.Logger
	navTimeout time.Duration
}

// NewRodPage wraps a rod page. navTimeout bounds every navigation.
func NewRodPage(page *rod.Page, navTimeout time.Duration, logger *slog.Logger) *RodPage {
	return &RodPage{
		page:       page,
		logger:     logger.With("component", "rod_page"),
		navTimeout: navTimeout,
	}
}

// Navigate implements Page.
func (p *RodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	// Late XHR rendering is handled by the stabilizer; this only smooths the first paint.
	if err := page.WaitStable(300 * time.Millisecond); err != nil {
		p.logger.Debug("page stability timeout, continuing", "url", url, "error", err)
	}
	return nil
}

// WaitElement implements Page.
func (p *RodPage) WaitElement(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	_, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return false, err
}

// Measure implements Page.
func (p *RodPage) Measure(ctx context.Context, selector, metric string) (int, error) {
	js := jsScrollHeight
	if metric == MetricItemCount {
		js = jsItemCount
	}
	res, err := p.page.Context(ctx).Eval(js, selector)
	if err != nil {
		return 0, fmt.Errorf("measure %s %q: %w", metric, selector, err)
	}
	return res.Value.Int(), nil
}

// ScrollToBottom implements Page.
func (p *RodPage) ScrollToBottom(ctx context.Context, container string) error {
	_, err := p.page.Context(ctx).Eval(jsScrollEnd, container)
	return err
}

// ScrollBy implements Page.
func (p *RodPage) ScrollBy(ctx context.Context, dy int) error {
	_, err := p.page.Context(ctx).Eval(jsScrollBy, dy)
	return err
}

// Click implements Page.
func (p *RodPage) Click(ctx context.Context, selector string) (bool, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return false, err
	}
	if len(els) == 0 {
		return false, nil
	}
	if err := els.First().Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("click %q: %w", selector, err)
	}
	return true, nil
}

// Snapshot implements Page.
func (p *RodPage) Snapshot(ctx context.Context) (extract.Node, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	return extract.NewDocument(strings.NewReader(html))
}

// Close implements Page.
func (p *RodPage) Close() error {
	return p.page.Close()
}
