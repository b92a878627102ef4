package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/reviewgoat/internal/automation"
	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

// pageCreateTimeout bounds tab creation, which can hang on a wedged browser.
const pageCreateTimeout = 30 * time.Second

// BrowserPool hands out fresh browser tabs, at most one per concurrent task.
// A released tab is closed, never reused.
type BrowserPool struct {
	browser    *rod.Browser
	launcher   *launcher.Launcher
	cfg        config.BrowserConfig
	navTimeout time.Duration
	userAgent  string
	sem        chan struct{}
	open       atomic.Int64
	logger     *slog.Logger
}

// NewBrowserPool launches (or connects to) a Chromium instance.
func NewBrowserPool(cfg *config.Config, logger *slog.Logger) (*BrowserPool, error) {
	bp := &BrowserPool{
		cfg:        cfg.Browser,
		navTimeout: cfg.Engine.NavigationTimeout,
		userAgent:  cfg.Engine.UserAgent,
		sem:        make(chan struct{}, max(cfg.Engine.Concurrency, 1)),
		logger:     logger.With("component", "browser_pool"),
	}

	controlURL := cfg.Browser.ControlURL
	if controlURL == "" {
		u, err := bp.launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if cfg.Browser.SlowMotion > 0 {
		browser = browser.SlowMotion(cfg.Browser.SlowMotion)
	}
	if err := browser.Connect(); err != nil {
		bp.kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	bp.browser = browser

	bp.logger.Info("browser ready",
		"max_pages", cap(bp.sem),
		"headless", cfg.Browser.Headless,
		"stealth", cfg.Browser.Stealth,
		"remote", cfg.Browser.ControlURL != "",
	)
	return bp, nil
}

// launch starts Chromium with the automation-hiding flag set.
func (bp *BrowserPool) launch() (string, error) {
	l := launcher.New().
		Headless(bp.cfg.Headless).
		NoSandbox(bp.cfg.NoSandbox).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled")

	if bp.cfg.WindowSize != "" {
		l = l.Set("window-size", bp.cfg.WindowSize)
	}
	if bp.cfg.BinPath != "" {
		l = l.Bin(bp.cfg.BinPath)
	}

	bp.launcher = l
	return l.Launch()
}

// Acquire blocks until a slot is free, then opens a new tab.
func (bp *BrowserPool) Acquire(ctx context.Context) (automation.Page, error) {
	select {
	case bp.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	page, err := bp.newPage(ctx)
	if err != nil {
		<-bp.sem
		return nil, fmt.Errorf("%w: %v", types.ErrPageUnavailable, err)
	}

	bp.open.Add(1)
	return automation.NewRodPage(page, bp.navTimeout, bp.logger), nil
}

// Release closes a page obtained from Acquire and frees its slot.
func (bp *BrowserPool) Release(page automation.Page) {
	if page == nil {
		return
	}
	if err := page.Close(); err != nil {
		bp.logger.Debug("page close failed", "error", err)
	}
	bp.open.Add(-1)
	<-bp.sem
}

// Open returns the number of pages currently handed out.
func (bp *BrowserPool) Open() int64 {
	return bp.open.Load()
}

// Close shuts down the browser.
func (bp *BrowserPool) Close() error {
	var err error
	if bp.browser != nil {
		err = bp.browser.Close()
	}
	bp.kill()
	bp.logger.Info("browser closed")
	return err
}

func (bp *BrowserPool) kill() {
	if bp.launcher != nil {
		bp.launcher.Kill()
		bp.launcher.Cleanup()
	}
}

type pageResult struct {
	page *rod.Page
	err  error
}

func (bp *BrowserPool) newPage(ctx context.Context) (*rod.Page, error) {
	done := make(chan pageResult, 1)
	go func() {
		var (
			page *rod.Page
			err  error
		)
		if bp.cfg.Stealth {
			page, err = stealth.Page(bp.browser)
		} else {
			page, err = bp.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		}
		if err == nil {
			if err = harden(page, bp.userAgent, bp.cfg.WindowSize); err != nil {
				_ = page.Close()
				page = nil
			}
		}
		done <- pageResult{page, err}
	}()

	timer := time.NewTimer(pageCreateTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.page, r.err
	case <-timer.C:
		go closeLate(done)
		return nil, fmt.Errorf("create page: timed out after %s", pageCreateTimeout)
	case <-ctx.Done():
		go closeLate(done)
		return nil, ctx.Err()
	}
}

// closeLate closes a tab whose creation finished after the caller gave up.
func closeLate(done <-chan pageResult) {
	if r := <-done; r.page != nil {
		_ = r.page.Close()
	}
}
