package fetcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	acceptLanguage        = "en-US,en;q=0.9"
)

// harden makes a fresh tab look like an ordinary desktop browser: a fixed
// user agent and a viewport matching the launch window size.
func harden(page *rod.Page, userAgent, windowSize string) error {
	if userAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      userAgent,
			AcceptLanguage: acceptLanguage,
			Platform:       "Win32",
		})
		if err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	w, h := parseWindowSize(windowSize)
	err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}

// parseWindowSize reads a Chromium "W,H" window-size value.
func parseWindowSize(s string) (int, int) {
	ws, hs, ok := strings.Cut(s, ",")
	if !ok {
		return defaultViewportWidth, defaultViewportHeight
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(ws))
	h, err2 := strconv.Atoi(strings.TrimSpace(hs))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return defaultViewportWidth, defaultViewportHeight
	}
	return w, h
}
