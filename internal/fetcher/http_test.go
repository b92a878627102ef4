package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const listingURL = "https://www.daraz.com.np/catalog/?q=kettle"

func mockFetcher(t *testing.T) (*HTTPFetcher, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	cfg := config.DefaultConfig()
	return newHTTPFetcher(&http.Client{Transport: mt}, cfg, testLogger), mt
}

func listingRequest(t *testing.T) *types.Request {
	t.Helper()
	req, err := types.NewRequest(listingURL, types.KindCategory)
	require.NoError(t, err)
	return req
}

func encoded(t *testing.T, encoding, body string) httpmock.Responder {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "br":
		w := brotli.NewWriter(&buf)
		_, err := w.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, err := w.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	data := buf.Bytes()
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(http.StatusOK, data)
		resp.Header.Set("Content-Encoding", encoding)
		return resp, nil
	}
}

func TestHTTPFetcherPlain(t *testing.T) {
	f, mt := mockFetcher(t)
	mt.RegisterResponder(http.MethodGet, listingURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, config.DefaultConfig().Engine.UserAgent, req.Header.Get("User-Agent"))
			assert.Contains(t, req.Header.Get("Accept-Encoding"), "br")
			return httpmock.NewStringResponse(http.StatusOK, "<html><body>ok</body></html>"), nil
		})

	resp, err := f.Fetch(context.Background(), listingRequest(t))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "<html><body>ok</body></html>", string(resp.Body))

	doc, err := resp.Document()
	require.NoError(t, err)
	assert.Equal(t, "ok", doc.Find("body").Text())
}

func TestHTTPFetcherDecodes(t *testing.T) {
	for _, enc := range []string{"br", "gzip"} {
		t.Run(enc, func(t *testing.T) {
			f, mt := mockFetcher(t)
			mt.RegisterResponder(http.MethodGet, listingURL, encoded(t, enc, "<p>compressed</p>"))

			resp, err := f.Fetch(context.Background(), listingRequest(t))
			require.NoError(t, err)
			assert.Equal(t, "<p>compressed</p>", string(resp.Body))
		})
	}
}

func TestHTTPFetcherTranscodesCharset(t *testing.T) {
	f, mt := mockFetcher(t)
	// "Café" in ISO-8859-1.
	body := []byte("<p>Caf\xe9</p>")
	mt.RegisterResponder(http.MethodGet, listingURL,
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewBytesResponse(http.StatusOK, body)
			resp.Header.Set("Content-Type", "text/html; charset=iso-8859-1")
			return resp, nil
		})

	resp, err := f.Fetch(context.Background(), listingRequest(t))
	require.NoError(t, err)
	doc, err := resp.Document()
	require.NoError(t, err)
	assert.Equal(t, "Café", doc.Find("p").Text())
}

func TestHTTPFetcherStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, "7", true},
		{"server error", http.StatusBadGateway, "", true},
		{"not found", http.StatusNotFound, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, mt := mockFetcher(t)
			mt.RegisterResponder(http.MethodGet, listingURL,
				func(*http.Request) (*http.Response, error) {
					resp := httpmock.NewStringResponse(tt.status, "nope")
					if tt.header != "" {
						resp.Header.Set("Retry-After", tt.header)
					}
					return resp, nil
				})

			_, err := f.Fetch(context.Background(), listingRequest(t))
			var ferr *types.FetchError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tt.status, ferr.StatusCode)
			assert.Equal(t, tt.retryable, ferr.IsRetryable())
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, 7*time.Second, ferr.RetryAfter)
			}
		})
	}
}

func TestHTTPFetcherTransportError(t *testing.T) {
	f, mt := mockFetcher(t)
	mt.RegisterResponder(http.MethodGet, listingURL, httpmock.NewErrorResponder(errors.New("connection reset")))

	_, err := f.Fetch(context.Background(), listingRequest(t))
	var ferr *types.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Zero(t, ferr.StatusCode)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter(" 3 "))
	assert.Equal(t, 2*time.Minute, parseRetryAfter("600"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("soon"))
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Second, parseRetryAfter(past))
}

func TestParseWindowSize(t *testing.T) {
	w, h := parseWindowSize("1366, 768")
	assert.Equal(t, 1366, w)
	assert.Equal(t, 768, h)

	w, h = parseWindowSize("wide")
	assert.Equal(t, defaultViewportWidth, w)
	assert.Equal(t, defaultViewportHeight, h)
}
