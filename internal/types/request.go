package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Priority levels for request scheduling.
const (
	PriorityHighest = 0
	PriorityHigh    = 1
	PriorityNormal  = 2
	PriorityLow     = 3
)

// RequestKind tells the engine how to process a fetched page.
type RequestKind string

const (
	// KindCategory is a listing page that yields product links and pagination.
	KindCategory RequestKind = "category"

	// KindProduct is a product page that yields one product and its reviews.
	KindProduct RequestKind = "product"
)

// Request is a page scheduled for processing by the crawl engine.
type Request struct {
	// URL is the target URL to load.
	URL *url.URL

	// Kind selects category or product processing.
	Kind RequestKind

	// Headers are extra HTTP headers for the static fetcher.
	Headers http.Header

	// Depth counts pagination hops from the seed.
	Depth int

	// Priority controls scheduling order (lower = higher priority).
	Priority int

	// Timeout overrides the global navigation timeout for this request.
	Timeout time.Duration

	// Meta stores arbitrary metadata attached to this request.
	Meta map[string]any

	// ParentURL tracks which page this request was discovered on.
	ParentURL string

	// CreatedAt is when this request was created.
	CreatedAt time.Time
}

// NewRequest creates a new Request with sensible defaults.
func NewRequest(rawURL string, kind RequestKind) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidURL, rawURL)
	}

	priority := PriorityNormal
	if kind == KindProduct {
		// Products drain before further listing pages are opened.
		priority = PriorityHigh
	}

	return &Request{
		URL:       u,
		Kind:      kind,
		Headers:   make(http.Header),
		Priority:  priority,
		Meta:      make(map[string]any),
		CreatedAt: time.Now(),
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// Resolve turns a possibly relative link found on this page into an absolute URL.
func (r *Request) Resolve(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidURL, link, err)
	}
	if r.URL == nil {
		return ref.String(), nil
	}
	abs := r.URL.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String(), nil
}
