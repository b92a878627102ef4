package fetcher

import (
	"context"

	"github.com/IshaanNene/reviewgoat/internal/types"
)

// Fetcher loads a page as static HTML.
type Fetcher interface {
	// Fetch retrieves the content at the given request's URL.
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}
