package review

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/extract"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

// DefaultPrice is used when no price strategy yields a currency-tagged value.
const DefaultPrice = "N/A"

// ProductExtractor reads product-level fields from a product page.
type ProductExtractor struct {
	sel      config.ProductSelectors
	resolver *extract.Resolver
	logger   *slog.Logger
}

// NewProductExtractor creates a ProductExtractor.
func NewProductExtractor(sel config.ProductSelectors, resolver *extract.Resolver, logger *slog.Logger) *ProductExtractor {
	return &ProductExtractor{
		sel:      sel,
		resolver: resolver,
		logger:   logger.With("component", "product_extractor"),
	}
}

// Extract builds the ProductRecord of the page at pageURL. An unresolved
// name is left empty so required-field validation rejects the product.
func (e *ProductExtractor) Extract(root extract.Node, pageURL string, now time.Time) types.ProductRecord {
	rec := types.ProductRecord{
		ID:          ProductID(pageURL),
		Name:        e.resolver.Resolve("product_name", e.sel.Name, root).String(""),
		Price:       e.resolver.Resolve("product_price", e.sel.Price, root).String(DefaultPrice),
		Rating:      e.resolver.Resolve("product_rating", e.sel.Rating, root).Float(0),
		URL:         pageURL,
		ReviewCount: e.resolver.Resolve("review_count", e.sel.ReviewCount, root).Int(0),
		ScrapedAt:   now.UTC(),
	}
	if rec.Name == "" {
		e.logger.Warn("product name not found", "url", pageURL)
	}
	return rec
}

// ReviewNodes returns the review nodes on the page in document order.
func (e *ProductExtractor) ReviewNodes(root extract.Node) []extract.Node {
	nodes, _ := e.resolver.Nodes("review_nodes", e.sel.ReviewNodes, root)
	return nodes
}

// ProductID derives a stable product identifier from a product URL: the last
// '-' separated token of the final path segment, without its extension
// (".../kettle-i123-s456.html" gives "s456"). URLs without such a token fall
// back to a short hash of the URL.
func ProductID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		base := path.Base(u.Path)
		base = strings.TrimSuffix(base, path.Ext(base))
		if i := strings.LastIndex(base, "-"); i >= 0 {
			base = base[i+1:]
		}
		if base != "" && base != "." && base != "/" {
			return base
		}
	}
	sum := sha256.Sum256([]byte(rawURL))
	return "p" + hex.EncodeToString(sum[:6])
}
