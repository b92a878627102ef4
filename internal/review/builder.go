package review

import (
	"log/slog"
	"strconv"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/extract"
	"github.com/IshaanNene/reviewgoat/internal/ledger"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

// Field defaults applied when a sub-field cannot be resolved.
const (
	DefaultText     = "No review text"
	DefaultDate     = "No date"
	DefaultReviewer = "Anonymous"
	DefaultRating   = 0
	DefaultLikes    = 0
	MaxStars        = 5
)

// EventReviewBuilt is the ledger step emitted once per built review.
const EventReviewBuilt = "review_built"

// Builder turns one review node into a ReviewRecord. Build is total: every
// field falls back to its default independently.
type Builder struct {
	sel      config.ReviewSelectors
	resolver *extract.Resolver
	recorder ledger.Recorder
	logger   *slog.Logger
}

// NewBuilder creates a Builder. recorder may be nil.
func NewBuilder(sel config.ReviewSelectors, resolver *extract.Resolver, recorder ledger.Recorder, logger *slog.Logger) *Builder {
	return &Builder{
		sel:      sel,
		resolver: resolver,
		recorder: recorder,
		logger:   logger.With("component", "review_builder"),
	}
}

// Build assembles the ordinal-th (1-based) review of productID from node.
func (b *Builder) Build(node extract.Node, productID string, ordinal int) types.ReviewRecord {
	var defaulted []string
	str := func(field string, chain extract.Chain, def string) string {
		res := b.resolver.Resolve(field, chain, node)
		if !res.Found() {
			defaulted = append(defaulted, field)
		}
		return res.String(def)
	}
	num := func(field string, chain extract.Chain, def int) int {
		res := b.resolver.Resolve(field, chain, node)
		n, err := strconv.Atoi(res.Value)
		if !res.Found() || err != nil {
			defaulted = append(defaulted, field)
			return def
		}
		return n
	}

	rec := types.ReviewRecord{
		ID:       types.ReviewID(productID, ordinal),
		Text:     str("review_text", b.sel.Text, DefaultText),
		Rating:   clamp(num("rating", b.sel.Stars, DefaultRating), 0, MaxStars),
		Date:     str("review_date", b.sel.Date, DefaultDate),
		Reviewer: str("reviewer_name", b.sel.Reviewer, DefaultReviewer),
		Verified: b.resolver.Resolve("verified_purchase", b.sel.Verified, node).Found(),
		Likes:    num("likes", b.sel.Likes, DefaultLikes),
		Images:   []string{},
	}

	if images, idx := b.resolver.ResolveAll("images", b.sel.Images, node); idx != extract.NotFound {
		rec.Images = dedupe(images)
	}

	if nodes, idx := b.resolver.Nodes("seller_response", b.sel.SellerResponse, node); idx != extract.NotFound {
		rec.SellerResponse = b.sellerResponse(nodes[0])
	}

	b.record(rec, defaulted)
	return rec
}

// sellerResponse builds the nested reply with the same per-field defaults.
func (b *Builder) sellerResponse(node extract.Node) *types.SellerResponse {
	return &types.SellerResponse{
		Text:  b.resolver.Resolve("seller_response_text", b.sel.Seller.Text, node).String(DefaultText),
		Date:  b.resolver.Resolve("seller_response_date", b.sel.Seller.Date, node).String(DefaultDate),
		Likes: b.resolver.Resolve("seller_response_likes", b.sel.Seller.Likes, node).Int(DefaultLikes),
	}
}

func (b *Builder) record(rec types.ReviewRecord, defaulted []string) {
	if len(defaulted) > 0 {
		b.logger.Debug("review fields defaulted", "review_id", rec.ID, "fields", defaulted)
	}
	if b.recorder == nil {
		return
	}
	if defaulted == nil {
		defaulted = []string{}
	}
	b.recorder.Record(EventReviewBuilt, "review "+rec.ID+" built", map[string]any{
		"review_id":       rec.ID,
		"defaulted":       defaulted,
		"images":          len(rec.Images),
		"seller_response": rec.SellerResponse != nil,
		"verified":        rec.Verified,
		"rating":          rec.Rating,
	})
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
