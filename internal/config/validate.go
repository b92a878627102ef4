package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.Concurrency > 16 {
		return fmt.Errorf("engine.concurrency must be <= 16, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.NavigationTimeout <= 0 {
		return fmt.Errorf("engine.navigation_timeout must be > 0")
	}
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Engine.MaxProducts < 0 {
		return fmt.Errorf("engine.max_products must be >= 0, got %d", cfg.Engine.MaxProducts)
	}
	if cfg.Engine.MaxReviewsPerProduct < 0 {
		return fmt.Errorf("engine.max_reviews_per_product must be >= 0, got %d", cfg.Engine.MaxReviewsPerProduct)
	}
	if cfg.Engine.MaxCategoryPages < 0 {
		return fmt.Errorf("engine.max_category_pages must be >= 0, got %d", cfg.Engine.MaxCategoryPages)
	}
	if cfg.Engine.DedupCapacity < 1 {
		return fmt.Errorf("engine.dedup_capacity must be >= 1, got %d", cfg.Engine.DedupCapacity)
	}
	for _, seed := range cfg.Engine.Seeds {
		if err := ValidateURL(seed); err != nil {
			return fmt.Errorf("engine.seeds: %w", err)
		}
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	if cfg.Discovery.Fetcher != "http" && cfg.Discovery.Fetcher != "browser" {
		return fmt.Errorf("discovery.fetcher must be 'http' or 'browser', got %q", cfg.Discovery.Fetcher)
	}

	if cfg.Scroll.MaxAttempts < 1 {
		return fmt.Errorf("scroll.max_attempts must be >= 1, got %d", cfg.Scroll.MaxAttempts)
	}
	if cfg.Scroll.SettleInterval < 0 {
		return fmt.Errorf("scroll.settle_interval must be >= 0")
	}
	if cfg.Scroll.Budget <= 0 {
		return fmt.Errorf("scroll.budget must be > 0")
	}
	if cfg.Scroll.MaxCycles < 1 {
		return fmt.Errorf("scroll.max_cycles must be >= 1, got %d", cfg.Scroll.MaxCycles)
	}
	if cfg.Scroll.ProbeRetries < 1 {
		return fmt.Errorf("scroll.probe_retries must be >= 1, got %d", cfg.Scroll.ProbeRetries)
	}

	if err := validateSelectors(&cfg.Selectors); err != nil {
		return err
	}

	validStorageTypes := map[string]bool{
		"csv": true, "jsonl": true, "mongodb": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: csv, jsonl, mongodb)", cfg.Storage.Type)
	}
	if cfg.Storage.Mode != "review" && cfg.Storage.Mode != "product" {
		return fmt.Errorf("storage.mode must be 'review' or 'product', got %q", cfg.Storage.Mode)
	}
	if cfg.Storage.Type == "mongodb" && cfg.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri is required for the mongodb sink")
	}

	if cfg.Publisher.Enabled && cfg.Publisher.Stream == "" {
		return fmt.Errorf("publisher.stream is required when the publisher is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

func validateSelectors(s *SelectorConfig) error {
	chains := map[string]Chain{
		"category.product_links": s.Category.ProductLinks,
		"category.next_page":     s.Category.NextPage,
		"product.name":           s.Product.Name,
		"product.price":          s.Product.Price,
		"product.rating":         s.Product.Rating,
		"product.review_count":   s.Product.ReviewCount,
		"product.review_nodes":   s.Product.ReviewNodes,
		"review.text":            s.Review.Text,
		"review.stars":           s.Review.Stars,
		"review.date":            s.Review.Date,
		"review.reviewer":        s.Review.Reviewer,
		"review.verified":        s.Review.Verified,
		"review.likes":           s.Review.Likes,
		"review.images":          s.Review.Images,
		"review.seller_response": s.Review.SellerResponse,
		"review.seller.text":     s.Review.Seller.Text,
		"review.seller.date":     s.Review.Seller.Date,
		"review.seller.likes":    s.Review.Seller.Likes,
	}
	for name, chain := range chains {
		for i, st := range chain {
			if err := ValidateStrategy(st); err != nil {
				return fmt.Errorf("selectors.%s[%d]: %w", name, i, err)
			}
		}
	}
	for name, loc := range map[string]Locator{
		"category.container": s.Category.Container,
		"product.reviews":    s.Product.Reviews,
	} {
		switch loc.Metric {
		case "", "scroll_height", "item_count":
		default:
			return fmt.Errorf("selectors.%s.metric must be scroll_height or item_count, got %q", name, loc.Metric)
		}
		if loc.Metric == "item_count" && loc.ItemSelector == "" {
			return fmt.Errorf("selectors.%s.item_selector is required for the item_count metric", name)
		}
	}
	return nil
}

// ValidateStrategy checks a single strategy for an unknown type, transform or pattern.
func ValidateStrategy(st Strategy) error {
	if st.Type != "" && st.Type != "css" && st.Type != "xpath" {
		return fmt.Errorf("type must be css or xpath, got %q", st.Type)
	}
	if !Transforms[st.Transform] {
		return fmt.Errorf("unknown transform %q", st.Transform)
	}
	if st.Pattern != "" {
		if _, err := regexp.Compile(st.Pattern); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", st.Pattern, err)
		}
	}
	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
