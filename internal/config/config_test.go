package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewgoat.yaml")
	yaml := `
engine:
  concurrency: 4
  seeds: ["https://www.daraz.com.np/kettles/"]
scroll:
  settle_interval: 500ms
selectors:
  review:
    date:
      - selector: "span.review-date"
storage:
  type: jsonl
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("REVIEWGOAT_STORAGE_MODE", "product")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 4, cfg.Engine.Concurrency)
	assert.Equal(t, []string{"https://www.daraz.com.np/kettles/"}, cfg.Engine.Seeds)
	assert.Equal(t, 500*time.Millisecond, cfg.Scroll.SettleInterval)
	assert.Equal(t, "jsonl", cfg.Storage.Type)
	assert.Equal(t, "product", cfg.Storage.Mode)
	require.Len(t, cfg.Selectors.Review.Date, 1)
	assert.Equal(t, "span.review-date", cfg.Selectors.Review.Date[0].Selector)

	// Untouched chains keep their defaults.
	assert.Equal(t, DefaultSelectors().Review.Text, cfg.Selectors.Review.Text)
	assert.Equal(t, 10, cfg.Scroll.MaxAttempts)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Engine.Concurrency = 0 }},
		{"bad discovery", func(c *Config) { c.Discovery.Fetcher = "carrier-pigeon" }},
		{"zero max attempts", func(c *Config) { c.Scroll.MaxAttempts = 0 }},
		{"bad storage", func(c *Config) { c.Storage.Type = "xml" }},
		{"bad mode", func(c *Config) { c.Storage.Mode = "row" }},
		{"mongo without uri", func(c *Config) {
			c.Storage.Type = "mongodb"
			c.Storage.Mongo.URI = ""
		}},
		{"bad seed", func(c *Config) { c.Engine.Seeds = []string{"ftp://x"} }},
		{"unknown transform", func(c *Config) {
			c.Selectors.Review.Likes = Chain{{Selector: "span", Transform: "hex"}}
		}},
		{"bad pattern", func(c *Config) {
			c.Selectors.Product.Price = Chain{{Selector: "span", Pattern: "("}}
		}},
		{"item metric without items", func(c *Config) { c.Selectors.Product.Reviews.ItemSelector = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
