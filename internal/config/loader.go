package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and a local .env file.
// Priority (highest to lowest): env vars > config file > defaults.
// CLI flag overrides are applied by the caller afterwards.
func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("REVIEWGOAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("reviewgoat")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".reviewgoat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers scalar default values in viper so env overrides apply.
// Selector chains are only overridable from the config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.concurrency", cfg.Engine.Concurrency)
	v.SetDefault("engine.navigation_timeout", cfg.Engine.NavigationTimeout)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
	v.SetDefault("engine.max_products", cfg.Engine.MaxProducts)
	v.SetDefault("engine.max_reviews_per_product", cfg.Engine.MaxReviewsPerProduct)
	v.SetDefault("engine.max_category_pages", cfg.Engine.MaxCategoryPages)
	v.SetDefault("engine.dedup_capacity", cfg.Engine.DedupCapacity)
	v.SetDefault("engine.user_agent", cfg.Engine.UserAgent)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.no_sandbox", cfg.Browser.NoSandbox)
	v.SetDefault("browser.window_size", cfg.Browser.WindowSize)
	v.SetDefault("browser.bin_path", cfg.Browser.BinPath)
	v.SetDefault("browser.control_url", cfg.Browser.ControlURL)
	v.SetDefault("browser.slow_motion", cfg.Browser.SlowMotion)

	v.SetDefault("fetcher.follow_redirects", cfg.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)

	v.SetDefault("discovery.fetcher", cfg.Discovery.Fetcher)

	v.SetDefault("scroll.max_attempts", cfg.Scroll.MaxAttempts)
	v.SetDefault("scroll.settle_interval", cfg.Scroll.SettleInterval)
	v.SetDefault("scroll.budget", cfg.Scroll.Budget)
	v.SetDefault("scroll.max_cycles", cfg.Scroll.MaxCycles)
	v.SetDefault("scroll.probe_retries", cfg.Scroll.ProbeRetries)
	v.SetDefault("scroll.probe_timeout", cfg.Scroll.ProbeTimeout)
	v.SetDefault("scroll.nudge_pixels", cfg.Scroll.NudgePixels)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.mode", cfg.Storage.Mode)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.required_fields", cfg.Storage.RequiredFields)
	v.SetDefault("storage.mongo.uri", cfg.Storage.Mongo.URI)
	v.SetDefault("storage.mongo.database", cfg.Storage.Mongo.Database)
	v.SetDefault("storage.mongo.collection", cfg.Storage.Mongo.Collection)

	v.SetDefault("ledger.path", cfg.Ledger.Path)

	v.SetDefault("publisher.enabled", cfg.Publisher.Enabled)
	v.SetDefault("publisher.addr", cfg.Publisher.Addr)
	v.SetDefault("publisher.db", cfg.Publisher.DB)
	v.SetDefault("publisher.stream", cfg.Publisher.Stream)
	v.SetDefault("publisher.max_len", cfg.Publisher.MaxLen)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
