package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for reviewgoat.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"    yaml:"engine"`
	Browser   BrowserConfig   `mapstructure:"browser"   yaml:"browser"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Scroll    ScrollConfig    `mapstructure:"scroll"    yaml:"scroll"`
	Selectors SelectorConfig  `mapstructure:"selectors" yaml:"selectors"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"    yaml:"ledger"`
	Publisher PublisherConfig `mapstructure:"publisher" yaml:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// EngineConfig controls the crawl scheduler.
type EngineConfig struct {
	Concurrency          int           `mapstructure:"concurrency"             yaml:"concurrency"`
	NavigationTimeout    time.Duration `mapstructure:"navigation_timeout"      yaml:"navigation_timeout"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"         yaml:"request_timeout"`
	Seeds                []string      `mapstructure:"seeds"                   yaml:"seeds"`
	AllowedDomains       []string      `mapstructure:"allowed_domains"         yaml:"allowed_domains"`
	MaxProducts          int           `mapstructure:"max_products"            yaml:"max_products"`
	MaxReviewsPerProduct int           `mapstructure:"max_reviews_per_product" yaml:"max_reviews_per_product"`
	MaxCategoryPages     int           `mapstructure:"max_category_pages"      yaml:"max_category_pages"`
	DedupCapacity        int           `mapstructure:"dedup_capacity"          yaml:"dedup_capacity"`
	UserAgent            string        `mapstructure:"user_agent"              yaml:"user_agent"`
}

// BrowserConfig controls the headless browser collaborator.
type BrowserConfig struct {
	Headless   bool          `mapstructure:"headless"    yaml:"headless"`
	Stealth    bool          `mapstructure:"stealth"     yaml:"stealth"`
	NoSandbox  bool          `mapstructure:"no_sandbox"  yaml:"no_sandbox"`
	WindowSize string        `mapstructure:"window_size" yaml:"window_size"`
	BinPath    string        `mapstructure:"bin_path"    yaml:"bin_path"`
	ControlURL string        `mapstructure:"control_url" yaml:"control_url"`
	SlowMotion time.Duration `mapstructure:"slow_motion" yaml:"slow_motion"`
}

// FetcherConfig controls the static HTTP fetcher used for listing discovery.
type FetcherConfig struct {
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
}

// DiscoveryConfig controls how category pages are read.
type DiscoveryConfig struct {
	// Fetcher is "browser" (rendered, scrolled) or "http" (static HTML).
	Fetcher string `mapstructure:"fetcher" yaml:"fetcher"`
}

// ScrollConfig tunes the scroll stabilization loop.
type ScrollConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"    yaml:"max_attempts"`
	SettleInterval time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
	Budget         time.Duration `mapstructure:"budget"          yaml:"budget"`
	MaxCycles      int           `mapstructure:"max_cycles"      yaml:"max_cycles"`
	ProbeRetries   int           `mapstructure:"probe_retries"   yaml:"probe_retries"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"   yaml:"probe_timeout"`
	NudgePixels    int           `mapstructure:"nudge_pixels"    yaml:"nudge_pixels"`
}

// StorageConfig controls the record sink.
type StorageConfig struct {
	Type           string      `mapstructure:"type"            yaml:"type"`
	Mode           string      `mapstructure:"mode"            yaml:"mode"`
	OutputPath     string      `mapstructure:"output_path"     yaml:"output_path"`
	FileName       string      `mapstructure:"file_name"       yaml:"file_name"`
	RequiredFields []string    `mapstructure:"required_fields" yaml:"required_fields"`
	Mongo          MongoConfig `mapstructure:"mongo"           yaml:"mongo"`
}

// MongoConfig configures the MongoDB sink.
type MongoConfig struct {
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// LedgerConfig controls the run ledger file.
type LedgerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PublisherConfig controls the downstream Redis record stream.
type PublisherConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr"    yaml:"addr"`
	DB      int    `mapstructure:"db"      yaml:"db"`
	Stream  string `mapstructure:"stream"  yaml:"stream"`
	MaxLen  int64  `mapstructure:"max_len" yaml:"max_len"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:          2,
			NavigationTimeout:    2 * time.Minute,
			RequestTimeout:       30 * time.Second,
			MaxProducts:          20,
			MaxReviewsPerProduct: 100,
			MaxCategoryPages:     5,
			DedupCapacity:        100_000,
			UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Browser: BrowserConfig{
			Headless:   true,
			Stealth:    true,
			NoSandbox:  true,
			WindowSize: "1920,1080",
		},
		Fetcher: FetcherConfig{
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    20,
		},
		Discovery: DiscoveryConfig{
			Fetcher: "browser",
		},
		Scroll: ScrollConfig{
			MaxAttempts:    10,
			SettleInterval: 2500 * time.Millisecond,
			Budget:         60 * time.Second,
			MaxCycles:      100,
			ProbeRetries:   5,
			ProbeTimeout:   3 * time.Second,
			NudgePixels:    600,
		},
		Selectors: DefaultSelectors(),
		Storage: StorageConfig{
			Type:           "csv",
			Mode:           "review",
			OutputPath:     "./output",
			RequiredFields: []string{"product_id", "product_name", "product_url"},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "reviewgoat",
				Collection: "reviews",
			},
		},
		Ledger: LedgerConfig{
			Path: "./logs/ledger.jsonl",
		},
		Publisher: PublisherConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Stream:  "reviewgoat:records",
			MaxLen:  100_000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
