package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/engine"
	"github.com/IshaanNene/reviewgoat/internal/fetcher"
	"github.com/IshaanNene/reviewgoat/internal/ledger"
	"github.com/IshaanNene/reviewgoat/internal/observability"
	"github.com/IshaanNene/reviewgoat/internal/publisher"
	"github.com/IshaanNene/reviewgoat/internal/storage"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

var (
	cfgFile        string
	verbose        bool
	outputPath     string
	outputType     string
	concurrent     int
	mode           string
	maxProducts    int
	maxReviews     int
	forceProducts  bool
	httpDiscovery  bool
	headful        bool
	ledgerPath     string
	allowedDomains string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reviewgoat",
		Short: "ReviewGoat: resilient e-commerce review extraction",
		Long: `ReviewGoat crawls product listings and product pages in a headless browser
and extracts every customer review into CSV, JSONL or MongoDB.

Features:
  • Ordered selector fallback chains, configurable in YAML
  • Scroll stabilization for infinite-scroll and "load more" review lists
  • Incremental, crash-tolerant persistence with one-shot sink recovery
  • Per-product failure isolation across concurrent browser pages
  • JSON-lines run ledger with a terminal session summary
  • Optional Redis stream publishing and Prometheus metrics`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// crawlCmd creates the "crawl" subcommand.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Extract reviews from category or product URLs",
		Long: `Crawl the given seed URLs, or engine.seeds from the config file. Listing pages
are paginated and their product links queued; product pages are scrolled until
the review list stops growing and every review is persisted as it is built.`,
		RunE: runCrawl,
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output directory")
	cmd.Flags().StringVarP(&outputType, "format", "f", "", "output format: csv, jsonl, mongodb")
	cmd.Flags().IntVarP(&concurrent, "concurrency", "n", 0, "number of concurrent browser pages")
	cmd.Flags().StringVar(&mode, "mode", "", "record mode: review (one row per review) or product")
	cmd.Flags().IntVar(&maxProducts, "max-products", -1, "maximum products to queue (0 = unlimited)")
	cmd.Flags().IntVar(&maxReviews, "max-reviews", -1, "maximum reviews per product (0 = unlimited)")
	cmd.Flags().BoolVar(&forceProducts, "products", false, "treat every seed as a product page")
	cmd.Flags().BoolVar(&httpDiscovery, "http-discovery", false, "read listing pages with plain HTTP instead of the browser")
	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "run ledger file path")
	cmd.Flags().StringVar(&allowedDomains, "allowed-domains", "", "comma-separated domains to stay within")

	return cmd
}

// runCrawl executes the crawl command.
func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seeds := args
	if len(seeds) == 0 {
		seeds = cfg.Engine.Seeds
	}
	for _, rawURL := range seeds {
		if err := config.ValidateURL(rawURL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
	}

	logger, logCloser, err := observability.NewLogger(cfg.Logging, verbose)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logCloser.Close()

	session := ledger.NewSession()
	runLedger, err := ledger.Open(cfg.Ledger.Path, session, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	output := cfg.Storage.OutputPath
	defer func() {
		printSummary(runLedger.Close(), output, runLedger.Path())
	}()

	// Setup storage
	sink, err := storage.NewSink(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	if err := sink.Open(); err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	output = sink.Location()
	persister := storage.NewPersister(sink, cfg.Storage.RequiredFields, session, runLedger, logger)
	defer func() {
		if err := persister.Close(); err != nil {
			logger.Warn("sink close failed", "error", err)
		}
	}()

	eng, err := engine.New(cfg, session, runLedger, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	eng.SetPersister(persister)

	// Setup metrics (if enabled)
	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics()
		eng.SetMetrics(metrics)
		srv := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	// Setup record stream publisher (if enabled)
	if cfg.Publisher.Enabled {
		pub := publisher.NewRedisPublisher(cfg.Publisher, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := pub.Ping(ctx)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, record stream disabled", "addr", cfg.Publisher.Addr, "error", err)
			_ = pub.Close()
		} else {
			eng.OnRecord(pub.Handle)
			defer pub.Close()
		}
	}

	// Setup static discovery fetcher
	if cfg.Discovery.Fetcher == "http" {
		httpFetcher, err := fetcher.NewHTTPFetcher(cfg, logger)
		if err != nil {
			return fmt.Errorf("create fetcher: %w", err)
		}
		defer httpFetcher.Close()
		eng.SetFetcher(httpFetcher)
	}

	// Seeds are filtered before the browser is launched.
	var seedsAdded int
	for _, rawURL := range seeds {
		kind := engine.InferKind(rawURL)
		if forceProducts {
			kind = types.KindProduct
		}
		if err := eng.AddSeed(rawURL, kind); err != nil {
			logger.Warn("seed skipped", "url", rawURL, "reason", err)
			continue
		}
		seedsAdded++
	}
	if seedsAdded == 0 {
		runLedger.Record("run_aborted", "no schedulable seeds", map[string]any{"seeds": len(seeds)})
		return fmt.Errorf("%w: pass URLs as arguments or set engine.seeds", types.ErrNoSeeds)
	}

	pool, err := fetcher.NewBrowserPool(cfg, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("browser close failed", "error", err)
		}
	}()
	eng.SetPagePool(pool)

	logger.Info("starting crawl",
		"seeds", seedsAdded,
		"concurrency", cfg.Engine.Concurrency,
		"mode", cfg.Storage.Mode,
		"output", output,
		"format", cfg.Storage.Type,
		"ledger", runLedger.Path(),
	)

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Info("received signal, shutting down...", "signal", sig)
		eng.Stop()
	}()

	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.Wait()

	if err := persister.Fatal(); err != nil {
		return fmt.Errorf("persistence halted: %w", err)
	}
	return nil
}

// printSummary writes the human-readable run summary to stdout.
func printSummary(s ledger.Summary, output, ledgerFile string) {
	elapsed := time.Duration(s.ElapsedSeconds * float64(time.Second)).Round(time.Millisecond)

	switch {
	case s.Terminated:
		fmt.Printf("\n⚠️  Crawl interrupted after %s\n", elapsed)
	case s.SinkFatal:
		fmt.Printf("\n❌ Crawl finished in %s, persistence halted\n", elapsed)
	default:
		fmt.Printf("\n✅ Crawl complete in %s\n", elapsed)
	}
	fmt.Printf("   Products:  %d processed, %d failed, %d total (%.1f%% success)\n",
		s.Processed, s.Failed, s.Discovered, s.SuccessRate)
	fmt.Printf("   Skipped:   %d without a reviews region\n", s.Skipped)
	fmt.Printf("   Reviews:   %d written, %d records dropped\n", s.ReviewsWritten, s.RecordsDropped)
	fmt.Printf("   Output:    %s\n", output)
	fmt.Printf("   Ledger:    %s\n", ledgerFile)

	if s.Processed == 0 && s.Failed == 0 && !s.Terminated {
		fmt.Println("\n💡 No product pages were processed. Check the seed URLs, or try:")
		fmt.Println("     reviewgoat crawl --products <product-url>   treat seeds as product pages")
		fmt.Println("     reviewgoat probe --file page.html           test selectors on a saved page")
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ReviewGoat %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				fmt.Printf("⚠️  %v\n\n", err)
			}
			fmt.Printf("Engine:\n")
			fmt.Printf("  Concurrency:        %d\n", cfg.Engine.Concurrency)
			fmt.Printf("  Navigation Timeout: %s\n", cfg.Engine.NavigationTimeout)
			fmt.Printf("  Max Products:       %d\n", cfg.Engine.MaxProducts)
			fmt.Printf("  Max Reviews:        %d per product\n", cfg.Engine.MaxReviewsPerProduct)
			fmt.Printf("  Max Category Pages: %d\n", cfg.Engine.MaxCategoryPages)
			fmt.Printf("  Allowed Domains:    %s\n", strings.Join(cfg.Engine.AllowedDomains, ", "))
			fmt.Printf("  Seeds:              %d configured\n", len(cfg.Engine.Seeds))
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Headless:           %v\n", cfg.Browser.Headless)
			fmt.Printf("  Stealth:            %v\n", cfg.Browser.Stealth)
			fmt.Printf("  Window Size:        %s\n", cfg.Browser.WindowSize)
			fmt.Printf("  Discovery:          %s\n", cfg.Discovery.Fetcher)
			fmt.Printf("\nScroll:\n")
			fmt.Printf("  Max Attempts:       %d\n", cfg.Scroll.MaxAttempts)
			fmt.Printf("  Settle Interval:    %s\n", cfg.Scroll.SettleInterval)
			fmt.Printf("  Budget:             %s\n", cfg.Scroll.Budget)
			fmt.Printf("  Max Cycles:         %d\n", cfg.Scroll.MaxCycles)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:               %s\n", cfg.Storage.Type)
			fmt.Printf("  Mode:               %s\n", cfg.Storage.Mode)
			fmt.Printf("  Output Path:        %s\n", cfg.Storage.OutputPath)
			fmt.Printf("  Required Fields:    %s\n", strings.Join(cfg.Storage.RequiredFields, ", "))
			fmt.Printf("  Ledger:             %s\n", cfg.Ledger.Path)
			fmt.Printf("\nPublisher:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Publisher.Enabled)
			fmt.Printf("  Stream:             %s @ %s\n", cfg.Publisher.Stream, cfg.Publisher.Addr)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:               %d\n", cfg.Metrics.Port)
			return nil
		},
	}
	return cmd
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if outputPath != "" {
		cfg.Storage.OutputPath = outputPath
	}
	if outputType != "" {
		cfg.Storage.Type = strings.ToLower(outputType)
	}
	if concurrent > 0 {
		cfg.Engine.Concurrency = concurrent
	}
	if mode != "" {
		cfg.Storage.Mode = strings.ToLower(mode)
	}
	if maxProducts >= 0 {
		cfg.Engine.MaxProducts = maxProducts
	}
	if maxReviews >= 0 {
		cfg.Engine.MaxReviewsPerProduct = maxReviews
	}
	if httpDiscovery {
		cfg.Discovery.Fetcher = "http"
	}
	if headful {
		cfg.Browser.Headless = false
	}
	if ledgerPath != "" {
		cfg.Ledger.Path = ledgerPath
	}
	if allowedDomains != "" {
		var domains []string
		for _, d := range strings.Split(allowedDomains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				domains = append(domains, d)
			}
		}
		cfg.Engine.AllowedDomains = domains
	}
}

// quietLogger is used by commands that report on stdout.
func quietLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
