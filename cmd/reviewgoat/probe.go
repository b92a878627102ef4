package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/extract"
	"github.com/IshaanNene/reviewgoat/internal/review"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

// fieldStats counts selector strategy outcomes for one field.
type fieldStats struct {
	Hits   int
	Misses int
}

// probeCmd creates the "probe" subcommand, which runs product extraction
// against a saved HTML page without a browser.
func probeCmd() *cobra.Command {
	var (
		file    string
		pageURL string
		explain bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Test selectors against a saved product page",
		Long: `Run product and review extraction against an HTML file saved from a browser
and print the resulting product record as JSON. Use --explain to see which
fields fell through their selector chains.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open page: %w", err)
			}
			defer f.Close()

			if pageURL == "" {
				pageURL = file
			}
			row, stats, err := probePage(cfg, f, pageURL, quietLogger())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(row); err != nil {
				return err
			}
			if explain {
				printStats(os.Stderr, stats)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "saved HTML file of a product page")
	cmd.Flags().StringVar(&pageURL, "url", "", "URL the page was saved from, used for the product ID")
	cmd.Flags().BoolVar(&explain, "explain", false, "print per-field strategy hits and misses to stderr")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// probePage extracts the product and all of its reviews from r.
func probePage(cfg *config.Config, r io.Reader, pageURL string, logger *slog.Logger) (types.ProductRow, map[string]*fieldStats, error) {
	root, err := extract.NewDocument(r)
	if err != nil {
		return types.ProductRow{}, nil, err
	}

	stats := make(map[string]*fieldStats)
	resolver := extract.NewResolver(logger, nil)
	resolver.OnAttempt(func(field string, hit bool) {
		s, ok := stats[field]
		if !ok {
			s = &fieldStats{}
			stats[field] = s
		}
		if hit {
			s.Hits++
		} else {
			s.Misses++
		}
	})

	products := review.NewProductExtractor(cfg.Selectors.Product, resolver, logger)
	builder := review.NewBuilder(cfg.Selectors.Review, resolver, nil, logger)

	product := products.Extract(root, pageURL, time.Now())
	nodes := products.ReviewNodes(root)
	if limit := cfg.Engine.MaxReviewsPerProduct; limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}

	reviews := make([]types.ReviewRecord, 0, len(nodes))
	for i, node := range nodes {
		reviews = append(reviews, builder.Build(node, product.ID, i+1))
	}
	return types.ProductRow{Product: product, Reviews: reviews}, stats, nil
}

func printStats(w io.Writer, stats map[string]*fieldStats) {
	fields := make([]string, 0, len(stats))
	for f := range stats {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	fmt.Fprintf(w, "\n%-24s %6s %6s\n", "FIELD", "HITS", "MISSES")
	for _, f := range fields {
		fmt.Fprintf(w, "%-24s %6d %6d\n", f, stats[f].Hits, stats[f].Misses)
	}
}
