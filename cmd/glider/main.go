package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/engine"
	"github.com/glider-scraper/glider/internal/export"
)

var (
	verbose bool
	logJSON bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "glider",
		Short: "Glider — config-driven web scraping engine",
		Long: `Glider runs declarative scrape jobs defined in JSON config files.

Features:
  • Pagination chains and parallel URL-list crawls
  • CSS, XPath, JSONPath and regex field extraction
  • Recursive detail-page expansion (follow_url)
  • Headless browser rendering with stealth patches
  • Crash recovery via checkpointing, deduplication via a Bloom seen-set
  • Rate limiting, proxy rotation, robots.txt compliance`,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func scrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape <config.json>",
		Short: "Run a scrape job from a config file",
		Args:  cobra.ExactArgs(1),
		RunE:  runScrape,
	}
}

func runScrape(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("job loaded",
		"name", cfg.Name,
		"mode", cfg.Mode,
		"browser", cfg.UseBrowser,
		"fields", len(cfg.Fields),
	)

	eng := engine.New(cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		eng.Stop()
	}()

	summary, err := eng.Run(context.Background())
	if err != nil && summary == nil {
		return fmt.Errorf("run failed: %w", err)
	}

	fmt.Printf("\nJob %q finished in %s\n", cfg.Name, summary.Duration.Round(time.Millisecond))
	fmt.Printf("  Pages:    %d scraped, %d failed, %d skipped, %d blocked\n",
		summary.PagesSucceeded, summary.PagesFailed, summary.PagesSkipped, summary.Blocked)
	fmt.Printf("  Entries:  %d emitted", summary.EntriesEmitted)
	if summary.SuspectedFPs > 0 {
		fmt.Printf(" (%d suspected duplicates preserved)", summary.SuspectedFPs)
	}
	fmt.Printf("\n  Stream:   %s\n", cfg.StreamPath())

	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func convertCmd() *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "convert <stream.jsonl>",
		Short: "Convert a JSONL stream to JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			out := output
			if out == "" {
				out = strings.TrimSuffix(in, filepath.Ext(in)) + "." + format
			}

			var count int
			var err error
			switch format {
			case "json":
				count, err = export.ToJSON(in, out)
			case "csv":
				count, err = export.ToCSV(in, out)
			default:
				return fmt.Errorf("unknown format %q (want json or csv)", format)
			}
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			fmt.Printf("Wrote %d records to %s\n", count, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: input with new extension)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Glider %s\n", config.Version)
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
