package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-titles/config"
	"github.com/aluiziolira/go-scrape-titles/crawler"
	"github.com/aluiziolira/go-scrape-titles/models"
	"github.com/aluiziolira/go-scrape-titles/pipeline"
	"github.com/aluiziolira/go-scrape-titles/scraper"
)

func newCrawlCmd(a *app) *cobra.Command {
	d := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvest titles breadth-first from the seed list.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), a)
		},
	}

	f := cmd.Flags()
	f.Int("max-depth", d.MaxDepth, "maximum BFS depth")
	f.Int("target-count", d.TargetCount, "record count to report as reached")
	f.String("output-dir", d.OutputDir, "snapshot directory")
	f.String("export-csv", "", "also export the merged snapshot to this CSV file")
	return cmd
}

func runCrawl(ctx context.Context, a *app) error {
	cfg := a.cfg
	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("seeds", len(cfg.Seeds)),
		slog.Int("max_depth", cfg.MaxDepth),
		slog.Int("concurrency", cfg.Concurrency),
		slog.String("output", cfg.OutputPath()),
	)

	c := crawler.New(cfg, a.fetcher,
		crawler.WithCache(a.store),
		crawler.WithMetrics(a.fetcher.Metrics),
		crawler.WithRunID(a.runID),
	)
	report, err := c.Run(ctx)
	if err != nil {
		err = fmt.Errorf("final snapshot flush: %w", err)
	}

	if cfg.ExportCSV != "" {
		n, exportErr := pipeline.ExportCSV(cfg.OutputPath(), cfg.ExportCSV)
		if exportErr != nil {
			err = errors.Join(err, fmt.Errorf("csv export %s: %w", cfg.ExportCSV, exportErr))
		} else {
			slog.Info("csv export written", slog.String("path", cfg.ExportCSV), slog.Int("rows", n))
		}
	}

	printSummary(report, a.fetcher.Stats(), cfg.OutputPath())
	return err
}

func printSummary(r models.CrawlReport, fs scraper.FetchStats, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Crawl %s\n", r.State)

	fmt.Printf("  Found:         %d\n", r.Found)
	fmt.Printf("  Processed:     %d\n", r.Processed)
	fmt.Printf("  Accepted:      %d\n", r.Successful)
	fmt.Printf("  Failed:        %d (filtered %d)\n", r.Failed, r.Filtered)
	fmt.Printf("  Duplicates:    %d\n", r.Duplicates)
	fmt.Printf("  Depth reached: %d\n", r.DepthReached)
	successRate := 0.0
	if fs.Requests > 0 {
		successRate = float64(fs.Requests-fs.Errors) / float64(fs.Requests) * 100
	}
	fmt.Printf("  Requests:      %d (%.2f%% ok)\n", fs.Requests, successRate)
	if len(fs.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", fs.ErrorsByType)
	}
	fmt.Printf("  Checkpoints:   %d (%d failed)\n", r.Checkpoints, r.CheckpointErrors)
	fmt.Printf("  Duration:      %v\n", r.Duration.Round(time.Millisecond))
	fmt.Printf("  Snapshot:      %s (%d records)\n", outputFile, r.SnapshotSize)
	fmt.Println(separator)
}
