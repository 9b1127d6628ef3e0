package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aluiziolira/go-scrape-titles/cache"
	"github.com/aluiziolira/go-scrape-titles/config"
	"github.com/aluiziolira/go-scrape-titles/scraper"
)

// app holds the services shared by every subcommand. It is filled in by the
// root command's PersistentPreRunE and released by run.
type app struct {
	cfg     *config.Config
	runID   string
	store   *cache.Store
	fetcher *scraper.Fetcher
	metrics *http.Server
}

func newRootCmd(a *app) *cobra.Command {
	var cfgFile string
	d := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest film titles and per-user viewing statistics.",
		Long: `harvester walks a title catalogue breadth-first from a seed list,
keeping only titles that pass the quality filters, and merges them into a
JSON snapshot. The profile subcommand summarises one user's watched films.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Flags(), cfgFile)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.BoolP("verbose", "v", false, "enable debug logging")
	pf.Int("concurrency", d.Concurrency, "concurrent requests")
	pf.Duration("timeout", d.Timeout, "per-request timeout")
	pf.Float64("rate-limit", d.RateLimit, "global requests per second (0 disables)")
	pf.Bool("respect-robots-txt", d.RespectRobotsTxt, "respect robots.txt directives")
	pf.String("cache-path", d.CachePath, "SQLite cache file")
	pf.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	cmd.AddCommand(newCrawlCmd(a), newProfileCmd(a))
	return cmd
}

func (a *app) open(flags *pflag.FlagSet, cfgFile string) error {
	cfg, err := config.Load(cfgFile, flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a.runID = uuid.NewString()
	logger, level := newLogger(cfg.Verbose)
	logger = logger.With(slog.String("run_id", a.runID))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureOutputDir(); err != nil {
		return err
	}
	a.cfg = cfg

	store, err := cache.Open(cfg.CachePath, cfg.CacheTTL(), cache.WithHotSize(cfg.CacheHotSize))
	if err != nil {
		return fmt.Errorf("open cache %s: %w", cfg.CachePath, err)
	}
	a.store = store
	if n, err := store.ClearExpired(); err != nil {
		slog.Warn("clearing expired cache entries", slog.Any("error", err))
	} else if n > 0 {
		slog.Info("expired cache entries removed", slog.Int("count", n))
	}

	if a.fetcher, err = scraper.NewFetcher(cfg); err != nil {
		return fmt.Errorf("initialise fetcher: %w", err)
	}
	a.metrics = startMetrics(cfg.MetricsAddr, a.fetcher.Metrics)
	return nil
}

// Close stops the metrics server and closes the cache. Safe on a partially
// opened app.
func (a *app) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("close cache", slog.Any("error", err))
		}
	}
}

func startMetrics(addr string, m *scraper.Metrics) *http.Server {
	if addr == "" || m == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}
