package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-titles/config"
	"github.com/aluiziolira/go-scrape-titles/models"
	"github.com/aluiziolira/go-scrape-titles/pipeline"
	"github.com/aluiziolira/go-scrape-titles/profile"
)

func newProfileCmd(a *app) *cobra.Command {
	d := config.DefaultConfig()
	opts := profile.Options{BasicInfo: true}
	var filmsOut string

	cmd := &cobra.Command{
		Use:   "profile <username>",
		Short: "Print viewing statistics for one user's watched films as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd.Context(), a, args[0], opts, filmsOut)
		},
	}

	f := cmd.Flags()
	f.Int("profile-max-pages", d.ProfileMaxPages, "maximum listing pages (0 = all)")
	f.BoolVar(&opts.Genres, "genres", true, "load genres")
	f.BoolVar(&opts.Cast, "cast", false, "load cast")
	f.BoolVar(&opts.Ratings, "ratings", true, "include the user's ratings")
	f.StringVar(&filmsOut, "films-out", "", "write loaded films as JSON lines")
	return cmd
}

func runProfile(ctx context.Context, a *app, username string, opts profile.Options, filmsOut string) error {
	h := profile.New(a.cfg, a.fetcher,
		profile.WithCache(a.store),
		profile.WithMetrics(a.fetcher.Metrics),
	)
	report, err := h.Harvest(ctx, username, opts)
	if err != nil {
		return err
	}

	if filmsOut != "" {
		if err := writeFilms(filmsOut, report.Films); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeFilms(path string, films []models.Film) error {
	w, err := pipeline.NewJSONWriter[models.Film](path)
	if err != nil {
		return fmt.Errorf("create films writer: %w", err)
	}
	if err := w.Write(films); err != nil {
		w.Close()
		return fmt.Errorf("write films: %w", err)
	}
	return w.Close()
}
