// Package profile builds viewing statistics for one user from their watched
// listing, reusing the fetcher and the cache store of the crawl.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-titles/cache"
	"github.com/aluiziolira/go-scrape-titles/config"
	"github.com/aluiziolira/go-scrape-titles/models"
	"github.com/aluiziolira/go-scrape-titles/parser"
	"github.com/aluiziolira/go-scrape-titles/scraper"
	"github.com/aluiziolira/go-scrape-titles/stats"
)

// ErrEmptyUsername rejects a harvest without a user.
var ErrEmptyUsername = errors.New("profile: empty username")

// Options selects which per-film data types are loaded.
type Options struct {
	BasicInfo bool
	Genres    bool
	Cast      bool
	Ratings   bool
}

// AllData requests every data type.
func AllData() Options {
	return Options{BasicInfo: true, Genres: true, Cast: true, Ratings: true}
}

// Report is the aggregated view of a user's watched listing.
type Report struct {
	Username          string                `json:"username"`
	Pages             int                   `json:"pages"`
	TotalFilms        int                   `json:"total_films"`
	ProcessedFilms    int                   `json:"processed_films"`
	RatedFilms        int                   `json:"rated_films"`
	AverageRating     float64               `json:"average_rating"`
	RatingPercentages map[string]float64    `json:"rating_percentages,omitempty"`
	TopGenres         []stats.Entry[string] `json:"top_genres,omitempty"`
	TopYears          []stats.Entry[int]    `json:"top_years"`
	TopDirectors      []stats.Entry[string] `json:"top_directors"`
	Decades           []stats.Entry[string] `json:"decades"`
	MonthlyWatching   []stats.Entry[string] `json:"monthly_watching"`
	FilmsPerYear      float64               `json:"films_per_year"`
	Films             []models.Film         `json:"-"`
}

// Fetcher is the subset of *scraper.Fetcher the harvester needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Response, error)
	FetchAll(ctx context.Context, urls []string) []scraper.Result
}

// Cache is the subset of *cache.Store the harvester needs.
type Cache interface {
	GetJSON(id, dataType string, v any) bool
	SetJSON(id, dataType string, v any) error
}

// Option customises a Harvester.
type Option func(*Harvester)

// WithCache reads and records per-film data in store.
func WithCache(store Cache) Option {
	return func(h *Harvester) { h.cache = store }
}

// WithMetrics counts cache lookups.
func WithMetrics(m *scraper.Metrics) Option {
	return func(h *Harvester) { h.metrics = m }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harvester) { h.logger = l }
}

// WithPause replaces the politeness delay applied after each listing page.
func WithPause(pause func(ctx context.Context) error) Option {
	return func(h *Harvester) { h.pause = pause }
}

// Harvester collects per-user statistics.
type Harvester struct {
	baseURL  string
	maxPages int
	workers  int
	fetcher  Fetcher
	cache    Cache
	metrics  *scraper.Metrics
	logger   *slog.Logger
	pause    func(ctx context.Context) error
}

// New builds a harvester against cfg.ProfileBaseURL.
func New(cfg *config.Config, fetcher Fetcher, opts ...Option) *Harvester {
	h := &Harvester{
		baseURL:  strings.TrimSuffix(cfg.ProfileBaseURL, "/"),
		maxPages: cfg.ProfileMaxPages,
		workers:  cfg.Concurrency,
		fetcher:  fetcher,
		logger:   slog.Default(),
		pause: func(ctx context.Context) error {
			return scraper.Pause(ctx, cfg.PolitenessMin, cfg.PolitenessMax)
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest walks every page of username's watched listing and aggregates the
// requested data. Only a failure to load the first page is an error; later
// pages and per-film requests that fail are logged and skipped.
func (h *Harvester) Harvest(ctx context.Context, username string, opts Options) (*Report, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	listingURL := fmt.Sprintf("%s/%s/films/", h.baseURL, url.PathEscape(username))

	resp, err := h.fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing for %s: %w", username, err)
	}
	first, err := parser.ParseListing(resp.Body)
	if err != nil {
		return nil, err
	}

	pages := first.TotalPages
	if h.maxPages > 0 && pages > h.maxPages {
		pages = h.maxPages
	}

	agg := stats.NewAggregator()
	report := &Report{Username: username, Pages: pages}
	for page := 1; page <= pages; page++ {
		listing := first
		if page > 1 {
			if err := h.pause(ctx); err != nil {
				return nil, err
			}
			pageURL := fmt.Sprintf("%spage/%d/", listingURL, page)
			resp, err := h.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				h.logger.Warn("listing page failed", slog.Int("page", page), slog.Any("error", err))
				continue
			}
			if listing, err = parser.ParseListing(resp.Body); err != nil {
				h.logger.Warn("listing page undecodable", slog.Int("page", page), slog.Any("error", err))
				continue
			}
		}

		report.TotalFilms += listing.Total
		films, err := h.films(ctx, listing.Entries, opts)
		if err != nil {
			return nil, err
		}
		for i, f := range films {
			rated := opts.Ratings && listing.Entries[i].Rated
			if !opts.Ratings {
				f.UserRating = 0
			}
			agg.AddFilm(f, rated)
			report.Films = append(report.Films, f)
		}
		report.ProcessedFilms += len(films)
		h.logger.Info("listing page processed",
			slog.String("user", username),
			slog.Int("page", page),
			slog.Int("pages", pages),
			slog.Int("films", len(films)),
		)
	}

	h.summarise(report, agg.Snapshot(), opts)
	return report, nil
}

// films loads the entries of one listing page concurrently, keeping page order.
func (h *Harvester) films(ctx context.Context, entries []parser.ListingEntry, opts Options) ([]models.Film, error) {
	out := make([]models.Film, len(entries))
	var g errgroup.Group
	if h.workers > 0 {
		g.SetLimit(h.workers)
	}
	for i, e := range entries {
		g.Go(func() error {
			out[i] = h.film(ctx, e, opts)
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}

type request struct {
	dataType string
	url      string
}

// film assembles one film from the cache and, for the misses, a single batch
// of requests.
func (h *Harvester) film(ctx context.Context, e parser.ListingEntry, opts Options) models.Film {
	f := models.Film{
		ID:         e.FilmID,
		Title:      models.UnknownText,
		Director:   models.UnknownText,
		UserRating: e.Rating,
		WatchedAt:  e.WatchedAt,
	}
	filmURL := fmt.Sprintf("%s/film/%s/", h.baseURL, e.FilmID)

	var missing []request
	if opts.BasicInfo {
		var basic models.Film
		if h.lookup(e.FilmID, cache.TypeBasicInfo, &basic) {
			mergeBasic(&f, basic)
		} else {
			missing = append(missing, request{cache.TypeBasicInfo, h.baseURL + e.DetailsEndpoint})
		}
	}
	if opts.Genres {
		if !h.lookup(e.FilmID, cache.TypeGenres, &f.Genres) {
			missing = append(missing, request{cache.TypeGenres, filmURL + "genres/"})
		}
	}
	if opts.Cast {
		if !h.lookup(e.FilmID, cache.TypeCast, &f.Cast) {
			missing = append(missing, request{cache.TypeCast, filmURL + "crew/"})
		}
	}
	if len(missing) == 0 {
		return f
	}

	urls := make([]string, len(missing))
	for i, r := range missing {
		urls[i] = r.url
	}
	for i, res := range h.fetcher.FetchAll(ctx, urls) {
		if res.Err != nil {
			continue
		}
		body := res.Response.Body
		switch missing[i].dataType {
		case cache.TypeBasicInfo:
			basic, err := parser.ExtractFilmInfo(e.FilmID, body)
			if err != nil {
				h.logger.Warn("film details undecodable", slog.String("film", e.FilmID), slog.Any("error", err))
				continue
			}
			mergeBasic(&f, basic)
			h.store(e.FilmID, cache.TypeBasicInfo, basic)
		case cache.TypeGenres:
			if genres := parser.ExtractGenres(body); len(genres) > 0 {
				f.Genres = genres
				h.store(e.FilmID, cache.TypeGenres, genres)
			}
		case cache.TypeCast:
			if cast := parser.ExtractCast(body); len(cast) > 0 {
				f.Cast = cast
				h.store(e.FilmID, cache.TypeCast, cast)
			}
		}
	}
	return f
}

func mergeBasic(dst *models.Film, basic models.Film) {
	dst.Title = basic.Title
	dst.Year = basic.Year
	dst.Director = basic.Director
	dst.Runtime = basic.Runtime
	dst.Overview = basic.Overview
	dst.PosterURL = basic.PosterURL
}

func (h *Harvester) lookup(id, dataType string, v any) bool {
	if h.cache == nil {
		return false
	}
	hit := h.cache.GetJSON(id, dataType, v)
	h.metrics.IncCacheLookup(dataType, hit)
	return hit
}

func (h *Harvester) store(id, dataType string, v any) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetJSON(id, dataType, v); err != nil {
		h.logger.Warn("cache write dropped", slog.String("film", id), slog.String("data_type", dataType), slog.Any("error", err))
	}
}

func (h *Harvester) summarise(r *Report, s stats.Summary, opts Options) {
	r.TopYears = s.Years.Top(10)
	r.TopDirectors = s.Directors.Top(10)
	r.MonthlyWatching = s.Months.Top(12)
	for _, e := range s.Decades.Top(0) {
		r.Decades = append(r.Decades, stats.Entry[string]{Key: fmt.Sprintf("%ds", e.Key), Count: e.Count})
	}
	if opts.Genres {
		r.TopGenres = s.Genres.Top(10)
	}
	r.FilmsPerYear = s.PerYear(r.TotalFilms)
	if opts.Ratings {
		r.RatedFilms = s.Rated
		r.AverageRating = s.AverageRating()
		r.RatingPercentages = make(map[string]float64)
		for rating, pct := range s.RatingPercentages() {
			r.RatingPercentages[fmt.Sprintf("%.1f", rating)] = pct
		}
	}
}
