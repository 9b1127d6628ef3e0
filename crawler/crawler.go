// Package crawler runs the breadth-first title harvest: a FIFO frontier of
// (id, depth) pairs, a visited set, and a result map that is periodically
// merged into the snapshot file.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-titles/cache"
	"github.com/aluiziolira/go-scrape-titles/config"
	"github.com/aluiziolira/go-scrape-titles/models"
	"github.com/aluiziolira/go-scrape-titles/parser"
	"github.com/aluiziolira/go-scrape-titles/pipeline"
	"github.com/aluiziolira/go-scrape-titles/scraper"
	"github.com/aluiziolira/go-scrape-titles/stats"
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("crawler: already run")

// State is the crawl lifecycle position.
type State int

const (
	Idle State = iota
	Running
	Completed
	Interrupted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	outcomeSuccess   = "success"
	outcomeFailed    = "failed"
	outcomeFiltered  = "filtered"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
)

// Fetcher is the subset of *scraper.Fetcher the crawler needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Response, error)
	FetchAll(ctx context.Context, urls []string) []scraper.Result
}

// Cache is the subset of *cache.Store the crawler needs.
type Cache interface {
	GetJSON(id, dataType string, v any) bool
	SetJSON(id, dataType string, v any) error
}

// Option customises a Crawler.
type Option func(*Crawler)

// WithCache consults store before the network and records fetched results.
func WithCache(store Cache) Option {
	return func(c *Crawler) { c.cache = store }
}

// WithMetrics records outcomes, cache lookups and checkpoints.
func WithMetrics(m *scraper.Metrics) Option {
	return func(c *Crawler) { c.metrics = m }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// WithAggregator feeds accepted titles into agg instead of a private one.
func WithAggregator(agg *stats.Aggregator) Option {
	return func(c *Crawler) { c.agg = agg }
}

// WithPause replaces the politeness delay applied after network work.
func WithPause(pause func(ctx context.Context) error) Option {
	return func(c *Crawler) { c.pause = pause }
}

// WithRunID tags the report with the run identifier.
func WithRunID(id string) Option {
	return func(c *Crawler) { c.runID = id }
}

// Crawler owns one crawl run. Queue, visited set and results are touched only
// by the goroutine executing Run.
type Crawler struct {
	cfg      *config.Config
	criteria parser.Criteria
	fetcher  Fetcher
	cache    Cache
	metrics  *scraper.Metrics
	logger   *slog.Logger
	agg      *stats.Aggregator
	pause    func(ctx context.Context) error
	runID    string

	mu    sync.Mutex
	state State

	queue   Queue
	visited Visited
	results map[string]models.Title
	order   []string
	report  models.CrawlReport
}

// New builds an idle crawler.
func New(cfg *config.Config, fetcher Fetcher, opts ...Option) *Crawler {
	c := &Crawler{
		cfg: cfg,
		criteria: parser.Criteria{
			MinYear:   cfg.MinYear,
			MinRating: cfg.MinRating,
			MinVotes:  cfg.MinVotes,
		},
		fetcher: fetcher,
		logger:  slog.Default(),
		visited: make(Visited),
		results: make(map[string]models.Title),
		report:  models.CrawlReport{ByDepth: make(map[int]models.DepthOutcomes)},
	}
	c.pause = func(ctx context.Context) error {
		return scraper.Pause(ctx, cfg.PolitenessMin, cfg.PolitenessMax)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.agg == nil {
		c.agg = stats.NewAggregator()
	}
	return c
}

// State reports the lifecycle position. Safe to call from any goroutine.
func (c *Crawler) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Crawler) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Stats returns the aggregated statistics of accepted titles.
func (c *Crawler) Stats() stats.Summary {
	return c.agg.Snapshot()
}

// Run crawls from the configured seeds until the frontier is exhausted or ctx
// ends. Either way the results are merged into the snapshot before returning;
// the returned error reports a failed final flush. The item in progress when
// ctx ends is finished, and requests already issued run to their own timeout.
func (c *Crawler) Run(ctx context.Context) (models.CrawlReport, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return models.CrawlReport{}, ErrAlreadyRun
	}
	c.state = Running
	c.mu.Unlock()

	start := time.Now()
	for _, id := range c.cfg.Seeds {
		c.enqueue(id, 0)
	}
	c.logger.Info("crawl started",
		slog.Int("seeds", len(c.cfg.Seeds)),
		slog.Int("max_depth", c.cfg.MaxDepth),
		slog.Int("target", c.cfg.TargetCount),
	)

	work := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		item, ok := c.queue.Pop()
		if !ok {
			break
		}
		if c.process(work, item) {
			_ = c.pause(ctx)
		}
	}

	final := Completed
	if ctx.Err() != nil {
		final = Interrupted
		c.logger.Warn("crawl interrupted", slog.Int("pending", c.queue.Len()))
	}
	c.setState(final)

	err := c.checkpoint("final")
	c.report.State = final.String()
	c.report.RunID = c.runID
	c.report.Duration = time.Since(start)
	c.logSummary()
	return c.report, err
}

// process handles one frontier item and reports whether it touched the network.
func (c *Crawler) process(ctx context.Context, item models.FrontierItem) bool {
	id, depth := item.ID, item.Depth
	if c.visited.Has(id) {
		c.report.Skipped++
		c.metrics.IncOutcome(outcomeSkipped)
		return false
	}
	c.visited.Add(id)
	c.report.Processed++
	if depth > c.report.DepthReached {
		c.report.DepthReached = depth
	}

	expand := depth < c.cfg.MaxDepth
	var related []string
	relatedKnown := expand && c.lookup(id, cache.TypeRelated, &related)

	var (
		cand        models.Candidate
		relatedBody []byte
		network     bool
	)
	if !c.lookup(id, cache.TypeDetails, &cand) {
		network = true
		resp, aux, err := c.fetchDetails(ctx, id, expand && !relatedKnown)
		if err != nil {
			c.fail(id, depth, "fetch", err)
			return network
		}
		relatedBody = aux

		cand, err = parser.ExtractTitle(id, resp.Body, resp.ContentType)
		if !parser.Usable(cand) {
			if err == nil {
				err = errors.New("no fields extracted")
			}
			c.fail(id, depth, "extract", err)
			return network
		}
		if err != nil {
			c.logger.Warn("partial extraction", slog.String("id", id), slog.Any("error", err))
		}
		c.store(id, cache.TypeDetails, cand)
	}

	title, err := parser.Validate(cand, c.criteria)
	if err != nil {
		c.report.Filtered++
		c.metrics.IncOutcome(outcomeFiltered)
		c.fail(id, depth, "validate", err)
		return network
	}
	title.Depth = depth

	if _, dup := c.results[id]; dup {
		c.report.Duplicates++
		c.bump(depth, func(d *models.DepthOutcomes) { d.Duplicates++ })
		c.metrics.IncOutcome(outcomeDuplicate)
		return network
	}
	c.accept(title)

	if expand {
		if !relatedKnown {
			if relatedBody == nil {
				network = true
				resp, err := c.fetcher.Fetch(ctx, c.cfg.RelatedURL(id))
				if err != nil {
					c.logger.Warn("related fetch failed", slog.String("id", id), slog.Any("error", err))
				} else {
					relatedBody = resp.Body
				}
			}
			if relatedBody != nil {
				related = parser.ExtractRelated(id, relatedBody)
				c.store(id, cache.TypeRelated, related)
			}
		}
		for _, rid := range related {
			if !c.visited.Has(rid) {
				c.enqueue(rid, depth+1)
			}
		}
	}

	if n := len(c.order); c.cfg.CheckpointEvery > 0 && n%c.cfg.CheckpointEvery == 0 {
		_ = c.checkpoint("batch")
	}
	return network
}

// fetchDetails retrieves the details payload and, when withRelated is set, the
// related payload in the same bounded batch. aux is the related body, or nil if
// it was not requested or failed.
func (c *Crawler) fetchDetails(ctx context.Context, id string, withRelated bool) (*scraper.Response, []byte, error) {
	detailURL := c.cfg.DetailURL(id)
	urls := []string{detailURL}
	sameURL := c.cfg.RelatedURL(id) == detailURL
	if withRelated && !sameURL {
		urls = append(urls, c.cfg.RelatedURL(id))
	}

	results := c.fetcher.FetchAll(ctx, urls)
	if results[0].Err != nil {
		return nil, nil, results[0].Err
	}
	resp := results[0].Response

	var aux []byte
	switch {
	case withRelated && sameURL:
		aux = resp.Body
	case len(results) > 1 && results[1].Err == nil:
		aux = results[1].Response.Body
	case len(results) > 1:
		c.logger.Warn("related fetch failed", slog.String("id", id), slog.Any("error", results[1].Err))
	}
	return resp, aux, nil
}

func (c *Crawler) accept(t models.Title) {
	c.results[t.ID] = t
	c.order = append(c.order, t.ID)
	c.report.Successful++
	c.bump(t.Depth, func(d *models.DepthOutcomes) { d.Successful++ })
	c.metrics.IncOutcome(outcomeSuccess)
	c.agg.AddTitle(t)

	c.logger.Debug("title accepted",
		slog.String("id", t.ID),
		slog.String("title", t.Title),
		slog.Int("year", t.Year),
		slog.Int("depth", t.Depth),
	)
	if len(c.order) == c.cfg.TargetCount {
		c.logger.Info("target reached, continuing with remaining frontier",
			slog.Int("target", c.cfg.TargetCount),
			slog.Int("pending", c.queue.Len()),
		)
	}
}

func (c *Crawler) fail(id string, depth int, stage string, err error) {
	c.report.Failed++
	c.bump(depth, func(d *models.DepthOutcomes) { d.Failed++ })
	c.metrics.IncOutcome(outcomeFailed)

	var vErr *parser.ValidationError
	if errors.As(err, &vErr) {
		c.logger.Info("title rejected",
			slog.String("id", id),
			slog.String("field", vErr.Field),
			slog.String("reason", vErr.Reason),
		)
		return
	}
	c.logger.Warn("title failed",
		slog.String("id", id),
		slog.Int("depth", depth),
		slog.String("stage", stage),
		slog.Any("error", err),
	)
}

func (c *Crawler) bump(depth int, f func(*models.DepthOutcomes)) {
	d := c.report.ByDepth[depth]
	f(&d)
	c.report.ByDepth[depth] = d
}

func (c *Crawler) enqueue(id string, depth int) {
	c.queue.Push(models.FrontierItem{ID: id, Depth: depth})
	c.report.Found++
}

func (c *Crawler) lookup(id, dataType string, v any) bool {
	if c.cache == nil {
		return false
	}
	hit := c.cache.GetJSON(id, dataType, v)
	c.metrics.IncCacheLookup(dataType, hit)
	return hit
}

func (c *Crawler) store(id, dataType string, v any) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(id, dataType, v); err != nil {
		c.logger.Warn("cache write dropped", slog.String("id", id), slog.String("data_type", dataType), slog.Any("error", err))
	}
}

// Results returns accepted titles in acceptance order.
func (c *Crawler) Results() []models.Title {
	out := make([]models.Title, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.results[id])
	}
	return out
}

// checkpoint merges every accepted title into the snapshot file. A failure is
// logged and left for the next checkpoint, which rewrites the full result set.
func (c *Crawler) checkpoint(reason string) error {
	path := c.cfg.OutputPath()
	n, err := pipeline.Flush(path, c.Results())
	c.metrics.IncCheckpoint(err == nil)
	if err != nil {
		c.report.CheckpointErrors++
		c.logger.Error("checkpoint failed",
			slog.String("reason", reason),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return err
	}
	c.report.Checkpoints++
	c.report.SnapshotSize = n
	c.metrics.SetSnapshotSize(n)
	c.logger.Info("checkpoint written",
		slog.String("reason", reason),
		slog.Int("accepted", len(c.order)),
		slog.Int("snapshot", n),
		slog.Int("processed", c.report.Processed),
		slog.Int("pending", c.queue.Len()),
	)
	return nil
}

func (c *Crawler) logSummary() {
	r := c.report
	c.logger.Info("crawl finished",
		slog.String("state", r.State),
		slog.Int("found", r.Found),
		slog.Int("processed", r.Processed),
		slog.Int("successful", r.Successful),
		slog.Int("failed", r.Failed),
		slog.Int("filtered", r.Filtered),
		slog.Int("duplicates", r.Duplicates),
		slog.Int("skipped", r.Skipped),
		slog.Int("depth_reached", r.DepthReached),
		slog.Duration("duration", r.Duration),
	)

	for depth := 0; depth <= r.DepthReached; depth++ {
		d := r.ByDepth[depth]
		c.logger.Info("depth summary",
			slog.Int("depth", depth),
			slog.Int("successful", d.Successful),
			slog.Int("failed", d.Failed),
			slog.Int("duplicates", d.Duplicates),
		)
	}

	summary := c.agg.Snapshot()
	for _, e := range stats.SortedByKey(summary.Years) {
		c.logger.Info("year summary", slog.Int("year", e.Key), slog.Int("titles", e.Count))
	}
	for i, e := range summary.Genres.Top(10) {
		c.logger.Info("top genre", slog.Int("rank", i+1), slog.String("genre", e.Key), slog.Int("titles", e.Count))
	}
}
