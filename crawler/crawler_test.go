package crawler

import (
	"context"
	"fmt"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-titles/cache"
	"github.com/aluiziolira/go-scrape-titles/config"
	"github.com/aluiziolira/go-scrape-titles/models"
	"github.com/aluiziolira/go-scrape-titles/pipeline"
	"github.com/aluiziolira/go-scrape-titles/scraper"
)

type fakeTitle struct {
	rating float64
	// rawRating, when set, replaces the encoded rating verbatim.
	rawRating string
	related   []string
}

// catalogue serves JSON details at /title/<id>/ and a "more like this" page at
// /title/<id>/related, counting requests per path.
type catalogue struct {
	mu     sync.Mutex
	titles map[string]fakeTitle
	calls  map[string]int
}

var (
	detailRE  = regexp.MustCompile(`/title/(tt\d+)/$`)
	relatedRE = regexp.MustCompile(`/title/(tt\d+)/related$`)
)

func newCatalogue(titles map[string]fakeTitle) *catalogue {
	return &catalogue{titles: titles, calls: make(map[string]int)}
}

func (c *catalogue) transport() *httpmock.MockTransport {
	t := httpmock.NewMockTransport()
	t.RegisterRegexpResponder("GET", detailRE, func(req *http.Request) (*http.Response, error) {
		id := detailRE.FindStringSubmatch(req.URL.Path)[1]
		ft, ok := c.hit(req.URL.Path, id)
		if !ok {
			return httpmock.NewStringResponse(http.StatusNotFound, ""), nil
		}
		rating := fmt.Sprintf("%g", ft.rating)
		if ft.rawRating != "" {
			rating = ft.rawRating
		}
		body := fmt.Sprintf(`{"name":"Title %s","releaseYear":2000,"director":"Someone","runtime":100,
"genres":["Drama"],"rating":%s,"num_votes":5000}`, id, rating)
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	})
	t.RegisterRegexpResponder("GET", relatedRE, func(req *http.Request) (*http.Response, error) {
		id := relatedRE.FindStringSubmatch(req.URL.Path)[1]
		ft, ok := c.hit(req.URL.Path, id)
		if !ok {
			return httpmock.NewStringResponse(http.StatusNotFound, ""), nil
		}
		var b strings.Builder
		b.WriteString(`<html><body><section data-testid="MoreLikeThis">`)
		for _, r := range ft.related {
			fmt.Fprintf(&b, `<a href="/title/%s/?ref_=sims">%s</a>`, r, r)
		}
		b.WriteString(`</section></body></html>`)
		resp := httpmock.NewStringResponse(http.StatusOK, b.String())
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})
	return t
}

func (c *catalogue) hit(path, id string) (fakeTitle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[path]++
	ft, ok := c.titles[id]
	return ft, ok
}

func (c *catalogue) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[path]
}

func (c *catalogue) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func testConfig(t *testing.T, seeds ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test"
	cfg.DetailPath = "/title/%s/"
	cfg.RelatedPath = "/title/%s/related"
	cfg.Seeds = seeds
	cfg.OutputDir = t.TempDir()
	cfg.MinYear = 1950
	cfg.MinRating = 6.0
	cfg.MinVotes = 1000
	cfg.Concurrency = 2
	return cfg
}

func newFetcher(t *testing.T, cfg *config.Config, rt http.RoundTripper) *scraper.Fetcher {
	t.Helper()
	f, err := scraper.NewFetcher(cfg)
	require.NoError(t, err)
	f.WithTransport(rt)
	return f
}

func noPause(context.Context) error { return nil }

func TestCrawlScenario(t *testing.T) {
	cat := newCatalogue(map[string]fakeTitle{
		"tt0000001": {rating: 8.0, related: []string{"tt0000002", "tt0000003"}},
		"tt0000002": {rating: 4.0},
		"tt0000003": {rating: 7.0, related: []string{"tt0000004"}},
		"tt0000004": {rating: 9.0},
	})
	cfg := testConfig(t, "tt0000001")
	cfg.MaxDepth = 1

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause))
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, c.State())
	assert.Equal(t, "completed", report.State)

	var got []string
	for _, title := range c.Results() {
		got = append(got, title.ID)
	}
	assert.Equal(t, []string{"tt0000001", "tt0000003"}, got)
	assert.Len(t, c.visited, 3)
	for _, id := range []string{"tt0000001", "tt0000002", "tt0000003"} {
		assert.True(t, c.visited.Has(id), id)
	}
	assert.Zero(t, c.queue.Len())

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Filtered)
	assert.Equal(t, 0, report.Duplicates)
	assert.Equal(t, 1, report.DepthReached)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, models.DepthOutcomes{Successful: 1}, report.ByDepth[0])
	assert.Equal(t, models.DepthOutcomes{Successful: 1, Failed: 1}, report.ByDepth[1])

	// depth-1 titles are not expanded
	assert.Zero(t, cat.count("/title/tt0000003/related"))
	assert.Zero(t, cat.count("/title/tt0000004/"))

	snapshot, err := pipeline.Load(cfg.OutputPath())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, 1, snapshot[1].Depth)

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestCrawlDepthNeverExceedsMax(t *testing.T) {
	titles := make(map[string]fakeTitle)
	for i := 1; i <= 10; i++ {
		titles[fmt.Sprintf("tt%07d", i)] = fakeTitle{
			rating:  7.0,
			related: []string{fmt.Sprintf("tt%07d", i+1)},
		}
	}
	cat := newCatalogue(titles)
	cfg := testConfig(t, "tt0000001")
	cfg.MaxDepth = 2

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause))
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	results := c.Results()
	require.Len(t, results, 3)
	for _, title := range results {
		assert.LessOrEqual(t, title.Depth, cfg.MaxDepth)
	}
	assert.Equal(t, 2, report.DepthReached)
}

func TestCrawlVisitsEachIDOnce(t *testing.T) {
	ids := []string{"tt0000001", "tt0000002", "tt0000003", "tt0000004"}
	titles := make(map[string]fakeTitle)
	for _, id := range ids {
		titles[id] = fakeTitle{rating: 7.0, related: ids}
	}
	cat := newCatalogue(titles)
	cfg := testConfig(t, "tt0000001", "tt0000002", "tt0000001")
	cfg.MaxDepth = 3

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause))
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	for _, id := range ids {
		assert.Equal(t, 1, cat.count("/title/"+id+"/"), id)
	}
	assert.Equal(t, len(ids), report.Processed)
	assert.Equal(t, report.Found-report.Processed, report.Skipped)
	assert.Len(t, c.Results(), len(ids))
}

func TestCrawlCheckpointsEveryBatch(t *testing.T) {
	const total = 120
	titles := make(map[string]fakeTitle)
	seeds := make([]string, total)
	for i := range seeds {
		seeds[i] = fmt.Sprintf("tt%07d", i+1)
		titles[seeds[i]] = fakeTitle{rating: 7.0}
	}
	cat := newCatalogue(titles)
	cfg := testConfig(t, seeds...)
	cfg.MaxDepth = 0
	cfg.CheckpointEvery = 50

	var (
		c       *Crawler
		checked []int
	)
	pause := func(context.Context) error {
		n := len(c.order)
		if n%cfg.CheckpointEvery != 0 {
			return nil
		}
		snapshot, err := pipeline.Load(cfg.OutputPath())
		require.NoError(t, err)
		require.Len(t, snapshot, n)
		for i, title := range snapshot {
			require.Equal(t, seeds[i], title.ID)
		}
		checked = append(checked, n)
		return nil
	}
	metrics := scraper.NewMetrics()
	c = New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(pause), WithMetrics(metrics))

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100}, checked)
	assert.Equal(t, 3, report.Checkpoints)
	assert.Equal(t, total, report.SnapshotSize)
	assert.Equal(t, float64(total), testutil.ToFloat64(metrics.SnapshotSize))

	snapshot, err := pipeline.Load(cfg.OutputPath())
	require.NoError(t, err)
	assert.Len(t, snapshot, total)
}

func TestCrawlMergesWithExistingSnapshot(t *testing.T) {
	cat := newCatalogue(map[string]fakeTitle{"tt0000002": {rating: 9.0}})
	cfg := testConfig(t, "tt0000002")
	cfg.MaxDepth = 0

	stale := models.Title{ID: "tt0000002", Title: "Stale", Year: 1990}
	kept := models.Title{ID: "tt0000001", Title: "Kept", Year: 1980}
	_, err := pipeline.Flush(cfg.OutputPath(), []models.Title{kept, stale})
	require.NoError(t, err)

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause))
	_, err = c.Run(context.Background())
	require.NoError(t, err)

	snapshot, err := pipeline.Load(cfg.OutputPath())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "Kept", snapshot[0].Title)
	assert.Equal(t, "Title tt0000002", snapshot[1].Title)
}

func TestCrawlInterrupt(t *testing.T) {
	titles := make(map[string]fakeTitle)
	seeds := make([]string, 10)
	for i := range seeds {
		seeds[i] = fmt.Sprintf("tt%07d", i+1)
		titles[seeds[i]] = fakeTitle{rating: 7.0}
	}
	cat := newCatalogue(titles)
	cfg := testConfig(t, seeds...)
	cfg.MaxDepth = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pauses := 0
	pause := func(ctx context.Context) error {
		pauses++
		if pauses == 3 {
			cancel()
		}
		return ctx.Err()
	}

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(pause))
	report, err := c.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, Interrupted, c.State())
	assert.Equal(t, "interrupted", report.State)
	assert.Equal(t, 3, report.Processed)

	snapshot, err := pipeline.Load(cfg.OutputPath())
	require.NoError(t, err)
	assert.Len(t, snapshot, 3)
}

func TestCrawlFetchFailureDoesNotStopLoop(t *testing.T) {
	cat := newCatalogue(map[string]fakeTitle{
		"tt0000002": {rating: 7.0},
	})
	cfg := testConfig(t, "tt0000001", "tt0000002")
	cfg.MaxDepth = 0

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause))
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Filtered)
	assert.Equal(t, 1, report.Successful)
}

func TestCrawlUsesCacheFirst(t *testing.T) {
	cat := newCatalogue(map[string]fakeTitle{
		"tt0000001": {rating: 8.0, related: []string{"tt0000002", "tt0000003"}},
		"tt0000002": {rating: 4.0},
		"tt0000003": {rating: 7.0},
	})
	cfg := testConfig(t, "tt0000001")
	cfg.MaxDepth = 1

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultTTL)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	first := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause), WithCache(store))
	_, err = first.Run(context.Background())
	require.NoError(t, err)
	calls := cat.total()
	require.Equal(t, 4, calls)

	pauses := 0
	second := New(cfg, newFetcher(t, cfg, cat.transport()), WithCache(store), WithPause(func(context.Context) error {
		pauses++
		return nil
	}))
	report, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, calls, cat.total(), "second run must not touch the network")
	assert.Zero(t, pauses)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Failed)
}

func TestCrawlReusesDetailPageForRelated(t *testing.T) {
	transport := httpmock.NewMockTransport()
	page := `<html><head><script type="application/ld+json">{"@type":"Movie","name":"Seed",
"datePublished":"1999-01-01","genre":"Drama","director":{"name":"D"},"duration":"PT1H40M",
"aggregateRating":{"ratingValue":8,"ratingCount":5000}}</script></head><body>
<section data-testid="MoreLikeThis"><a href="/title/tt0000009/">Other</a></section></body></html>`
	transport.RegisterResponder("GET", "http://example.test/title/tt0000001/", httpmock.NewStringResponder(http.StatusOK, page))
	transport.RegisterResponder("GET", "http://example.test/title/tt0000009/", httpmock.NewStringResponder(http.StatusNotFound, ""))

	cfg := testConfig(t, "tt0000001")
	cfg.RelatedPath = cfg.DetailPath
	cfg.MaxDepth = 1

	c := New(cfg, newFetcher(t, cfg, transport), WithPause(noPause))
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	info := transport.GetCallCountInfo()
	assert.Equal(t, 1, info["GET http://example.test/title/tt0000001/"])
	assert.Equal(t, 1, info["GET http://example.test/title/tt0000009/"])
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 2, report.Found)
}

func TestCrawlRetriesFailedCheckpoint(t *testing.T) {
	titles := make(map[string]fakeTitle)
	seeds := make([]string, 5)
	for i := range seeds {
		seeds[i] = fmt.Sprintf("tt%07d", i+1)
		titles[seeds[i]] = fakeTitle{rating: 7.0}
	}
	cat := newCatalogue(titles)
	cfg := testConfig(t, seeds...)
	cfg.MaxDepth = 0
	cfg.CheckpointEvery = 2

	// An undecodable snapshot on disk makes the first flush fail without
	// overwriting it.
	require.NoError(t, os.WriteFile(cfg.OutputPath(), []byte("{broken"), 0o644))

	var c *Crawler
	pause := func(context.Context) error {
		switch len(c.order) {
		case 2:
			if c.report.CheckpointErrors == 1 {
				require.NoError(t, os.Remove(cfg.OutputPath()))
			}
		case 4:
			snapshot, err := pipeline.Load(cfg.OutputPath())
			require.NoError(t, err)
			require.Len(t, snapshot, 4, "next checkpoint writes every accepted title")
		}
		return nil
	}
	c = New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(pause))

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CheckpointErrors)
	assert.Equal(t, 2, report.Checkpoints)
	assert.Equal(t, 5, report.SnapshotSize)

	snapshot, err := pipeline.Load(cfg.OutputPath())
	require.NoError(t, err)
	assert.Len(t, snapshot, 5)
}

func TestCrawlReportsFailedFinalFlush(t *testing.T) {
	cat := newCatalogue(map[string]fakeTitle{"tt0000001": {rating: 7.0}})
	cfg := testConfig(t, "tt0000001")
	cfg.MaxDepth = 0
	require.NoError(t, os.WriteFile(cfg.OutputPath(), []byte("{broken"), 0o644))

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause))
	report, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Completed, c.State())
	assert.Equal(t, 1, report.CheckpointErrors)
	assert.Equal(t, 1, report.Successful)
}

// failingCache misses every read and rejects every write.
type failingCache struct {
	mu     sync.Mutex
	writes int
}

func (f *failingCache) GetJSON(string, string, any) bool { return false }

func (f *failingCache) SetJSON(string, string, any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return &cache.PersistenceError{Op: "set", Err: errors.New("disk full")}
}

func TestCrawlDropsFailedCacheWrites(t *testing.T) {
	cat := newCatalogue(map[string]fakeTitle{
		"tt0000001": {rating: 8.0, related: []string{"tt0000002"}},
		"tt0000002": {rating: 7.0},
	})
	cfg := testConfig(t, "tt0000001")
	cfg.MaxDepth = 1

	store := &failingCache{}
	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause), WithCache(store))
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Positive(t, store.writes)
	assert.Equal(t, 2, report.Successful)
	assert.Zero(t, report.Failed)
	assert.Len(t, c.Results(), 2)
}

func TestCrawlRejectsNonFiniteRating(t *testing.T) {
	cat := newCatalogue(map[string]fakeTitle{
		"tt0000001": {rating: 8.0, related: []string{"tt0000002", "tt0000003"}},
		"tt0000002": {rawRating: `"NaN"`},
		"tt0000003": {rating: 7.5},
	})
	cfg := testConfig(t, "tt0000001")
	cfg.MaxDepth = 1

	c := New(cfg, newFetcher(t, cfg, cat.transport()), WithPause(noPause))
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Filtered)
	assert.Zero(t, report.CheckpointErrors)

	snapshot, err := pipeline.Load(cfg.OutputPath())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "tt0000001", snapshot[0].ID)
	assert.Equal(t, "tt0000003", snapshot[1].ID)
}
