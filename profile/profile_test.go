package profile

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-titles/cache"
	"github.com/aluiziolira/go-scrape-titles/config"
	"github.com/aluiziolira/go-scrape-titles/scraper"
	"github.com/aluiziolira/go-scrape-titles/stats"
)

const base = "http://films.test"

const pageOne = `<html><body><ul>
<li class="poster-container">
  <div class="film-poster" data-details-endpoint="/film/heat-1995/json/"></div>
  <time datetime="2024-03-05T20:00:00Z"></time>
  <span class="rating">★★★★½</span>
</li>
<li class="poster-container">
  <div class="film-poster" data-details-endpoint="/film/alien/json/"></div>
  <time datetime="2024-03-20"></time>
  <span class="rating">★★★</span>
</li>
<li class="poster-container"><div class="film-poster"></div></li>
</ul>
<div class="paginate-pages"><a>1</a><a>2</a></div>
</body></html>`

const pageTwo = `<html><body><ul>
<li class="poster-container">
  <div class="film-poster" data-details-endpoint="/film/thief/json/"></div>
  <time datetime="2024-04-02"></time>
</li>
</ul></body></html>`

func genresPage(genres ...string) string {
	out := `<html><body><div id="tab-genres"><p>`
	for _, g := range genres {
		out += `<a href="/films/genre/` + g + `/">` + g + `</a>`
	}
	return out + `</p></div></body></html>`
}

const crewPage = `<html><body><div id="tab-cast">
<div class="cast-member"><span class="name">Al Pacino</span><span class="role">Vincent</span></div>
</div></body></html>`

func newMockTransport() *httpmock.MockTransport {
	t := httpmock.NewMockTransport()
	t.RegisterResponder("GET", base+"/cinephile/films/", httpmock.NewStringResponder(http.StatusOK, pageOne))
	t.RegisterResponder("GET", base+"/cinephile/films/page/2/", httpmock.NewStringResponder(http.StatusOK, pageTwo))

	t.RegisterResponder("GET", base+"/film/heat-1995/json/", httpmock.NewStringResponder(http.StatusOK,
		`{"name":"Heat","releaseYear":1995,"director":"Michael Mann","runtime":170}`))
	t.RegisterResponder("GET", base+"/film/alien/json/", httpmock.NewStringResponder(http.StatusOK,
		`{"name":"Alien","releaseYear":1979,"director":"Ridley Scott","runtime":117}`))
	t.RegisterResponder("GET", base+"/film/thief/json/", httpmock.NewStringResponder(http.StatusOK,
		`{"name":"Thief","releaseYear":1981,"director":"Michael Mann","runtime":123}`))

	t.RegisterResponder("GET", base+"/film/heat-1995/genres/", httpmock.NewStringResponder(http.StatusOK, genresPage("Crime", "Drama")))
	t.RegisterResponder("GET", base+"/film/alien/genres/", httpmock.NewStringResponder(http.StatusOK, genresPage("Horror")))
	t.RegisterResponder("GET", base+"/film/thief/genres/", httpmock.NewStringResponder(http.StatusOK, genresPage("Crime")))

	t.RegisterResponder("GET", base+"/film/heat-1995/crew/", httpmock.NewStringResponder(http.StatusOK, crewPage))
	t.RegisterResponder("GET", base+"/film/alien/crew/", httpmock.NewStringResponder(http.StatusNotFound, ""))
	t.RegisterResponder("GET", base+"/film/thief/crew/", httpmock.NewStringResponder(http.StatusNotFound, ""))
	return t
}

func newHarvester(t *testing.T, rt http.RoundTripper, opts ...Option) *Harvester {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ProfileBaseURL = base
	cfg.Concurrency = 3

	f, err := scraper.NewFetcher(cfg)
	require.NoError(t, err)
	f.WithTransport(rt)

	opts = append([]Option{WithPause(func(context.Context) error { return nil })}, opts...)
	return New(cfg, f, opts...)
}

func TestHarvestAllData(t *testing.T) {
	h := newHarvester(t, newMockTransport())

	report, err := h.Harvest(context.Background(), "cinephile", AllData())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 4, report.TotalFilms)
	assert.Equal(t, 3, report.ProcessedFilms)
	assert.Equal(t, 2, report.RatedFilms)
	assert.Equal(t, 3.75, report.AverageRating)
	assert.Equal(t, map[string]float64{"4.5": 50, "3.0": 50}, report.RatingPercentages)

	assert.Equal(t, []stats.Entry[string]{{Key: "Crime", Count: 2}, {Key: "Drama", Count: 1}, {Key: "Horror", Count: 1}}, report.TopGenres)
	assert.Equal(t, []stats.Entry[string]{{Key: "Michael Mann", Count: 2}, {Key: "Ridley Scott", Count: 1}}, report.TopDirectors)
	assert.Equal(t, []stats.Entry[string]{{Key: "1990s", Count: 1}, {Key: "1970s", Count: 1}, {Key: "1980s", Count: 1}}, report.Decades)
	assert.Equal(t, []stats.Entry[string]{{Key: "2024-03", Count: 2}, {Key: "2024-04", Count: 1}}, report.MonthlyWatching)
	assert.InDelta(t, 1.33, report.FilmsPerYear, 0.001)

	require.Len(t, report.Films, 3)
	heat := report.Films[0]
	assert.Equal(t, "Heat", heat.Title)
	assert.Equal(t, "Al Pacino", heat.Cast[0].Name)
	assert.Empty(t, report.Films[1].Cast)
}

func TestHarvestOptionsLimitRequests(t *testing.T) {
	transport := newMockTransport()
	h := newHarvester(t, transport)

	report, err := h.Harvest(context.Background(), "cinephile", Options{BasicInfo: true})
	require.NoError(t, err)

	info := transport.GetCallCountInfo()
	assert.Zero(t, info["GET "+base+"/film/heat-1995/genres/"])
	assert.Zero(t, info["GET "+base+"/film/heat-1995/crew/"])
	assert.Nil(t, report.TopGenres)
	assert.Nil(t, report.RatingPercentages)
	assert.Zero(t, report.AverageRating)
	assert.Len(t, report.TopYears, 3)
}

func TestHarvestReusesCache(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultTTL)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	transport := newMockTransport()
	h := newHarvester(t, transport, WithCache(store))
	_, err = h.Harvest(context.Background(), "cinephile", AllData())
	require.NoError(t, err)
	transport.ZeroCallCounters()

	report, err := h.Harvest(context.Background(), "cinephile", Options{BasicInfo: true, Genres: true})
	require.NoError(t, err)

	info := transport.GetCallCountInfo()
	assert.Equal(t, 1, info["GET "+base+"/cinephile/films/"])
	assert.Zero(t, info["GET "+base+"/film/heat-1995/json/"])
	assert.Zero(t, info["GET "+base+"/film/alien/genres/"])
	assert.Equal(t, "Alien", report.Films[1].Title)
	assert.Equal(t, []string{"Horror"}, report.Films[1].Genres)
}

func TestHarvestMaxPages(t *testing.T) {
	transport := newMockTransport()
	cfg := config.DefaultConfig()
	cfg.ProfileBaseURL = base
	cfg.ProfileMaxPages = 1
	f, err := scraper.NewFetcher(cfg)
	require.NoError(t, err)
	f.WithTransport(transport)

	report, err := New(cfg, f).Harvest(context.Background(), "cinephile", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 2, report.ProcessedFilms)
	assert.Zero(t, transport.GetCallCountInfo()["GET "+base+"/cinephile/films/page/2/"])
}

func TestHarvestErrors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", base+"/nobody/films/", httpmock.NewStringResponder(http.StatusNotFound, ""))
	h := newHarvester(t, transport)

	_, err := h.Harvest(context.Background(), "  ", AllData())
	assert.ErrorIs(t, err, ErrEmptyUsername)

	_, err = h.Harvest(context.Background(), "nobody", AllData())
	var netErr *scraper.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.Status)
}
