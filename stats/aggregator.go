package stats

import (
	"math"
	"sync"

	"github.com/aluiziolira/go-scrape-titles/models"
)

// Aggregator accumulates counters over accepted titles or watched films.
type Aggregator struct {
	mu sync.Mutex

	items     int
	years     *Counter[int]
	decades   *Counter[int]
	genres    *Counter[string]
	directors *Counter[string]
	depths    *Counter[int]
	months    *Counter[string]
	ratings   *Counter[float64]

	ratingSum float64
	rated     int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		years:     NewCounter[int](),
		decades:   NewCounter[int](),
		genres:    NewCounter[string](),
		directors: NewCounter[string](),
		depths:    NewCounter[int](),
		months:    NewCounter[string](),
		ratings:   NewCounter[float64](),
	}
}

// AddTitle records an accepted crawl record.
func (a *Aggregator) AddTitle(t models.Title) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items++
	a.addYear(t.Year)
	a.addDirector(t.Director)
	for _, g := range t.Genres {
		a.genres.Add(g)
	}
	a.depths.Add(t.Depth)
	if t.Rating > 0 {
		a.addRating(t.Rating)
	}
}

// AddFilm records one watched film. rated reports whether the user rated it.
func (a *Aggregator) AddFilm(f models.Film, rated bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items++
	a.addYear(f.Year)
	a.addDirector(f.Director)
	for _, g := range f.Genres {
		a.genres.Add(g)
	}
	if !f.WatchedAt.IsZero() {
		a.months.Add(f.WatchedAt.Format("2006-01"))
	}
	if rated {
		a.addRating(f.UserRating)
	}
}

func (a *Aggregator) addYear(year int) {
	if year <= 0 {
		return
	}
	a.years.Add(year)
	a.decades.Add(Decade(year))
}

func (a *Aggregator) addDirector(director string) {
	if director == "" || director == models.UnknownText {
		return
	}
	a.directors.Add(director)
}

func (a *Aggregator) addRating(r float64) {
	a.ratings.Add(r)
	a.ratingSum += r
	a.rated++
}

// Decade buckets a year, e.g. 1994 -> 1990.
func Decade(year int) int {
	return (year / 10) * 10
}

// Summary is a read-only copy of the aggregator state.
type Summary struct {
	Items     int
	Rated     int
	Years     *Counter[int]
	Decades   *Counter[int]
	Genres    *Counter[string]
	Directors *Counter[string]
	Depths    *Counter[int]
	Months    *Counter[string]
	Ratings   *Counter[float64]

	ratingSum float64
}

// Snapshot copies the current counters.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Summary{
		Items:     a.items,
		Rated:     a.rated,
		Years:     a.years.Clone(),
		Decades:   a.decades.Clone(),
		Genres:    a.genres.Clone(),
		Directors: a.directors.Clone(),
		Depths:    a.depths.Clone(),
		Months:    a.months.Clone(),
		Ratings:   a.ratings.Clone(),
		ratingSum: a.ratingSum,
	}
}

// AverageRating divides by rated items only, rounded to two places. It is 0
// when nothing was rated.
func (s Summary) AverageRating() float64 {
	if s.Rated == 0 {
		return 0
	}
	return round(s.ratingSum/float64(s.Rated), 2)
}

// RatingPercentages gives each rating's share of rated items, rounded to one place.
func (s Summary) RatingPercentages() map[float64]float64 {
	out := make(map[float64]float64, s.Ratings.Len())
	if s.Rated == 0 {
		return out
	}
	for _, e := range s.Ratings.Entries() {
		out[e.Key] = round(float64(e.Count)/float64(s.Rated)*100, 1)
	}
	return out
}

// ItemsPerYear is the item count over distinct release years, 0 without years.
func (s Summary) ItemsPerYear() float64 {
	return s.PerYear(s.Items)
}

// PerYear spreads n over the distinct release years, rounded to two places.
func (s Summary) PerYear(n int) float64 {
	if s.Years.Len() == 0 {
		return 0
	}
	return round(float64(n)/float64(s.Years.Len()), 2)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
