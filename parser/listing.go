package parser

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-titles/models"
)

// ListingEntry is one poster of a user's watched listing.
type ListingEntry struct {
	FilmID          string
	DetailsEndpoint string
	WatchedAt       time.Time
	Rating          float64
	Rated           bool
}

// Listing is a decoded watched-listing page.
type Listing struct {
	Entries    []ListingEntry
	Total      int // posters found, including ones without a details endpoint
	TotalPages int
}

// ParseListing reads posters and pagination from a watched-listing page.
func ParseListing(payload []byte) (Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return Listing{}, &ParseError{Format: "html", ID: "listing", Err: err}
	}

	out := Listing{TotalPages: totalPages(doc)}
	doc.Find("li.poster-container").Each(func(_ int, item *goquery.Selection) {
		out.Total++

		endpoint, ok := item.Find("div.film-poster").First().Attr("data-details-endpoint")
		if !ok || strings.TrimSpace(endpoint) == "" {
			return
		}
		entry := ListingEntry{
			FilmID:          filmIDFromEndpoint(endpoint),
			DetailsEndpoint: strings.TrimSpace(endpoint),
		}
		if entry.FilmID == "" {
			return
		}
		if stamp, ok := item.Find("time").First().Attr("datetime"); ok {
			entry.WatchedAt = parseStamp(stamp)
		}
		if rating := item.Find("span.rating").First(); rating.Length() > 0 {
			entry.Rating, entry.Rated = ParseStarRating(rating.Text())
		}
		out.Entries = append(out.Entries, entry)
	})
	return out, nil
}

// ParseStarRating converts "★★★½" into 3.5.
func ParseStarRating(text string) (float64, bool) {
	stars := strings.Count(text, "★")
	half := strings.Contains(text, "½")
	if stars == 0 && !half {
		return 0, false
	}
	value := float64(stars)
	if half {
		value += 0.5
	}
	return value, true
}

// ExtractFilmInfo decodes a film details endpoint into the basic film fields.
func ExtractFilmInfo(id string, payload []byte) (models.Film, error) {
	var d detailsDoc
	if err := decodeLenient(payload, &d); err != nil {
		return models.Film{ID: id}, &ParseError{ID: id, Format: "json", Err: err}
	}

	film := models.Film{
		ID:        id,
		Title:     d.title(),
		Year:      d.year(),
		Director:  models.UnknownText,
		Runtime:   int(d.Runtime.value),
		Overview:  normSpace(d.Overview),
		PosterURL: strings.TrimSpace(d.poster()),
	}
	if film.Title == "" {
		film.Title = models.UnknownText
	}
	if len(d.Director) > 0 && normSpace(d.Director[0]) != "" {
		film.Director = normSpace(d.Director[0])
	}
	return film, nil
}

// ExtractGenres reads the genre links of a film's genres tab.
func ExtractGenres(payload []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	var raw []string
	doc.Find("#tab-genres p a[href]").Each(func(_ int, a *goquery.Selection) {
		if strings.Contains(a.AttrOr("href", ""), "genre") {
			raw = append(raw, a.Text())
		}
	})
	return normList(raw, 0)
}

// ExtractCast reads actor and role pairs from a film's cast tab.
func ExtractCast(payload []byte) []models.CastRole {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	var out []models.CastRole
	doc.Find("#tab-cast .cast-member").Each(func(_ int, s *goquery.Selection) {
		name := normSpace(s.Find(".name").First().Text())
		if name == "" {
			return
		}
		role := normSpace(s.Find(".role").First().Text())
		if role == "" {
			role = models.UnknownText
		}
		out = append(out, models.CastRole{Name: name, Role: role})
	})
	return out
}

func totalPages(doc *goquery.Document) int {
	pages := 1
	doc.Find("div.paginate-pages a").Each(func(_ int, a *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil && n > pages {
			pages = n
		}
	})
	return pages
}

func filmIDFromEndpoint(endpoint string) string {
	_, rest, ok := strings.Cut(endpoint, "/film/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return strings.TrimSpace(id)
}

func parseStamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
