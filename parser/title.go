package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-titles/models"
)

// MaxGenres and MaxCast cap the list fields of a candidate.
const (
	MaxGenres = 5
	MaxCast   = 5
)

var (
	yearInParens = regexp.MustCompile(`\((\d{4})\)`)
	runtimeText  = regexp.MustCompile(`(\d+)\s*(?:min|minute)`)
	relatedHref  = regexp.MustCompile(`/title/([a-z]{2}\d+)`)
)

// page is a decoded HTML payload shared by every extraction rule.
type page struct {
	doc    *goquery.Document
	linked linkedMovie
	hasLD  bool
}

// rule yields a value and whether it found one.
type rule[T any] func(p *page) (T, bool)

// first evaluates rules in order and returns the first hit, or def.
func first[T any](p *page, rules []rule[T], def T) T {
	for _, r := range rules {
		if v, ok := r(p); ok {
			return v
		}
	}
	return def
}

var (
	titleRules = []rule[string]{
		selectorText(`h1[data-testid="hero__pageTitle"] span`),
		selectorText(`h1.sc-afe43def-0`),
		linkedText(func(m linkedMovie) string { return m.Name }),
		selectorText(`h1`),
	}
	yearRules = []rule[int]{
		yearLinks,
		linkedYear,
		regexInt(yearInParens),
	}
	directorRules = []rule[string]{
		directorLinks,
		linkedFirst(func(m linkedMovie) names { return m.Director }),
	}
	genreRules = []rule[[]string]{
		selectorList(`a[href*="/search/title/?genres="]`, MaxGenres),
		linkedList(func(m linkedMovie) names { return m.Genre }, MaxGenres),
	}
	castRules = []rule[[]string]{
		selectorList(`a[data-testid="cast-item-characters-link"]`, MaxCast),
		selectorList(`td.primary_photo + td a`, MaxCast),
		linkedList(func(m linkedMovie) names { return m.Actor }, MaxCast),
	}
	ratingRules = []rule[float64]{
		selectorParse(`[data-testid="hero-rating-bar__aggregate-rating__score"] span`, parseFloat),
		linkedNumber(func(m linkedMovie) number { return m.AggregateRating.RatingValue }),
	}
	voteRules = []rule[int]{
		selectorParse(`[data-testid="hero-rating-bar__aggregate-rating__vote-count"]`, parseCount),
		func(p *page) (int, bool) {
			v, ok := linkedNumber(func(m linkedMovie) number { return m.AggregateRating.RatingCount })(p)
			return int(v), ok
		},
	}
	runtimeRules = []rule[int]{
		selectorParse(`li[data-testid="title-techspec_runtime"]`, parseRuntime),
		func(p *page) (int, bool) {
			if !p.hasLD {
				return 0, false
			}
			return parseISODuration(p.linked.Duration)
		},
		regexInt(runtimeText),
	}
	overviewRules = []rule[string]{
		selectorText(`[data-testid="plot-xl"], [data-testid="plot-l"], [data-testid="plot"]`),
		linkedText(func(m linkedMovie) string { return m.Description }),
		selectorAttr(`meta[property="og:description"]`, "content", ""),
	}
	posterRules = []rule[string]{
		selectorAttr(`img[data-testid="hero-media__poster"]`, "src", "image"),
		selectorAttr(`.ipc-media img`, "src", "image"),
		linkedText(func(m linkedMovie) string { return m.Image }),
	}
)

// ExtractTitle builds a candidate from a detail payload. JSON payloads are read
// as a details document; anything else is treated as HTML. Only a payload that
// cannot be decoded at all yields a *ParseError.
func ExtractTitle(id string, payload []byte, contentType string) (models.Candidate, error) {
	if isJSON(payload, contentType) {
		return extractJSON(id, payload)
	}

	p, err := newPage(payload)
	if err != nil {
		return models.NewCandidate(id), &ParseError{ID: id, Format: "html", Err: err}
	}

	c := models.NewCandidate(id)
	c.Title = first(p, titleRules, models.UnknownText)
	c.Year = first(p, yearRules, 0)
	c.Director = first(p, directorRules, models.UnknownText)
	c.Genres = first(p, genreRules, []string{})
	c.Cast = first(p, castRules, []string{})
	c.Rating = first(p, ratingRules, 0)
	c.NumVotes = first(p, voteRules, 0)
	c.Runtime = first(p, runtimeRules, 0)
	c.Overview = first(p, overviewRules, "")
	c.PosterURL = first(p, posterRules, "")
	return c, nil
}

// ExtractRelated lists the ids linked from "more like this" sections, in page
// order, without duplicates and without id itself.
func ExtractRelated(id string, payload []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil
	}

	sections := doc.Find(`section[data-testid="MoreLikeThis"]`)
	sections = sections.AddSelection(doc.Find("div, section").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class := strings.ToLower(s.AttrOr("class", ""))
		return strings.Contains(class, "more-like-this") || strings.Contains(class, "recommendations")
	}))

	var ids []string
	sections.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if m := relatedHref.FindStringSubmatch(a.AttrOr("href", "")); m != nil && m[1] != id {
			ids = append(ids, m[1])
		}
	})
	return normList(ids, 0)
}

// Usable reports whether any field moved off its default.
func Usable(c models.Candidate) bool {
	return (c.Title != "" && c.Title != models.UnknownText) ||
		(c.Director != "" && c.Director != models.UnknownText) ||
		c.Year != 0 || c.Rating != 0 || c.NumVotes != 0 || c.Runtime != 0 ||
		len(c.Genres) > 0 || len(c.Cast) > 0 || c.Overview != "" || c.PosterURL != ""
}

func isJSON(payload []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func extractJSON(id string, payload []byte) (models.Candidate, error) {
	c := models.NewCandidate(id)

	var d detailsDoc
	if err := decodeLenient(payload, &d); err != nil {
		return c, &ParseError{ID: id, Format: "json", Err: err}
	}

	if s := d.title(); s != "" {
		c.Title = s
	}
	c.Year = d.year()
	if len(d.Director) > 0 && normSpace(d.Director[0]) != "" {
		c.Director = normSpace(d.Director[0])
	}
	c.Genres = normList(d.Genres, MaxGenres)
	c.Cast = normList(d.Cast, MaxCast)
	c.Rating = d.Rating.value
	c.NumVotes = int(d.NumVotes.value)
	c.Runtime = int(d.Runtime.value)
	c.Overview = normSpace(d.Overview)
	c.PosterURL = strings.TrimSpace(d.poster())
	return c, nil
}

// decodeLenient tolerates a mistyped individual field; the rest stays decoded.
func decodeLenient(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return nil
	}
	return err
}

func newPage(payload []byte) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	p := &page{doc: doc}

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var m linkedMovie
		if err := decodeLenient([]byte(s.Text()), &m); err != nil {
			return true
		}
		if m.Name == "" {
			return true
		}
		p.linked = m
		p.hasLD = true
		return false
	})
	return p, nil
}

func selectorText(sel string) rule[string] {
	return func(p *page) (string, bool) {
		var out string
		p.doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			out = normSpace(s.Text())
			return out == ""
		})
		return out, out != ""
	}
}

// selectorAttr returns the first attribute value containing must.
func selectorAttr(sel, attr, must string) rule[string] {
	return func(p *page) (string, bool) {
		var out string
		p.doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v := strings.TrimSpace(s.AttrOr(attr, ""))
			if v != "" && strings.Contains(v, must) {
				out = v
				return false
			}
			return true
		})
		return out, out != ""
	}
}

func selectorList(sel string, limit int) rule[[]string] {
	return func(p *page) ([]string, bool) {
		var raw []string
		p.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			raw = append(raw, s.Text())
		})
		out := normList(raw, limit)
		return out, len(out) > 0
	}
}

func selectorParse[T any](sel string, parse func(string) (T, bool)) rule[T] {
	return func(p *page) (T, bool) {
		var (
			out   T
			found bool
		)
		p.doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			out, found = parse(normSpace(s.Text()))
			return !found
		})
		return out, found
	}
}

func regexInt(re *regexp.Regexp) rule[int] {
	return func(p *page) (int, bool) {
		m := re.FindStringSubmatch(p.doc.Text())
		if m == nil {
			return 0, false
		}
		n, err := strconv.Atoi(m[1])
		return n, err == nil && n > 0
	}
}

func yearLinks(p *page) (int, bool) {
	year := 0
	p.doc.Find(`a[href*="/year/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n, err := strconv.Atoi(strings.TrimSpace(s.Text()))
		if err == nil && n >= minValidYear && n <= maxValidYear {
			year = n
			return false
		}
		return true
	})
	return year, year != 0
}

func directorLinks(p *page) (string, bool) {
	var out string
	p.doc.Find(`a[href*="/name/nm"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		around := strings.ToLower(s.Parent().Text())
		if strings.Contains(around, "director") || strings.Contains(around, "directed") {
			out = normSpace(s.Text())
			return out == ""
		}
		return true
	})
	return out, out != ""
}

func linkedText(get func(linkedMovie) string) rule[string] {
	return func(p *page) (string, bool) {
		if !p.hasLD {
			return "", false
		}
		v := normSpace(get(p.linked))
		return v, v != ""
	}
}

func linkedFirst(get func(linkedMovie) names) rule[string] {
	return func(p *page) (string, bool) {
		if !p.hasLD {
			return "", false
		}
		list := normList(get(p.linked), 1)
		if len(list) == 0 {
			return "", false
		}
		return list[0], true
	}
}

func linkedList(get func(linkedMovie) names, limit int) rule[[]string] {
	return func(p *page) ([]string, bool) {
		if !p.hasLD {
			return nil, false
		}
		out := normList(get(p.linked), limit)
		return out, len(out) > 0
	}
}

func linkedNumber(get func(linkedMovie) number) rule[float64] {
	return func(p *page) (float64, bool) {
		if !p.hasLD {
			return 0, false
		}
		n := get(p.linked)
		return n.value, n.ok
	}
}

func linkedYear(p *page) (int, bool) {
	if !p.hasLD || len(p.linked.DatePublished) < 4 {
		return 0, false
	}
	n, err := strconv.Atoi(p.linked.DatePublished[:4])
	return n, err == nil
}
