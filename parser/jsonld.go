package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// names decodes a string, a list of strings, a {"name": ...} object or a list of
// such objects. Any other shape decodes as empty rather than failing the payload.
type names []string

func (n *names) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*n = names{single}
		return nil
	}
	var person struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &person); err == nil {
		if person.Name != "" {
			*n = names{person.Name}
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	out := make(names, 0, len(raw))
	for _, item := range raw {
		var inner names
		_ = inner.UnmarshalJSON(item)
		out = append(out, inner...)
	}
	*n = out
	return nil
}

// number decodes a JSON number or a numeric string. Unparseable and non-finite
// values decode as zero with ok unset.
type number struct {
	value float64
	ok    bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = number{value: f, ok: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if f, err := strconv.ParseFloat(s, 64); err == nil && finite(f) {
		*n = number{value: f, ok: true}
	}
	return nil
}

// linkedMovie is the subset of a schema.org Movie block the extractor reads.
type linkedMovie struct {
	Name            string `json:"name"`
	DatePublished   string `json:"datePublished"`
	Description     string `json:"description"`
	Image           string `json:"image"`
	Duration        string `json:"duration"`
	Genre           names  `json:"genre"`
	Director        names  `json:"director"`
	Actor           names  `json:"actor"`
	AggregateRating struct {
		RatingValue number `json:"ratingValue"`
		RatingCount number `json:"ratingCount"`
	} `json:"aggregateRating"`
}

// detailsDoc is a JSON details endpoint. Both the catalogue field names and the
// snapshot field names are accepted.
type detailsDoc struct {
	ID          string `json:"imdb_id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	ReleaseYear number `json:"releaseYear"`
	Year        number `json:"year"`
	Director    names  `json:"director"`
	Genres      names  `json:"genres"`
	Cast        names  `json:"cast"`
	Rating      number `json:"rating"`
	NumVotes    number `json:"num_votes"`
	Runtime     number `json:"runtime"`
	Overview    string `json:"overview"`
	PosterURL   string `json:"poster_url"`
	Poster      struct {
		Sizes []struct {
			URL string `json:"url"`
		} `json:"sizes"`
	} `json:"poster"`
}

func (d detailsDoc) title() string {
	if s := normSpace(d.Name); s != "" {
		return s
	}
	return normSpace(d.Title)
}

func (d detailsDoc) year() int {
	if d.ReleaseYear.ok {
		return int(d.ReleaseYear.value)
	}
	return int(d.Year.value)
}

func (d detailsDoc) poster() string {
	if len(d.Poster.Sizes) > 0 && d.Poster.Sizes[0].URL != "" {
		return d.Poster.Sizes[0].URL
	}
	return d.PosterURL
}
