package parser

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-scrape-titles/models"
)

const (
	minValidYear = 1900
	maxValidYear = 2030
)

var idPattern = regexp.MustCompile(`^[a-z]{2}[0-9]+$`)

// Criteria are the crawl thresholds applied on top of the domain ranges.
type Criteria struct {
	MinYear   int
	MinRating float64
	MinVotes  int
}

// ValidID reports whether id has the two-letter prefix and numeric suffix form.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate accepts c as a Title or explains the first field that rejects it.
func Validate(c models.Candidate, crit Criteria) (models.Title, error) {
	reject := func(field, format string, args ...any) (models.Title, error) {
		return models.Title{}, &ValidationError{ID: c.ID, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if !ValidID(c.ID) {
		return reject("id", "%q does not match %s", c.ID, idPattern)
	}
	if c.Year < minValidYear || c.Year > maxValidYear {
		return reject("year", "%d outside [%d, %d]", c.Year, minValidYear, maxValidYear)
	}
	if math.IsNaN(c.Rating) || c.Rating < 0 || c.Rating > 10 {
		return reject("rating", "%g outside [0, 10]", c.Rating)
	}
	if c.NumVotes < 0 {
		return reject("num_votes", "%d is negative", c.NumVotes)
	}
	if c.Runtime <= 0 {
		return reject("runtime", "%d is not positive", c.Runtime)
	}
	for i, g := range c.Genres {
		if strings.TrimSpace(g) == "" {
			return reject("genres", "entry %d is empty", i)
		}
	}

	if c.Year < crit.MinYear {
		return reject("year", "%d below minimum %d", c.Year, crit.MinYear)
	}
	if c.Rating < crit.MinRating {
		return reject("rating", "%g below minimum %g", c.Rating, crit.MinRating)
	}
	if c.NumVotes < crit.MinVotes {
		return reject("num_votes", "%d below minimum %d", c.NumVotes, crit.MinVotes)
	}

	genres := make([]string, len(c.Genres))
	copy(genres, c.Genres)
	cast := make([]string, len(c.Cast))
	copy(cast, c.Cast)

	return models.Title{
		ID:        c.ID,
		Title:     c.Title,
		Year:      c.Year,
		Director:  c.Director,
		Genres:    genres,
		Cast:      cast,
		Rating:    c.Rating,
		NumVotes:  c.NumVotes,
		Runtime:   c.Runtime,
		Overview:  c.Overview,
		PosterURL: c.PosterURL,
	}, nil
}
