// Package models defines the records produced by the harvester.
package models

import "time"

// Title is an accepted, validated record. It is never mutated after acceptance.
type Title struct {
	ID        string   `json:"imdb_id"`
	Title     string   `json:"title"`
	Year      int      `json:"year"`
	Director  string   `json:"director"`
	Genres    []string `json:"genres"`
	Cast      []string `json:"cast"`
	Rating    float64  `json:"rating"`
	NumVotes  int      `json:"num_votes"`
	Runtime   int      `json:"runtime"`
	Overview  string   `json:"overview"`
	PosterURL string   `json:"poster_url"`
	Depth     int      `json:"depth"`
}

// Candidate is the extractor's best-effort view of a payload. Fields that no
// strategy could fill hold their defaults.
type Candidate struct {
	ID        string   `json:"imdb_id"`
	Title     string   `json:"title"`
	Year      int      `json:"year"`
	Director  string   `json:"director"`
	Genres    []string `json:"genres"`
	Cast      []string `json:"cast"`
	Rating    float64  `json:"rating"`
	NumVotes  int      `json:"num_votes"`
	Runtime   int      `json:"runtime"`
	Overview  string   `json:"overview"`
	PosterURL string   `json:"poster_url"`
}

// Defaults for fields no extraction strategy could fill.
const (
	UnknownText = "Unknown"
)

// NewCandidate returns a candidate with every field at its default.
func NewCandidate(id string) Candidate {
	return Candidate{
		ID:       id,
		Title:    UnknownText,
		Director: UnknownText,
		Genres:   []string{},
		Cast:     []string{},
	}
}

// FrontierItem is a pending (id, depth) pair.
type FrontierItem struct {
	ID    string
	Depth int
}

// Film is one entry of a user's watched listing.
type Film struct {
	ID         string     `json:"film_id"`
	Title      string     `json:"title"`
	Year       int        `json:"year"`
	Director   string     `json:"director"`
	Runtime    int        `json:"runtime"`
	Overview   string     `json:"overview"`
	PosterURL  string     `json:"poster_url"`
	Genres     []string   `json:"genres,omitempty"`
	Cast       []CastRole `json:"cast,omitempty"`
	UserRating float64    `json:"user_rating,omitempty"`
	WatchedAt  time.Time  `json:"watched_at,omitempty"`
}

// CastRole pairs an actor with the role played.
type CastRole struct {
	Name string `json:"name"`
	Role string `json:"role"`
}
