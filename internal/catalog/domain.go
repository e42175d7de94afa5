// Package catalog serves the film catalog. Reads go through a Postgres
// full-text document store and a Redis document cache; the rating ceiling is
// applied per viewer after both.
package catalog

import (
	"errors"

	"github.com/kinoteka/kinoteka/internal/shared"
)

// ErrNotFound is returned by stores when a document does not exist.
var ErrNotFound = errors.New("catalog: document not found")

// Film is a catalog document.
type Film struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Rating      *float64 `json:"imdb_rating"`
	Genres      []string `json:"genres"`
	Directors   []string `json:"directors"`
	Writers     []string `json:"writers"`
	Actors      []string `json:"actors"`
}

// Genre is a catalog genre.
type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Person is anyone credited on a film.
type Person struct {
	ID       string   `json:"id"`
	FullName string   `json:"full_name"`
	Roles    []string `json:"roles"`
}

// FilmQuery selects a page of films. Text is optional for browsing; MaxRating
// nil means no ceiling.
type FilmQuery struct {
	Text      string
	Genres    []string
	Sort      string
	MaxRating *float64
	Page      shared.Page
}

// Viewer is the caller as seen by the catalog. The zero value is anonymous.
type Viewer struct {
	UserID     string
	Subscriber bool
}

// Anonymous reports whether no identity was resolved.
func (v Viewer) Anonymous() bool {
	return v.UserID == ""
}
