package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/kinoteka/kinoteka/internal/catalog"
)

// FilmWriter persists catalog documents.
type FilmWriter interface {
	UpsertFilm(ctx context.Context, f catalog.Film) error
}

// FilmEvicter drops cached copies of a film.
type FilmEvicter interface {
	Evict(ctx context.Context, id string) error
}

// ImportFilms loads a JSON array of films, upserts each one and evicts its
// cached copy. Input is checked in full before anything is written.
func ImportFilms(ctx context.Context, r io.Reader, store FilmWriter, cache FilmEvicter) (int, error) {
	var films []catalog.Film
	if err := json.NewDecoder(r).Decode(&films); err != nil {
		return 0, fmt.Errorf("manage: decode films: %w", err)
	}
	for i, f := range films {
		if _, err := uuid.Parse(f.ID); err != nil {
			return 0, fmt.Errorf("manage: film %d: invalid id %q", i, f.ID)
		}
		if strings.TrimSpace(f.Title) == "" {
			return 0, fmt.Errorf("manage: film %s: title is required", f.ID)
		}
	}
	for i, f := range films {
		if err := store.UpsertFilm(ctx, f); err != nil {
			return i, fmt.Errorf("manage: upsert film %s: %w", f.ID, err)
		}
		if cache == nil {
			continue
		}
		if err := cache.Evict(ctx, f.ID); err != nil {
			return i + 1, fmt.Errorf("manage: evict film %s: %w", f.ID, err)
		}
	}
	return len(films), nil
}
