package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kinoteka/kinoteka/internal/shared"
)

var (
	errGenreNotFound  = shared.ErrNotFound.WithMessage("Genre not found")
	errPersonNotFound = shared.ErrNotFound.WithMessage("Person not found")
)

// ServiceConfig collects Service dependencies.
type ServiceConfig struct {
	Store   DocumentStore
	Films   FilmReader
	Ceiling float64
	Logger  *slog.Logger
}

// Service answers catalog reads for a viewer. Non-subscribers never see a
// film rated above the ceiling, through either listing or direct lookup.
type Service struct {
	store   DocumentStore
	films   FilmReader
	ceiling float64
	logger  *slog.Logger
}

// NewService constructs a Service. Films defaults to the store itself.
func NewService(cfg ServiceConfig) *Service {
	films := cfg.Films
	if films == nil {
		films = cfg.Store
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: cfg.Store, films: films, ceiling: cfg.Ceiling, logger: logger}
}

// Ceiling returns the rating limit applied to viewer, or nil for none.
func (s *Service) Ceiling(viewer Viewer) *float64 {
	if viewer.Subscriber {
		return nil
	}
	limit := s.ceiling
	return &limit
}

// allowed reports whether viewer may read f. Unrated films count as above
// any ceiling so detail reads agree with the list filter.
func (s *Service) allowed(viewer Viewer, f Film) bool {
	limit := s.Ceiling(viewer)
	if limit == nil {
		return true
	}
	return f.Rating != nil && *f.Rating <= *limit
}

// ListFilms browses films, optionally filtered by genre.
func (s *Service) ListFilms(ctx context.Context, viewer Viewer, q FilmQuery) (shared.Envelope[Film], error) {
	q.Text = ""
	return s.searchFilms(ctx, viewer, q)
}

// SearchFilms runs a text search. An empty query is a validation error.
func (s *Service) SearchFilms(ctx context.Context, viewer Viewer, q FilmQuery) (shared.Envelope[Film], error) {
	if strings.TrimSpace(q.Text) == "" {
		return shared.Envelope[Film]{}, shared.ErrValidation.WithMessage("query is required")
	}
	return s.searchFilms(ctx, viewer, q)
}

func (s *Service) searchFilms(ctx context.Context, viewer Viewer, q FilmQuery) (shared.Envelope[Film], error) {
	q.Page = shared.NewPage(q.Page.Offset, q.Page.Limit)
	q.MaxRating = s.Ceiling(viewer)
	films, total, err := s.store.SearchFilms(ctx, q)
	if err != nil {
		return shared.Envelope[Film]{}, s.storeError(ctx, "search films", err, shared.ErrNotFound)
	}
	return shared.NewEnvelope(films, total, q.Page), nil
}

// Film returns one film, or FORBIDDEN when it is above the viewer's ceiling.
func (s *Service) Film(ctx context.Context, viewer Viewer, id string) (Film, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Film{}, shared.ErrNotFound
	}
	film, err := s.films.GetFilm(ctx, id)
	if err != nil {
		return Film{}, s.storeError(ctx, "get film", err, shared.ErrNotFound)
	}
	if !s.allowed(viewer, film) {
		return Film{}, shared.ErrForbidden
	}
	return film, nil
}

// Genres lists every genre.
func (s *Service) Genres(ctx context.Context) ([]Genre, error) {
	genres, err := s.store.ListGenres(ctx)
	if err != nil {
		return nil, s.storeError(ctx, "list genres", err, errGenreNotFound)
	}
	if genres == nil {
		genres = []Genre{}
	}
	return genres, nil
}

// Genre returns one genre.
func (s *Service) Genre(ctx context.Context, id string) (Genre, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Genre{}, errGenreNotFound
	}
	genre, err := s.store.GetGenre(ctx, id)
	if err != nil {
		return Genre{}, s.storeError(ctx, "get genre", err, errGenreNotFound)
	}
	return genre, nil
}

// SearchPersons finds persons by name.
func (s *Service) SearchPersons(ctx context.Context, query string, page shared.Page) (shared.Envelope[Person], error) {
	if strings.TrimSpace(query) == "" {
		return shared.Envelope[Person]{}, shared.ErrValidation.WithMessage("query is required")
	}
	page = shared.NewPage(page.Offset, page.Limit)
	persons, total, err := s.store.SearchPersons(ctx, query, page)
	if err != nil {
		return shared.Envelope[Person]{}, s.storeError(ctx, "search persons", err, errPersonNotFound)
	}
	return shared.NewEnvelope(persons, total, page), nil
}

// Person returns one person.
func (s *Service) Person(ctx context.Context, id string) (Person, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Person{}, errPersonNotFound
	}
	person, err := s.store.GetPerson(ctx, id)
	if err != nil {
		return Person{}, s.storeError(ctx, "get person", err, errPersonNotFound)
	}
	return person, nil
}

// storeError maps store failures onto the catalog taxonomy. Absence becomes
// NOT_FOUND, domain errors pass through, anything else is SEARCH_FAILED.
func (s *Service) storeError(ctx context.Context, op string, err error, missing *shared.Error) error {
	if errors.Is(err, ErrNotFound) {
		return missing
	}
	var svcErr *shared.Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.ErrorContext(ctx, "catalog store failed", slog.String("op", op), slog.Any("error", err))
	return shared.ErrSearchFailed
}
