package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kinoteka/kinoteka/internal/shared"
)

var tracer = otel.Tracer("kinoteka/catalog")

// DocumentStore is the searchable source of catalog documents.
type DocumentStore interface {
	SearchFilms(ctx context.Context, q FilmQuery) ([]Film, int, error)
	GetFilm(ctx context.Context, id string) (Film, error)
	ListGenres(ctx context.Context) ([]Genre, error)
	GetGenre(ctx context.Context, id string) (Genre, error)
	SearchPersons(ctx context.Context, query string, page shared.Page) ([]Person, int, error)
	GetPerson(ctx context.Context, id string) (Person, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGStore implements DocumentStore with Postgres full-text search.
type PGStore struct {
	db dbtx
}

// NewPGStore builds a store on the catalog pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS films (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		imdb_rating DOUBLE PRECISION,
		genres TEXT[] NOT NULL DEFAULT '{}',
		directors TEXT[] NOT NULL DEFAULT '{}',
		writers TEXT[] NOT NULL DEFAULT '{}',
		actors TEXT[] NOT NULL DEFAULT '{}',
		search TSVECTOR GENERATED ALWAYS AS (
			setweight(to_tsvector('english', title), 'A') ||
			setweight(to_tsvector('english', coalesce(description, '')), 'B')
		) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS films_search_idx ON films USING GIN (search)`,
	`CREATE INDEX IF NOT EXISTS films_genres_idx ON films USING GIN (genres)`,
	`CREATE INDEX IF NOT EXISTS films_rating_idx ON films (imdb_rating)`,
	`CREATE TABLE IF NOT EXISTS genres (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS persons (
		id UUID PRIMARY KEY,
		full_name TEXT NOT NULL,
		roles TEXT[] NOT NULL DEFAULT '{}',
		search TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', full_name)) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS persons_search_idx ON persons USING GIN (search)`,
}

// EnsureSchema creates the catalog tables when they are missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: ensure schema: %w", err)
		}
	}
	return nil
}

// SearchFilms returns one page of films matching q and the total match count.
func (s *PGStore) SearchFilms(ctx context.Context, q FilmQuery) ([]Film, int, error) {
	ctx, span := tracer.Start(ctx, "SearchFilms", trace.WithAttributes(
		attribute.String("query", q.Text),
		attribute.StringSlice("genres", q.Genres),
		attribute.Bool("ceiling", q.MaxRating != nil),
	))
	defer span.End()

	stmts, err := buildFilmQuery(q)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow(ctx, stmts.count, stmts.args[:stmts.countArgs]...).Scan(&total); err != nil {
		return nil, 0, spanError(span, fmt.Errorf("catalog: count films: %w", err))
	}

	rows, err := s.db.Query(ctx, stmts.page, stmts.args...)
	if err != nil {
		return nil, 0, spanError(span, fmt.Errorf("catalog: search films: %w", err))
	}
	defer rows.Close()

	films := make([]Film, 0, q.Page.Limit)
	for rows.Next() {
		film, err := scanFilm(rows)
		if err != nil {
			return nil, 0, spanError(span, err)
		}
		films = append(films, film)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, spanError(span, fmt.Errorf("catalog: iterate films: %w", err))
	}
	span.SetAttributes(attribute.Int("result_count", len(films)), attribute.Int("total_count", total))
	return films, total, nil
}

// GetFilm loads one film by id.
func (s *PGStore) GetFilm(ctx context.Context, id string) (Film, error) {
	ctx, span := tracer.Start(ctx, "GetFilm", trace.WithAttributes(attribute.String("film.id", id)))
	defer span.End()

	row := s.db.QueryRow(ctx, "SELECT "+filmColumns+" FROM films WHERE id = $1", id)
	film, err := scanFilm(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Film{}, ErrNotFound
	}
	if err != nil {
		return Film{}, spanError(span, err)
	}
	return film, nil
}

// ListGenres returns every genre ordered by name.
func (s *PGStore) ListGenres(ctx context.Context) ([]Genre, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, name FROM genres ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list genres: %w", err)
	}
	defer rows.Close()

	var genres []Genre
	for rows.Next() {
		var g Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("catalog: scan genre: %w", err)
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// GetGenre loads one genre by id.
func (s *PGStore) GetGenre(ctx context.Context, id string) (Genre, error) {
	var g Genre
	err := s.db.QueryRow(ctx, `SELECT id::text, name FROM genres WHERE id = $1`, id).Scan(&g.ID, &g.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Genre{}, ErrNotFound
	}
	if err != nil {
		return Genre{}, fmt.Errorf("catalog: get genre: %w", err)
	}
	return g, nil
}

// SearchPersons matches persons by name.
func (s *PGStore) SearchPersons(ctx context.Context, query string, page shared.Page) ([]Person, int, error) {
	ctx, span := tracer.Start(ctx, "SearchPersons", trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	query = strings.TrimSpace(query)
	page = shared.NewPage(page.Offset, page.Limit)

	var total int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM persons WHERE search @@ plainto_tsquery('simple', $1)`, query).Scan(&total)
	if err != nil {
		return nil, 0, spanError(span, fmt.Errorf("catalog: count persons: %w", err))
	}

	rows, err := s.db.Query(ctx, `
		SELECT id::text, full_name, roles
		FROM persons
		WHERE search @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank(search, plainto_tsquery('simple', $1)) DESC, full_name, id
		LIMIT $2 OFFSET $3`, query, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, spanError(span, fmt.Errorf("catalog: search persons: %w", err))
	}
	defer rows.Close()

	persons := make([]Person, 0, page.Limit)
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.FullName, &p.Roles); err != nil {
			return nil, 0, spanError(span, fmt.Errorf("catalog: scan person: %w", err))
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, spanError(span, fmt.Errorf("catalog: iterate persons: %w", err))
	}
	return persons, total, nil
}

// GetPerson loads one person by id.
func (s *PGStore) GetPerson(ctx context.Context, id string) (Person, error) {
	var p Person
	err := s.db.QueryRow(ctx, `SELECT id::text, full_name, roles FROM persons WHERE id = $1`, id).
		Scan(&p.ID, &p.FullName, &p.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("catalog: get person: %w", err)
	}
	return p, nil
}

// UpsertFilm writes a film document, replacing any previous version.
func (s *PGStore) UpsertFilm(ctx context.Context, f Film) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO films (id, title, description, imdb_rating, genres, directors, writers, actors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			imdb_rating = EXCLUDED.imdb_rating,
			genres = EXCLUDED.genres,
			directors = EXCLUDED.directors,
			writers = EXCLUDED.writers,
			actors = EXCLUDED.actors`,
		f.ID, f.Title, f.Description, f.Rating,
		nonNil(f.Genres), nonNil(f.Directors), nonNil(f.Writers), nonNil(f.Actors))
	if err != nil {
		return fmt.Errorf("catalog: upsert film: %w", err)
	}
	return nil
}

func scanFilm(row pgx.Row) (Film, error) {
	var f Film
	err := row.Scan(&f.ID, &f.Title, &f.Description, &f.Rating, &f.Genres, &f.Directors, &f.Writers, &f.Actors)
	if errors.Is(err, pgx.ErrNoRows) {
		return Film{}, err
	}
	if err != nil {
		return Film{}, fmt.Errorf("catalog: scan film: %w", err)
	}
	return f, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
