package catalog

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kinoteka/kinoteka/internal/shared"
)

// memStore applies the same filter rules as the SQL builder in memory.
type memStore struct {
	mu       sync.Mutex
	films    map[string]Film
	genres   map[string]Genre
	persons  map[string]Person
	queries  []FilmQuery
	gets     atomic.Int64
	getGate  chan struct{}
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		films:   map[string]Film{},
		genres:  map[string]Genre{},
		persons: map[string]Person{},
	}
}

func rating(v float64) *float64 { return &v }

func (m *memStore) addFilm(title string, r *float64, genres ...string) Film {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := Film{ID: uuid.NewString(), Title: title, Rating: r, Genres: genres}
	m.films[f.ID] = f
	return f
}

func (m *memStore) SearchFilms(_ context.Context, q FilmQuery) ([]Film, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.failWith != nil {
		return nil, 0, m.failWith
	}
	if _, err := parseSort(q.Sort); err != nil {
		return nil, 0, err
	}

	var matched []Film
	for _, f := range m.films {
		if q.Text != "" && !strings.Contains(strings.ToLower(f.Title), strings.ToLower(q.Text)) {
			continue
		}
		if len(q.Genres) > 0 && !overlaps(f.Genres, q.Genres) {
			continue
		}
		if q.MaxRating != nil && (f.Rating == nil || *f.Rating > *q.MaxRating) {
			continue
		}
		matched = append(matched, f)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Title < matched[j].Title })

	total := len(matched)
	start := min(q.Page.Offset, total)
	end := min(start+q.Page.Limit, total)
	return matched[start:end], total, nil
}

func overlaps(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (m *memStore) GetFilm(ctx context.Context, id string) (Film, error) {
	m.gets.Add(1)
	if m.getGate != nil {
		select {
		case <-m.getGate:
		case <-ctx.Done():
			return Film{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Film{}, m.failWith
	}
	f, ok := m.films[id]
	if !ok {
		return Film{}, ErrNotFound
	}
	return f, nil
}

func (m *memStore) ListGenres(context.Context) ([]Genre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Genre
	for _, g := range m.genres {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetGenre(_ context.Context, id string) (Genre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.genres[id]
	if !ok {
		return Genre{}, ErrNotFound
	}
	return g, nil
}

func (m *memStore) SearchPersons(_ context.Context, query string, page shared.Page) ([]Person, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Person
	for _, p := range m.persons {
		if strings.Contains(strings.ToLower(p.FullName), strings.ToLower(query)) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	total := len(out)
	start := min(page.Offset, total)
	end := min(start+page.Limit, total)
	return out[start:end], total, nil
}

func (m *memStore) GetPerson(_ context.Context, id string) (Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return Person{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) lastQuery() FilmQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[len(m.queries)-1]
}

type staticViewers struct {
	byHeader map[string]Viewer
}

func (s staticViewers) Viewer(_ context.Context, authHeader string) Viewer {
	return s.byHeader[authHeader]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
