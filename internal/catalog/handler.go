package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// ViewerResolver identifies the caller from the Authorization header.
type ViewerResolver interface {
	Viewer(ctx context.Context, authHeader string) Viewer
}

// Handler serves catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	viewers ViewerResolver
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, viewers ViewerResolver) *Handler {
	return &Handler{logger: logger, service: service, viewers: viewers}
}

type viewerContextKey struct{}

// ResolveViewer looks up the caller once per request and stores the result
// in the request context. Lookup failures leave the caller anonymous.
func (h *Handler) ResolveViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer := h.viewers.Viewer(r.Context(), r.Header.Get("Authorization"))
		ctx := context.WithValue(r.Context(), viewerContextKey{}, viewer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func viewerFrom(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerContextKey{}).(Viewer)
	return v
}

// MountFilmRoutes registers /catalog routes.
func (h *Handler) MountFilmRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.ResolveViewer)
		r.Get("/", h.listFilms)
		r.Get("/search", h.searchFilms)
		r.Get("/{id}", h.getFilm)
	})
}

// MountGenreRoutes registers /genre routes.
func (h *Handler) MountGenreRoutes(r chi.Router) {
	r.Get("/", h.listGenres)
	r.Get("/{id}", h.getGenre)
}

// MountPersonRoutes registers /person routes.
func (h *Handler) MountPersonRoutes(r chi.Router) {
	r.Get("/search", h.searchPersons)
	r.Get("/{id}", h.getPerson)
}

// filmQuery reads sort, paging and genre filters. Both filter[genre] and
// filter[tag] name genres and may repeat.
func filmQuery(r *http.Request) FilmQuery {
	values := r.URL.Query()
	var genres []string
	for _, key := range []string{"filter[genre]", "filter[tag]"} {
		for _, v := range values[key] {
			for _, g := range strings.Split(v, ",") {
				if g = strings.TrimSpace(g); g != "" {
					genres = append(genres, g)
				}
			}
		}
	}
	return FilmQuery{
		Text:   values.Get("query"),
		Genres: genres,
		Sort:   values.Get("sort"),
		Page:   shared.PageFromRequest(r),
	}
}

func (h *Handler) listFilms(w http.ResponseWriter, r *http.Request) {
	env, err := h.service.ListFilms(r.Context(), viewerFrom(r.Context()), filmQuery(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, env)
}

func (h *Handler) searchFilms(w http.ResponseWriter, r *http.Request) {
	env, err := h.service.SearchFilms(r.Context(), viewerFrom(r.Context()), filmQuery(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, env)
}

func (h *Handler) getFilm(w http.ResponseWriter, r *http.Request) {
	film, err := h.service.Film(r.Context(), viewerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, film)
}

func (h *Handler) listGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.service.Genres(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, genres)
}

func (h *Handler) getGenre(w http.ResponseWriter, r *http.Request) {
	genre, err := h.service.Genre(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, genre)
}

func (h *Handler) searchPersons(w http.ResponseWriter, r *http.Request) {
	env, err := h.service.SearchPersons(r.Context(), r.URL.Query().Get("query"), shared.PageFromRequest(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, env)
}

func (h *Handler) getPerson(w http.ResponseWriter, r *http.Request) {
	person, err := h.service.Person(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, person)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.RespondError(w, r, h.logger, err)
}
