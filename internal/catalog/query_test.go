package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoteka/kinoteka/internal/shared"
)

func TestParseSort(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"imdb_rating":  "imdb_rating ASC NULLS LAST, id",
		"-imdb_rating": "imdb_rating DESC NULLS LAST, id",
		"-title":       "title DESC NULLS LAST, id",
	}
	for key, want := range cases {
		got, err := parseSort(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	_, err := parseSort("id; DROP TABLE films")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = parseSort("-")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestBuildFilmQueryBrowse(t *testing.T) {
	stmts, err := buildFilmQuery(FilmQuery{Page: shared.NewPage(20, 5)})
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) FROM films", stmts.count)
	assert.Contains(t, stmts.page, "ORDER BY imdb_rating DESC NULLS LAST, id LIMIT $1 OFFSET $2")
	assert.Equal(t, []any{5, 20}, stmts.args)
	assert.Zero(t, stmts.countArgs)
}

func TestBuildFilmQueryCombinesFilters(t *testing.T) {
	ceiling := 5.0
	stmts, err := buildFilmQuery(FilmQuery{
		Text:      " space opera ",
		Genres:    []string{"Sci-Fi", "Drama"},
		MaxRating: &ceiling,
		Page:      shared.NewPage(0, 10),
	})
	require.NoError(t, err)

	where := " WHERE search @@ websearch_to_tsquery('english', $1) AND genres && $2::text[] AND imdb_rating <= $3"
	assert.Equal(t, "SELECT COUNT(*) FROM films"+where, stmts.count)
	assert.Contains(t, stmts.page, where+" ORDER BY ts_rank(search, websearch_to_tsquery('english', $1)) DESC, id LIMIT $4 OFFSET $5")
	assert.Equal(t, []any{"space opera", []string{"Sci-Fi", "Drama"}, 5.0, 10, 0}, stmts.args)
	assert.Equal(t, 3, stmts.countArgs)
}

func TestBuildFilmQueryExplicitSortOverridesRank(t *testing.T) {
	stmts, err := buildFilmQuery(FilmQuery{Text: "matrix", Sort: "-imdb_rating"})
	require.NoError(t, err)
	assert.Contains(t, stmts.page, "ORDER BY imdb_rating DESC NULLS LAST, id")
	assert.NotContains(t, stmts.page, "ts_rank")
	assert.NotContains(t, stmts.count, "imdb_rating <=")

	_, err = buildFilmQuery(FilmQuery{Sort: "rating"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
