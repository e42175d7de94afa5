package catalog

import (
	"fmt"
	"strings"

	"github.com/kinoteka/kinoteka/internal/shared"
)

const filmColumns = `id::text, title, description, imdb_rating, genres, directors, writers, actors`

// sortable maps public sort keys to columns.
var sortable = map[string]string{
	"imdb_rating": "imdb_rating",
	"title":       "title",
}

// parseSort turns "field" or "-field" into an ORDER BY expression. An empty
// key yields an empty expression.
func parseSort(key string) (string, error) {
	if key == "" {
		return "", nil
	}
	dir := "ASC"
	field := key
	if strings.HasPrefix(key, "-") {
		dir = "DESC"
		field = key[1:]
	}
	column, ok := sortable[field]
	if !ok {
		return "", shared.ErrValidation.WithMessage(fmt.Sprintf("cannot sort by %q", key))
	}
	return fmt.Sprintf("%s %s NULLS LAST, id", column, dir), nil
}

// filmStatements holds the page and count statements for a film query.
// Count arguments are a prefix of page arguments.
type filmStatements struct {
	page      string
	count     string
	args      []any
	countArgs int
}

// buildFilmQuery renders q into SQL. Title matches outrank description
// matches through tsvector weights; genres match when any requested genre is
// present; the ceiling excludes unrated films.
func buildFilmQuery(q FilmQuery) (filmStatements, error) {
	order, err := parseSort(q.Sort)
	if err != nil {
		return filmStatements{}, err
	}

	var (
		conditions []string
		args       []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	text := strings.TrimSpace(q.Text)
	var tsquery string
	if text != "" {
		tsquery = fmt.Sprintf("websearch_to_tsquery('english', %s)", next(text))
		conditions = append(conditions, "search @@ "+tsquery)
	}
	if len(q.Genres) > 0 {
		conditions = append(conditions, fmt.Sprintf("genres && %s::text[]", next(q.Genres)))
	}
	if q.MaxRating != nil {
		conditions = append(conditions, fmt.Sprintf("imdb_rating <= %s", next(*q.MaxRating)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	if order == "" {
		if tsquery != "" {
			order = fmt.Sprintf("ts_rank(search, %s) DESC, id", tsquery)
		} else {
			order = "imdb_rating DESC NULLS LAST, id"
		}
	}

	countArgs := len(args)
	page := shared.NewPage(q.Page.Offset, q.Page.Limit)
	limit := next(page.Limit)
	offset := next(page.Offset)

	return filmStatements{
		page:      "SELECT " + filmColumns + " FROM films" + where + " ORDER BY " + order + " LIMIT " + limit + " OFFSET " + offset,
		count:     "SELECT COUNT(*) FROM films" + where,
		args:      args,
		countArgs: countArgs,
	}, nil
}
