package shared

import (
	"net/http"
	"strconv"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Page is an offset/limit window over a result set.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// NewPage clamps offset and limit into a usable window.
func NewPage(offset, limit int) Page {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return Page{Offset: offset, Limit: limit}
}

// PageFromRequest reads the offset and limit query parameters.
func PageFromRequest(r *http.Request) Page {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return NewPage(offset, limit)
}

// Envelope is the paginated response body shared by list endpoints.
type Envelope[T any] struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Items  []T `json:"items"`
}

// NewEnvelope wraps items with their paging metadata.
func NewEnvelope[T any](items []T, total int, page Page) Envelope[T] {
	if items == nil {
		items = []T{}
	}
	return Envelope[T]{Total: total, Offset: page.Offset, Limit: page.Limit, Items: items}
}
