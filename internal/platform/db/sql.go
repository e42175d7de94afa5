package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour behind a *sql.DB.
type Dialect string

const (
	// Postgres uses the pgx stdlib driver.
	Postgres Dialect = "pgx"
	// SQLite uses the embedded modernc driver.
	SQLite Dialect = "sqlite"
)

// ParseDialect validates a driver name from configuration.
func ParseDialect(name string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(name))) {
	case Postgres, "postgres", "pg":
		return Postgres, nil
	case SQLite:
		return SQLite, nil
	default:
		return "", fmt.Errorf("platform/db: unsupported driver %q", name)
	}
}

// Open returns a pooled *sql.DB for the dialect and checks connectivity.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	if dialect == SQLite {
		if !strings.Contains(dsn, "_time_format") {
			dsn = withQueryParam(dsn, "_time_format=sqlite")
		}
		dsn = withQueryParam(dsn, "_pragma=foreign_keys(1)")
	}
	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// a single writer avoids SQLITE_BUSY under concurrent requests
		conn.SetMaxOpenConns(1)
		if _, err := conn.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("platform/db: enable wal: %w", err)
		}
	} else {
		conn.SetMaxOpenConns(20)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}
	return conn, nil
}

func withQueryParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

// Rebind rewrites '?' placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
