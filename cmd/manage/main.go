// Command manage runs operator tasks against the kinoteka databases.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kinoteka/kinoteka/internal/app"
	"github.com/kinoteka/kinoteka/internal/catalog"
	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/platform/db"
	"github.com/kinoteka/kinoteka/internal/rbac"
)

const usage = `usage: manage <command> [flags]

commands:
  migrate                                    create identity and catalog tables
  createsuperuser -username NAME -email ADDR  create an account with the superadmin role
  import-films FILE                          upsert films from a JSON array
  purge-tokens [-grace DURATION]             enqueue a refresh-token purge
  queue                                      show maintenance queue stats
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, err := parseCommand(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(stderr, "manage: %v\n", err)
		}
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "manage: load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	if err := cmd.exec(ctx, env{cfg: cfg, logger: logger, stdin: stdin, stdout: stdout}); err != nil {
		logger.Error("manage "+cmd.name, slog.Any("error", err))
		return 1
	}
	return 0
}

type env struct {
	cfg    *app.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
}

type command struct {
	name string
	exec func(ctx context.Context, e env) error
}

func parseCommand(args []string, stderr io.Writer) (command, error) {
	name, rest := args[0], args[1:]
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch name {
	case "migrate":
		if err := fs.Parse(rest); err != nil {
			return command{}, err
		}
		return command{name: name, exec: migrate}, nil

	case "createsuperuser":
		username := fs.String("username", "", "login of the new account")
		email := fs.String("email", "", "email of the new account")
		if err := fs.Parse(rest); err != nil {
			return command{}, err
		}
		if *username == "" || *email == "" {
			return command{}, fmt.Errorf("%w: createsuperuser needs -username and -email", errUsage)
		}
		return command{name: name, exec: func(ctx context.Context, e env) error {
			return createSuperuser(ctx, e, *username, *email)
		}}, nil

	case "import-films":
		if err := fs.Parse(rest); err != nil {
			return command{}, err
		}
		if fs.NArg() != 1 {
			return command{}, fmt.Errorf("%w: import-films needs exactly one file", errUsage)
		}
		path := fs.Arg(0)
		return command{name: name, exec: func(ctx context.Context, e env) error {
			return importFilms(ctx, e, path)
		}}, nil

	case "purge-tokens":
		grace := fs.Duration("grace", 0, "keep tokens that expired within this window")
		if err := fs.Parse(rest); err != nil {
			return command{}, err
		}
		if *grace < 0 {
			return command{}, fmt.Errorf("%w: -grace must not be negative", errUsage)
		}
		return command{name: name, exec: func(ctx context.Context, e env) error {
			return purgeTokens(ctx, e, *grace)
		}}, nil

	case "queue":
		if err := fs.Parse(rest); err != nil {
			return command{}, err
		}
		return command{name: name, exec: queueStats}, nil

	default:
		_, _ = fmt.Fprint(stderr, usage)
		return command{}, fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func openIdentity(ctx context.Context, cfg *app.Config) (*sql.DB, db.Dialect, error) {
	dialect, err := db.ParseDialect(cfg.IdentityDriver)
	if err != nil {
		return nil, "", err
	}
	dsn := cfg.PGDSN
	if dialect == db.SQLite {
		dsn = cfg.SQLitePath
	}
	conn, err := db.Open(ctx, dialect, dsn)
	return conn, dialect, err
}

func migrate(ctx context.Context, e env) error {
	conn, dialect, err := openIdentity(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := identity.NewSQLStore(conn, dialect).EnsureSchema(ctx); err != nil {
		return err
	}
	e.logger.Info("identity schema ready", slog.String("driver", string(dialect)))

	pool, err := db.NewPool(ctx, e.cfg.CatalogDSN(), db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := catalog.NewPGStore(pool).EnsureSchema(ctx); err != nil {
		return err
	}
	e.logger.Info("catalog schema ready")
	return nil
}

func createSuperuser(ctx context.Context, e env, username, email string) error {
	password := os.Getenv("SUPERUSER_PASSWORD")
	if password == "" {
		var err error
		if password, err = readPassword(e.stdin, e.stdout); err != nil {
			return err
		}
	}

	conn, dialect, err := openIdentity(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	store := identity.NewSQLStore(conn, dialect)

	redisClient := cache.NewClient(e.cfg.RedisAddr)
	defer redisClient.Close()
	resolver := rbac.NewResolver(rbac.ResolverConfig{
		Store:  store,
		Cache:  cache.NewStore(redisClient),
		TTL:    e.cfg.PermissionCacheTTL,
		Logger: e.logger,
	})
	admin := rbac.NewService(store, resolver, e.cfg.SuperadminRole, e.logger)

	user, err := CreateSuperuser(ctx, store, admin, e.cfg.SuperadminRole, SuperuserInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(e.stdout, "superuser %s created (%s)\n", user.Login, user.ID)
	return nil
}

func importFilms(ctx context.Context, e env, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pool, err := db.NewPool(ctx, e.cfg.CatalogDSN(), db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := cache.NewClient(e.cfg.RedisAddr)
	defer redisClient.Close()
	store := catalog.NewPGStore(pool)
	docs, err := catalog.NewDocumentCache(store, cache.NewStore(redisClient), e.cfg.DocumentCacheTTL, e.logger, nil)
	if err != nil {
		return err
	}

	n, err := ImportFilms(ctx, f, store, docs)
	_, _ = fmt.Fprintf(e.stdout, "imported %d films\n", n)
	return err
}

func purgeTokens(ctx context.Context, e env, grace time.Duration) error {
	cli, err := NewJobsCLI(e.cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer cli.Close()
	info, err := cli.PurgeTokens(ctx, grace)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(e.stdout, "enqueued %s on %s\n", info.ID, info.Queue)
	return nil
}

func queueStats(ctx context.Context, e env) error {
	cli, err := NewJobsCLI(e.cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer cli.Close()
	stats, err := cli.InspectQueue(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(e.stdout).Encode(stats)
}
