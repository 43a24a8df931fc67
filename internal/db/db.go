// Package db opens the pipeline store. Postgres goes through a pgxpool that
// is also exposed as database/sql for sqlx; SQLite goes through modernc.
// Both dialects share the same `?`-placeholder SQL, rebound per driver.
package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/albapepper/scoracle-pipeline/internal/config"
)

// Dialect identifies the SQL backend behind a DB.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// PoolOptions sizes the Postgres pool. Ignored for SQLite.
type PoolOptions struct {
	MinConns    int
	MaxConns    int
	MaxLifetime time.Duration
}

// DB wraps sqlx.DB with the dialect and, for Postgres, the native pool used
// by LISTEN/NOTIFY.
type DB struct {
	*sqlx.DB
	Dialect Dialect
	URL     string
	Pool    *pgxpool.Pool
}

// New opens the database configured in cfg.
func New(ctx context.Context, cfg *config.Config) (*DB, error) {
	return Open(ctx, cfg.DatabaseURL, PoolOptions{
		MinConns:    cfg.DBPoolMinConns,
		MaxConns:    cfg.DBPoolMaxConns,
		MaxLifetime: cfg.DBPoolMaxLife,
	})
}

// Open creates and validates a connection for a postgres:// or sqlite:// URL.
func Open(ctx context.Context, rawURL string, opts PoolOptions) (*DB, error) {
	dialect, err := DialectOf(rawURL)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		return openSQLite(ctx, rawURL)
	}
	return openPostgres(ctx, rawURL, opts)
}

// DialectOf reports which backend a database URL targets.
func DialectOf(rawURL string) (Dialect, error) {
	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(rawURL, "sqlite://"), strings.HasPrefix(rawURL, "sqlite:"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme: %q", redact(rawURL))
	}
}

func openPostgres(ctx context.Context, rawURL string, opts PoolOptions) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if opts.MinConns > 0 {
		poolCfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MaxLifetime > 0 {
		poolCfg.MaxConnLifetime = opts.MaxLifetime
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	return &DB{
		DB:      sqlx.NewDb(sqlDB, "pgx"),
		Dialect: DialectPostgres,
		URL:     rawURL,
		Pool:    pool,
	}, nil
}

func openSQLite(ctx context.Context, rawURL string) (*DB, error) {
	path := SQLitePath(rawURL)
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		dsn = ":memory:"
	}

	x, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; one connection keeps :memory:
	// databases coherent and avoids SQLITE_BUSY under concurrent jobs.
	x.SetMaxOpenConns(1)

	if err := x.PingContext(ctx); err != nil {
		x.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &DB{DB: x, Dialect: DialectSQLite, URL: rawURL}, nil
}

// SQLitePath strips the scheme from a sqlite URL.
func SQLitePath(rawURL string) string {
	p := strings.TrimPrefix(rawURL, "sqlite://")
	p = strings.TrimPrefix(p, "sqlite:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// SupportsChangeFeed reports whether the backend can push change
// notifications (Postgres LISTEN/NOTIFY).
func (d *DB) SupportsChangeFeed() bool {
	return d.Dialect == DialectPostgres && d.Pool != nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (d *DB) HealthCheck(ctx context.Context) error {
	var n int
	return d.QueryRowxContext(ctx, "SELECT 1").Scan(&n)
}

// Close releases the sql handle and the native pool.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.Pool != nil {
		d.Pool.Close()
	}
	return err
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
