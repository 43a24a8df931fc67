package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration for the URL's dialect.
func Migrate(rawURL string) error {
	m, err := newMigrator(rawURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the given number of migrations.
func MigrateDown(rawURL string, steps int) error {
	m, err := newMigrator(rawURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// MigrationVersion returns the applied version and dirty flag.
func MigrationVersion(rawURL string) (uint, bool, error) {
	m, err := newMigrator(rawURL)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrator(rawURL string) (*migrate.Migrate, error) {
	dialect, err := DialectOf(rawURL)
	if err != nil {
		return nil, err
	}

	sub, err := fs.Sub(migrationFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dialect, rawURL))
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// migrateURL rewrites the application URL into the scheme registered by the
// golang-migrate driver.
func migrateURL(dialect Dialect, rawURL string) string {
	if dialect == DialectSQLite {
		return "sqlite://" + SQLitePath(rawURL)
	}
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(rawURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(rawURL, prefix)
		}
	}
	return rawURL
}
