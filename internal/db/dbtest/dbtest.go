// Package dbtest opens migrated throwaway databases for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-pipeline/internal/db"
)

// SQLite returns a migrated SQLite database in a temp dir, closed on cleanup.
func SQLite(t *testing.T) *db.DB {
	t.Helper()

	url := "sqlite://" + filepath.Join(t.TempDir(), "pipeline.db")
	require.NoError(t, db.Migrate(url))

	d, err := db.Open(context.Background(), url, db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}
