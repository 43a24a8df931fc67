// Package cursor is the durable key -> pagination cursor mapping that lets
// interrupted sync jobs resume where they stopped. Each job owns exactly one
// key, so every operation is a single statement.
package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/albapepper/scoracle-pipeline/internal/db"
)

// Record is one row of sync_state.
type Record struct {
	Key       string  `db:"key" json:"key"`
	Cursor    *string `db:"cursor" json:"cursor"`
	RawMeta   string  `db:"meta" json:"-"`
	UpdatedAt int64   `db:"updated_at" json:"updated_at"`
}

// Meta decodes the stored metadata. Undecodable metadata yields an empty map.
func (r Record) Meta() map[string]any {
	m := map[string]any{}
	if r.RawMeta != "" {
		_ = sonic.UnmarshalString(r.RawMeta, &m)
	}
	return m
}

// Store reads and writes cursor records.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a cursor store over d.
func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: time.Now}
}

// WithClock overrides the timestamp source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns the stored cursor for key, or nil when the key has never been
// written or the stream was completed. Store errors are returned as is so
// callers fail closed.
func (s *Store) Get(ctx context.Context, key string) (*string, error) {
	rec, err := s.Record(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Cursor, nil
}

// Record returns the full record for key, or nil when absent.
func (s *Store) Record(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(
		`SELECT key, cursor, meta, updated_at FROM sync_state WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %q: %w", key, err)
	}
	return &rec, nil
}

// Set writes cursor and meta for key. A nil cursor marks the end of stream.
func (s *Store) Set(ctx context.Context, key string, cursor *string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := sonic.MarshalString(meta)
	if err != nil {
		return fmt.Errorf("encode cursor meta %q: %w", key, err)
	}

	var value any
	if cursor != nil {
		value = *cursor
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sync_state (key, cursor, meta, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			cursor = excluded.cursor,
			meta = excluded.meta,
			updated_at = excluded.updated_at`),
		key, value, raw, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set cursor %q: %w", key, err)
	}
	return nil
}

// Reset deletes the record for key. Returns false when nothing was stored.
func (s *Store) Reset(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sync_state WHERE key = ?`), key)
	if err != nil {
		return false, fmt.Errorf("reset cursor %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns records whose key starts with prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]Record, error) {
	records := []Record{}
	err := s.db.SelectContext(ctx, &records, s.db.Rebind(
		`SELECT key, cursor, meta, updated_at FROM sync_state WHERE key LIKE ? ESCAPE '\' ORDER BY key`),
		likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return records, nil
}

// likeEscaper makes a key prefix literal inside a LIKE pattern. Job keys are
// full of underscores.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
