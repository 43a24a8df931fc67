// Package seed writes provider items into the raw per-entity tables.
// Every write is an upsert keyed by the item's natural key, so replaying a
// page never duplicates rows and always leaves the latest payload.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/albapepper/scoracle-pipeline/internal/config"
	"github.com/albapepper/scoracle-pipeline/internal/db"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

// Record is one decoded provider item ready for upsert.
type Record struct {
	Entity  provider.EntityType
	Keys    provider.Keys
	Payload string
	Fields  map[string]any
}

// Decode parses raw into a Record. Items without a natural key return
// provider.ErrMissingKey.
func Decode(e provider.EntityType, raw json.RawMessage) (Record, error) {
	return DecodeIn(e, raw, provider.Filters{})
}

// DecodeIn is Decode for an item fetched with f; see provider.DescribeIn.
func DecodeIn(e provider.EntityType, raw json.RawMessage, f provider.Filters) (Record, error) {
	fields := map[string]any{}
	if err := sonic.Unmarshal(raw, &fields); err != nil {
		return Record{}, fmt.Errorf("decode %s item: %w", e, err)
	}
	keys, err := provider.DescribeIn(e, fields, f)
	if err != nil {
		return Record{}, err
	}
	return Record{Entity: e, Keys: keys, Payload: string(raw), Fields: fields}, nil
}

// Store upserts and reads raw source records.
type Store struct {
	db        *db.DB
	batchSize int
	now       func() time.Time
}

// NewStore creates a raw record store. batchSize is capped at 500 rows per
// statement.
func NewStore(d *db.DB, batchSize int) *Store {
	if batchSize <= 0 || batchSize > config.MaxUpsertBatchSize {
		batchSize = config.MaxUpsertBatchSize
	}
	return &Store{db: d, batchSize: batchSize, now: time.Now}
}

// WithClock overrides the timestamp source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

const upsertColumns = "natural_key, season, week, postseason, game_id, team_id, player_id, payload, updated_at"

// Upsert writes records of one entity type in batches. Rows whose payload is
// unchanged are left untouched. Returns the number of rows inserted or
// updated.
func (s *Store) Upsert(ctx context.Context, e provider.EntityType, records []Record) (int, error) {
	table := e.Table()
	if table == "" {
		return 0, fmt.Errorf("upsert: unknown entity type %q", e)
	}

	records = dedupe(records)
	changed := 0
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		n, err := s.upsertBatch(ctx, table, records[start:end])
		if err != nil {
			return changed, err
		}
		changed += n
	}
	return changed, nil
}

func (s *Store) upsertBatch(ctx context.Context, table string, batch []Record) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	now := s.now().UnixMilli()
	placeholders := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*9)
	for _, r := range batch {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.Keys.NaturalKey, nullable(r.Keys.Season), nullable(r.Keys.Week), r.Keys.Postseason,
			nullable(r.Keys.GameID), nullable(r.Keys.TeamID), nullable(r.Keys.PlayerID), r.Payload, now,
		)
	}

	query := `INSERT INTO ` + table + ` (` + upsertColumns + `)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (natural_key) DO UPDATE SET
			season = excluded.season,
			week = excluded.week,
			postseason = excluded.postseason,
			game_id = excluded.game_id,
			team_id = excluded.team_id,
			player_id = excluded.player_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at
		WHERE ` + table + `.payload <> excluded.payload`

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("upsert %s batch of %d: %w", table, len(batch), err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// dedupe keeps the last record per natural key. A single INSERT may not
// touch the same conflict target twice.
func dedupe(records []Record) []Record {
	seen := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := seen[r.Keys.NaturalKey]; ok {
			out[i] = r
			continue
		}
		seen[r.Keys.NaturalKey] = len(out)
		out = append(out, r)
	}
	return out
}

// nullable unwraps an optional column value so drivers see either the value
// or a SQL NULL.
func nullable[T int | int64](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
