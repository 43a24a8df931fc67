package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/albapepper/scoracle-pipeline/internal/db"
)

// Store reads and writes metric documents.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a document store over d.
func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: time.Now}
}

// WithClock overrides the timestamp source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

type docRow struct {
	DocKey    string `db:"doc_key"`
	EntityTyp string `db:"entity_type"`
	EntityID  int64  `db:"entity_id"`
	Season    int    `db:"season"`
	Scope     string `db:"scope"`
	Provider  string `db:"provider"`
	Computed  string `db:"computed"`
	Metrics   string `db:"metrics"`
	GameCount int    `db:"game_count"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r docRow) document() (Document, error) {
	doc := Document{
		DocKey:    DocKey{EntityType: r.EntityTyp, EntityID: r.EntityID, Season: r.Season, Scope: r.Scope},
		GameCount: r.GameCount,
		UpdatedAt: r.UpdatedAt,
	}
	if err := sonic.UnmarshalString(r.Provider, &doc.Sources.Provider); err != nil {
		return Document{}, fmt.Errorf("decode provider source %s: %w", r.DocKey, err)
	}
	if err := sonic.UnmarshalString(r.Computed, &doc.Sources.Computed); err != nil {
		return Document{}, fmt.Errorf("decode computed source %s: %w", r.DocKey, err)
	}
	if err := sonic.UnmarshalString(r.Metrics, &doc.Metrics); err != nil {
		return Document{}, fmt.Errorf("decode metrics %s: %w", r.DocKey, err)
	}
	return doc, nil
}

const docColumns = "doc_key, entity_type, entity_id, season, scope, provider, computed, metrics, game_count, updated_at"

// Get returns the document for key, or nil when absent.
func (s *Store) Get(ctx context.Context, key DocKey) (*Document, error) {
	var row docRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT "+docColumns+" FROM metric_documents WHERE doc_key = ?"), key.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metric document %s: %w", key, err)
	}
	doc, err := row.document()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListEntity returns every scope stored for one entity and season.
func (s *Store) ListEntity(ctx context.Context, entityType string, entityID int64, season int) ([]Document, error) {
	return s.list(ctx, "WHERE entity_type = ? AND entity_id = ? AND season = ? ORDER BY scope",
		entityType, entityID, season)
}

// ListSeason returns every document of a season, ordered by key.
func (s *Store) ListSeason(ctx context.Context, season int) ([]Document, error) {
	return s.list(ctx, "WHERE season = ? ORDER BY doc_key", season)
}

// ChangedSince returns up to limit documents written after the
// (updatedAt, key) watermark, oldest first.
func (s *Store) ChangedSince(ctx context.Context, updatedAt int64, key string, limit int) ([]Document, error) {
	return s.list(ctx, `WHERE updated_at > ? OR (updated_at = ? AND doc_key > ?)
		ORDER BY updated_at, doc_key LIMIT ?`, updatedAt, updatedAt, key, limit)
}

func (s *Store) list(ctx context.Context, tail string, args ...any) ([]Document, error) {
	rows := []docRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT "+docColumns+" FROM metric_documents "+tail), args...); err != nil {
		return nil, fmt.Errorf("list metric documents: %w", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Upsert writes doc in one statement. A document whose sources and metrics
// are unchanged is not rewritten. Reports whether a row changed; on change
// doc.UpdatedAt is set to the write time.
func (s *Store) Upsert(ctx context.Context, doc *Document) (bool, error) {
	provider, err := encode(doc.Sources.Provider)
	if err != nil {
		return false, err
	}
	computed, err := encode(doc.Sources.Computed)
	if err != nil {
		return false, err
	}
	merged, err := encode(doc.Metrics)
	if err != nil {
		return false, err
	}

	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO metric_documents (`+docColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doc_key) DO UPDATE SET
			provider = excluded.provider,
			computed = excluded.computed,
			metrics = excluded.metrics,
			game_count = excluded.game_count,
			updated_at = excluded.updated_at
		WHERE metric_documents.provider <> excluded.provider
			OR metric_documents.computed <> excluded.computed
			OR metric_documents.metrics <> excluded.metrics`),
		doc.Key(), doc.EntityType, doc.EntityID, doc.Season, doc.scope(),
		provider, computed, merged, doc.GameCount, now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert metric document %s: %w", doc.Key(), err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		doc.UpdatedAt = now
	}
	return n > 0, nil
}

// encode renders v with sorted map keys so equal documents compare equal.
func encode(v any) (string, error) {
	out, err := sonic.ConfigStd.MarshalToString(v)
	if err != nil {
		return "", fmt.Errorf("encode metric document: %w", err)
	}
	return out, nil
}
