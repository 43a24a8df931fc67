package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/albapepper/scoracle-pipeline/internal/observability"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

// AfterWriteFunc observes a document that was created or changed.
type AfterWriteFunc func(ctx context.Context, doc Document) error

// Engine rebuilds document sources from the raw tables and re-merges them.
type Engine struct {
	raw        *seed.Store
	store      *Store
	logger     *slog.Logger
	afterWrite []AfterWriteFunc
}

// NewEngine creates a merge engine.
func NewEngine(raw *seed.Store, store *Store, logger *slog.Logger) *Engine {
	return &Engine{raw: raw, store: store, logger: logger}
}

// Store returns the document store.
func (e *Engine) Store() *Store { return e.store }

// AfterWrite registers a hook run after every document change.
func (e *Engine) AfterWrite(fn AfterWriteFunc) {
	e.afterWrite = append(e.afterWrite, fn)
}

// Refresh rebuilds both sources of key from raw rows, merges them and
// writes the document. Keys with no source data are not written. Reports
// whether the stored document changed.
func (e *Engine) Refresh(ctx context.Context, key DocKey) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "metrics.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("metrics.doc_key", key.String()))

	sources, err := e.loadSources(ctx, key)
	if err != nil {
		return false, err
	}
	if sources.Empty() {
		return false, nil
	}
	doc := &Document{
		DocKey:    key,
		Sources:   sources,
		Metrics:   MergeSources(sources),
		GameCount: sources.Computed.GameCount,
	}
	if doc.Scope == "" {
		doc.Scope = ScopeSeason
	}
	return e.write(ctx, doc)
}

func (e *Engine) write(ctx context.Context, doc *Document) (bool, error) {
	changed, err := e.store.Upsert(ctx, doc)
	if err != nil || !changed {
		return changed, err
	}
	for _, fn := range e.afterWrite {
		if err := fn(ctx, *doc); err != nil {
			e.logger.Warn("After-write hook failed", "doc_key", doc.Key(), "error", err)
		}
	}
	return true, nil
}

// HandleUpserted re-merges every document affected by freshly upserted raw
// records. It matches the sync engine's after-upsert hook.
func (e *Engine) HandleUpserted(ctx context.Context, entity provider.EntityType, records []seed.Record) error {
	keys := map[string]DocKey{}
	for _, r := range records {
		for _, k := range AffectedKeys(entity, r.Keys) {
			keys[k.String()] = k
		}
	}

	var (
		firstErr error
		failed   int
	)
	for _, name := range slices.Sorted(maps.Keys(keys)) {
		if _, err := e.Refresh(ctx, keys[name]); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return errors.Wrapf(firstErr, "refresh %d of %d documents failed", failed, len(keys))
	}
	return nil
}

// AffectedKeys maps one raw record onto the documents it feeds. Postseason
// rows only feed game scopes.
func AffectedKeys(entity provider.EntityType, k provider.Keys) []DocKey {
	if k.Season == nil {
		return nil
	}
	season := *k.Season
	week := 0
	if k.Week != nil {
		week = *k.Week
	}

	player := func(scopes ...string) []DocKey {
		if k.PlayerID == nil {
			return nil
		}
		out := make([]DocKey, 0, len(scopes))
		for _, s := range scopes {
			out = append(out, DocKey{EntityType: EntityPlayer, EntityID: *k.PlayerID, Season: season, Scope: s})
		}
		return out
	}
	team := func(scopes ...string) []DocKey {
		if k.TeamID == nil {
			return nil
		}
		out := make([]DocKey, 0, len(scopes))
		for _, s := range scopes {
			out = append(out, DocKey{EntityType: EntityTeam, EntityID: *k.TeamID, Season: season, Scope: s})
		}
		return out
	}
	// game_<id> scopes need a game id; season and week scopes skip
	// postseason rows.
	scopes := func() []string {
		var out []string
		if !k.Postseason {
			out = append(out, ScopeSeason)
			if week > 0 {
				out = append(out, WeekScope(week))
			}
		}
		if k.GameID != nil {
			out = append(out, GameScope(*k.GameID))
		}
		return out
	}

	switch entity {
	case provider.SeasonStat:
		if !k.Postseason {
			return player(ScopeSeason)
		}
	case provider.TeamSeasonStat:
		if !k.Postseason {
			return team(ScopeSeason)
		}
	case provider.PlayerGameStat:
		return player(scopes()...)
	case provider.TeamGameStat:
		return team(scopes()...)
	case provider.AdvancedRushing, provider.AdvancedPassing, provider.AdvancedReceiving:
		if k.Postseason {
			return nil
		}
		if week > 0 {
			return player(WeekScope(week))
		}
		return player(ScopeSeason)
	}
	return nil
}

// --------------------------------------------------------------------------
// Source loading
// --------------------------------------------------------------------------

var advancedFeeds = []provider.EntityType{
	provider.AdvancedRushing, provider.AdvancedPassing, provider.AdvancedReceiving,
}

// advancedPrefix namespaces advanced feed fields, which reuse names found
// in the regular season stats.
func advancedPrefix(e provider.EntityType) string {
	return "adv_" + strings.TrimPrefix(string(e), "advanced_") + "_"
}

func (e *Engine) loadSources(ctx context.Context, key DocKey) (Sources, error) {
	regular := false
	base := seed.Query{Season: key.Season}
	var seasonFeed, gameFeed provider.EntityType
	switch key.EntityType {
	case EntityPlayer:
		base.PlayerID = key.EntityID
		seasonFeed, gameFeed = provider.SeasonStat, provider.PlayerGameStat
	case EntityTeam:
		base.TeamID = key.EntityID
		seasonFeed, gameFeed = provider.TeamSeasonStat, provider.TeamGameStat
	default:
		return Sources{}, errors.Wrapf(ErrInvalidKey, "%s: entity type", key)
	}

	src := Sources{Provider: map[string]float64{}}
	gameQuery := base

	switch scope := key.scope(); {
	case scope == ScopeSeason:
		q := base
		q.Postseason = &regular
		if err := e.addProvider(ctx, src.Provider, seasonFeed, q, ""); err != nil {
			return Sources{}, err
		}
		if key.EntityType == EntityPlayer {
			week := 0
			q.Week = &week
			for _, feed := range advancedFeeds {
				if err := e.addProvider(ctx, src.Provider, feed, q, advancedPrefix(feed)); err != nil {
					return Sources{}, err
				}
			}
		}
		gameQuery.Postseason = &regular

	default:
		if week, ok := ScopeWeek(scope); ok {
			gameQuery.Week = &week
			gameQuery.Postseason = &regular
			if key.EntityType == EntityPlayer {
				q := gameQuery
				for _, feed := range advancedFeeds {
					if err := e.addProvider(ctx, src.Provider, feed, q, advancedPrefix(feed)); err != nil {
						return Sources{}, err
					}
				}
			}
			break
		}
		gameID, ok := ScopeGame(scope)
		if !ok {
			return Sources{}, errors.Wrapf(ErrInvalidKey, "%s: scope", key)
		}
		// The per-game row is both the provider's word for that game and
		// the only input to its computed source.
		gameQuery.GameID = gameID
		if err := e.addProvider(ctx, src.Provider, gameFeed, gameQuery, ""); err != nil {
			return Sources{}, err
		}
	}

	rows, err := e.raw.List(ctx, gameFeed, gameQuery)
	if err != nil {
		return Sources{}, err
	}
	values := make([]map[string]float64, 0, len(rows))
	for _, r := range rows {
		fields, err := r.Fields()
		if err != nil {
			return Sources{}, err
		}
		values = append(values, provider.NumericFields(fields))
	}
	src.Computed = Aggregate(values)
	return src, nil
}

func (e *Engine) addProvider(ctx context.Context, dst map[string]float64, feed provider.EntityType, q seed.Query, prefix string) error {
	rows, err := e.raw.List(ctx, feed, q)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fields, err := r.Fields()
		if err != nil {
			return err
		}
		for k, v := range provider.NumericFields(fields) {
			dst[prefix+k] = v
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Season sweeps
// --------------------------------------------------------------------------

// SweepResult summarizes a season-wide pass.
type SweepResult struct {
	Season    int `json:"season"`
	Documents int `json:"documents"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}

// RemergeSeason re-runs the merge over the stored sources of every
// document in a season. Raw tables are not read.
func (e *Engine) RemergeSeason(ctx context.Context, season int) (SweepResult, error) {
	res := SweepResult{Season: season}
	docs, err := e.store.ListSeason(ctx, season)
	if err != nil {
		return res, err
	}
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		doc := &docs[i]
		res.Documents++
		doc.Sources.Computed.Specific = Specific(doc.Sources.Computed.Totals)
		doc.Metrics = MergeSources(doc.Sources)
		doc.GameCount = doc.Sources.Computed.GameCount
		changed, err := e.write(ctx, doc)
		if err != nil {
			res.Failed++
			e.logger.Warn("Re-merge failed", "doc_key", doc.Key(), "error", err)
			continue
		}
		if changed {
			res.Changed++
		}
	}
	e.logger.Info("Season re-merge complete",
		"season", season, "documents", res.Documents, "changed", res.Changed, "failed", res.Failed)
	return res, nil
}

// RebuildSeason discovers every document a season's raw rows feed and
// refreshes each one from the raw tables.
func (e *Engine) RebuildSeason(ctx context.Context, season int) (SweepResult, error) {
	res := SweepResult{Season: season}
	keys := map[string]DocKey{}
	feeds := append([]provider.EntityType{
		provider.SeasonStat, provider.TeamSeasonStat, provider.PlayerGameStat, provider.TeamGameStat,
	}, advancedFeeds...)
	for _, feed := range feeds {
		rows, err := e.raw.List(ctx, feed, seed.Query{Season: season})
		if err != nil {
			return res, err
		}
		for _, r := range rows {
			for _, k := range AffectedKeys(feed, rowKeys(r)) {
				keys[k.String()] = k
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(keys)) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Documents++
		changed, err := e.Refresh(ctx, keys[name])
		if err != nil {
			res.Failed++
			e.logger.Warn("Rebuild failed", "doc_key", name, "error", err)
			continue
		}
		if changed {
			res.Changed++
		}
	}
	e.logger.Info("Season rebuild complete",
		"season", season, "documents", res.Documents, "changed", res.Changed, "failed", res.Failed)
	return res, nil
}

func rowKeys(r seed.Row) provider.Keys {
	return provider.Keys{
		NaturalKey: r.NaturalKey,
		Season:     r.Season,
		Week:       r.Week,
		Postseason: r.Postseason,
		GameID:     r.GameID,
		TeamID:     r.TeamID,
		PlayerID:   r.PlayerID,
	}
}

// String helps log lines that print a sweep.
func (r SweepResult) String() string {
	return fmt.Sprintf("season=%d documents=%d changed=%d failed=%d", r.Season, r.Documents, r.Changed, r.Failed)
}
