// Package syncer runs paginated provider syncs: fetch a page from the
// stored cursor, upsert its items, persist the next cursor, repeat.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/lock"
	"github.com/albapepper/scoracle-pipeline/internal/observability"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/provider/bdl"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

var (
	// ErrJobInProgress is returned when another sync holds the same job key.
	ErrJobInProgress = errors.New("syncer: job already running for key")
	// ErrUnknownEntity is returned for entity types with no raw table.
	ErrUnknownEntity = errors.New("syncer: unknown entity type")
)

// Fetcher fetches one page of a provider resource.
type Fetcher interface {
	FetchPage(ctx context.Context, e provider.EntityType, f provider.Filters, cursor *string) (*bdl.Page, error)
}

// AfterUpsertFunc observes records written by a page. Errors are logged and
// never abort the sync; derived data can always be rebuilt by a sweep.
type AfterUpsertFunc func(ctx context.Context, e provider.EntityType, records []seed.Record) error

// Options tune a single SyncEntity call.
type Options struct {
	// MaxPages bounds the pages fetched in this call. Zero means no bound.
	MaxPages int
	// Resume starts from the stored cursor. Use DefaultOptions for the
	// usual resume=true behaviour.
	Resume bool
	// OnPage is called after each page is persisted.
	OnPage func(Progress)
}

// DefaultOptions resumes from the stored cursor without a page bound.
func DefaultOptions() Options {
	return Options{Resume: true}
}

// Progress describes a persisted page.
type Progress struct {
	Key        string  `json:"key"`
	Page       int     `json:"page"`
	Fetched    int     `json:"fetched"`
	Upserted   int     `json:"upserted"`
	Skipped    int     `json:"skipped"`
	NextCursor *string `json:"next_cursor"`
}

// Result summarizes a SyncEntity call.
type Result struct {
	Key        string  `json:"key"`
	Fetched    int     `json:"fetched"`
	Upserted   int     `json:"upserted"`
	Skipped    int     `json:"skipped"`
	Pages      int     `json:"pages"`
	NextCursor *string `json:"next_cursor"`
	Complete   bool    `json:"complete"`
}

// Engine syncs provider resources into the raw tables.
type Engine struct {
	fetcher     Fetcher
	raw         *seed.Store
	cursors     *cursor.Store
	locker      lock.Locker
	lockTTL     time.Duration
	logger      *slog.Logger
	afterUpsert []AfterUpsertFunc
}

// NewEngine creates a sync engine. locker may be nil, in which case callers
// must serialize syncs of the same key themselves.
func NewEngine(fetcher Fetcher, raw *seed.Store, cursors *cursor.Store, locker lock.Locker, lockTTL time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		fetcher: fetcher,
		raw:     raw,
		cursors: cursors,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// AfterUpsert registers a hook invoked after every page that changed rows.
func (e *Engine) AfterUpsert(fn AfterUpsertFunc) {
	e.afterUpsert = append(e.afterUpsert, fn)
}

// Cursors exposes the cursor store for admin operations.
func (e *Engine) Cursors() *cursor.Store { return e.cursors }

// Raw exposes the raw record store.
func (e *Engine) Raw() *seed.Store { return e.raw }

// SyncEntity pages through entity e scoped by f. Pages are processed in
// provider order and the cursor is persisted after each one, so a failed or
// cancelled call resumes from the last completed page.
func (e *Engine) SyncEntity(ctx context.Context, entity provider.EntityType, f provider.Filters, opts Options) (Result, error) {
	if entity.Table() == "" {
		return Result{}, errors.Wrapf(ErrUnknownEntity, "%q", entity)
	}
	key := provider.JobKey(entity, f)
	res := Result{Key: key}

	ctx, span := observability.StartSpan(ctx, "syncer.SyncEntity")
	defer span.End()
	span.SetAttributes(attribute.String("sync.key", key))

	if e.locker != nil {
		release, err := e.locker.TryAcquire(ctx, key, e.lockTTL)
		if errors.Is(err, lock.ErrLocked) {
			return res, errors.Wrapf(ErrJobInProgress, "%s", key)
		}
		if err != nil {
			return res, err
		}
		defer release()
	}

	var cur *string
	if opts.Resume {
		stored, err := e.cursors.Get(ctx, key)
		if err != nil {
			return res, err
		}
		cur = stored
	}
	res.NextCursor = cur

	logger := e.logger.With("entity", string(entity), "key", key)
	logger.Info("Sync starting", "resume", opts.Resume, "cursor", deref(cur), "max_pages", opts.MaxPages)

	for opts.MaxPages <= 0 || res.Pages < opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := e.fetcher.FetchPage(ctx, entity, f, cur)
		if err != nil {
			return res, errors.Wrapf(err, "fetch %s page %d", key, res.Pages+1)
		}

		// An empty page ends the job even if the provider hands back a
		// cursor. The used cursor stays stored so the next run retries it.
		if len(page.Items) == 0 {
			res.Complete = page.NextCursor == nil
			if err := e.cursors.Set(ctx, key, cur, e.meta(entity, f, res, true)); err != nil {
				return res, err
			}
			break
		}

		records, skipped := decodeItems(entity, f, page, logger)
		upserted, err := e.raw.Upsert(ctx, entity, records)
		if err != nil {
			// Cursor untouched: the page is replayed on the next run.
			return res, errors.Wrapf(err, "store %s page %d", key, res.Pages+1)
		}

		res.Pages++
		res.Fetched += len(page.Items)
		res.Skipped += skipped
		res.Upserted += upserted
		res.NextCursor = page.NextCursor
		res.Complete = page.NextCursor == nil

		if err := e.cursors.Set(ctx, key, page.NextCursor, e.meta(entity, f, res, false)); err != nil {
			return res, err
		}
		cur = page.NextCursor

		if upserted > 0 {
			e.runHooks(ctx, entity, records, logger)
		}
		if opts.OnPage != nil {
			opts.OnPage(Progress{
				Key:        key,
				Page:       res.Pages,
				Fetched:    res.Fetched,
				Upserted:   res.Upserted,
				Skipped:    res.Skipped,
				NextCursor: cur,
			})
		}
		if res.Complete {
			break
		}
	}

	span.SetAttributes(attribute.Int("sync.pages", res.Pages), attribute.Int("sync.upserted", res.Upserted))
	logger.Info("Sync finished",
		"pages", res.Pages,
		"fetched", res.Fetched,
		"upserted", res.Upserted,
		"skipped", res.Skipped,
		"complete", res.Complete)
	return res, nil
}

func (e *Engine) runHooks(ctx context.Context, entity provider.EntityType, records []seed.Record, logger *slog.Logger) {
	for _, fn := range e.afterUpsert {
		if err := fn(ctx, entity, records); err != nil {
			logger.Warn("After-upsert hook failed", "error", err)
		}
	}
}

func (e *Engine) meta(entity provider.EntityType, f provider.Filters, res Result, emptyPage bool) map[string]any {
	m := map[string]any{
		"entity":   string(entity),
		"filters":  f,
		"pages":    res.Pages,
		"fetched":  res.Fetched,
		"upserted": res.Upserted,
		"skipped":  res.Skipped,
		"complete": res.Complete,
	}
	if emptyPage {
		m["empty_page"] = true
	}
	return m
}

// decodeItems decodes a page, skipping items without a usable natural key.
func decodeItems(entity provider.EntityType, f provider.Filters, page *bdl.Page, logger *slog.Logger) ([]seed.Record, int) {
	records := make([]seed.Record, 0, len(page.Items))
	skipped := 0
	for i, raw := range page.Items {
		rec, err := seed.DecodeIn(entity, raw, f)
		if err != nil {
			skipped++
			logger.Warn("Skipping malformed item", "index", i, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
