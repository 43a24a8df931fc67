package listener

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

const (
	defaultPollInterval = 15 * time.Second
	pollBatchSize       = 200
	watermarkPrefix     = "notifier_poll_"
)

// FetchFunc lists changes after the (updatedAt, key) watermark, oldest first.
type FetchFunc func(ctx context.Context, updatedAt int64, key string, limit int) ([]Change, error)

// Watch is one polled collection.
type Watch struct {
	Collection string
	Fetch      FetchFunc
}

// MetricWatch polls metric documents.
func MetricWatch(store *metrics.Store) Watch {
	return Watch{
		Collection: CollectionMetrics,
		Fetch: func(ctx context.Context, updatedAt int64, key string, limit int) ([]Change, error) {
			docs, err := store.ChangedSince(ctx, updatedAt, key, limit)
			if err != nil {
				return nil, err
			}
			out := make([]Change, 0, len(docs))
			for _, d := range docs {
				out = append(out, Change{Collection: CollectionMetrics, Key: d.Key(), UpdatedAt: d.UpdatedAt})
			}
			return out, nil
		},
	}
}

// InjuryWatch polls raw injury rows.
func InjuryWatch(raw *seed.Store) Watch {
	return Watch{
		Collection: CollectionInjuries,
		Fetch: func(ctx context.Context, updatedAt int64, key string, limit int) ([]Change, error) {
			rows, err := raw.ChangedSince(ctx, provider.Injury, updatedAt, key, limit)
			if err != nil {
				return nil, err
			}
			out := make([]Change, 0, len(rows))
			for _, r := range rows {
				out = append(out, Change{Collection: CollectionInjuries, Key: r.NaturalKey, UpdatedAt: r.UpdatedAt})
			}
			return out, nil
		},
	}
}

// PollingSource finds changes by querying each watched collection on a
// fixed interval. Its per-collection watermark lives in the cursor store.
type PollingSource struct {
	cursors  *cursor.Store
	watches  []Watch
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewPollingSource creates a polling change source.
func NewPollingSource(cursors *cursor.Store, watches []Watch, interval time.Duration, logger *slog.Logger) *PollingSource {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollingSource{cursors: cursors, watches: watches, interval: interval, logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source. Used by tests.
func (p *PollingSource) WithClock(now func() time.Time) *PollingSource {
	p.now = now
	return p
}

// Name implements ChangeSource.
func (p *PollingSource) Name() string { return "polling" }

// Run polls until ctx is cancelled. A collection without a stored watermark
// starts at the current time, so history is not replayed as new changes.
func (p *PollingSource) Run(ctx context.Context, handle Handler) error {
	if err := p.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx, handle); err != nil && ctx.Err() == nil {
			p.logger.Warn("Change poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Change polling stopped (context cancelled)")
			return nil
		case <-ticker.C:
		}
	}
}

// Init stores a current-time watermark for collections that have none.
func (p *PollingSource) Init(ctx context.Context) error {
	for _, w := range p.watches {
		key := WatermarkKey(w.Collection)
		cur, err := p.cursors.Get(ctx, key)
		if err != nil {
			return err
		}
		if cur != nil {
			continue
		}
		if err := p.store(ctx, w.Collection, Change{UpdatedAt: p.now().UnixMilli()}); err != nil {
			return err
		}
	}
	return nil
}

// Poll drains every watched collection once and returns the number of
// changes handled. The watermark only moves past a change after the
// handler accepted it.
func (p *PollingSource) Poll(ctx context.Context, handle Handler) (int, error) {
	total := 0
	for _, w := range p.watches {
		n, err := p.pollWatch(ctx, w, handle)
		total += n
		if err != nil {
			return total, fmt.Errorf("poll %s: %w", w.Collection, err)
		}
	}
	return total, nil
}

func (p *PollingSource) pollWatch(ctx context.Context, w Watch, handle Handler) (int, error) {
	raw, err := p.cursors.Get(ctx, WatermarkKey(w.Collection))
	if err != nil {
		return 0, err
	}
	wm := ParseWatermark(raw)

	handled := 0
	for {
		changes, err := w.Fetch(ctx, wm.UpdatedAt, wm.Key, pollBatchSize)
		if err != nil {
			return handled, err
		}
		for _, c := range changes {
			if err := handle(ctx, c); err != nil {
				return handled, fmt.Errorf("handle %s: %w", c.Key, err)
			}
			if err := p.store(ctx, w.Collection, c); err != nil {
				return handled, err
			}
			wm = c
			handled++
		}
		if len(changes) < pollBatchSize {
			return handled, nil
		}
	}
}

func (p *PollingSource) store(ctx context.Context, collection string, c Change) error {
	v := FormatWatermark(c)
	return p.cursors.Set(ctx, WatermarkKey(collection), &v, map[string]any{"collection": collection})
}

// WatermarkKey is the cursor key holding a collection's watermark, e.g.
// notifier_poll_metric_documents or notifier_poll_injuries.
func WatermarkKey(collection string) string {
	return watermarkPrefix + strings.TrimPrefix(collection, "raw_")
}

// FormatWatermark renders "<updated_at ms>|<key>".
func FormatWatermark(c Change) string {
	return strconv.FormatInt(c.UpdatedAt, 10) + "|" + c.Key
}

// ParseWatermark parses FormatWatermark output. Nil or garbage yields the
// zero watermark.
func ParseWatermark(s *string) Change {
	if s == nil {
		return Change{}
	}
	ms, key, _ := strings.Cut(*s, "|")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return Change{}
	}
	return Change{UpdatedAt: n, Key: key}
}
