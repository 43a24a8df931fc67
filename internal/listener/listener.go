// Package listener detects changes to metric documents and injuries. Two
// interchangeable ChangeSource strategies exist: a Postgres LISTEN/NOTIFY
// feed and a watermark-based polling loop. Select probes the database once
// at startup and returns whichever the store supports.
package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/scoracle-pipeline/internal/cursor"
	"github.com/albapepper/scoracle-pipeline/internal/db"
)

// Watched collections.
const (
	CollectionMetrics  = "metric_documents"
	CollectionInjuries = "raw_injuries"
)

// Change identifies one written row. Consumers reload the row by key.
type Change struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Handler processes one change. A returned error stops the polling
// watermark from advancing past the change.
type Handler func(ctx context.Context, c Change) error

// ChangeSource delivers changes to a handler until ctx is cancelled.
type ChangeSource interface {
	Name() string
	Run(ctx context.Context, handle Handler) error
}

const probeTimeout = 5 * time.Second

// Select picks the change source for d. Postgres databases that accept
// LISTEN get a FeedSource; everything else polls.
func Select(ctx context.Context, d *db.DB, cursors *cursor.Store, watches []Watch, interval time.Duration, logger *slog.Logger) ChangeSource {
	if d.SupportsChangeFeed() {
		err := probeListen(ctx, d.URL)
		if err == nil {
			logger.Info("Change source selected", "source", "feed")
			return NewFeedSource(d.URL, logger)
		}
		logger.Warn("Change feed unavailable, falling back to polling", "error", err)
	}
	logger.Info("Change source selected", "source", "polling", "interval", interval)
	return NewPollingSource(cursors, watches, interval, logger)
}

func probeListen(ctx context.Context, dbURL string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return err
		}
	}
	return nil
}
