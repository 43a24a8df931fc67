package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// channels are the pg_notify channels fed by the change-feed triggers.
var channels = []string{"metric_changes", "injury_changes"}

// FeedSource listens for trigger notifications on a dedicated connection.
type FeedSource struct {
	dbURL  string
	logger *slog.Logger
}

// NewFeedSource creates a LISTEN/NOTIFY change source.
func NewFeedSource(dbURL string, logger *slog.Logger) *FeedSource {
	return &FeedSource{dbURL: dbURL, logger: logger}
}

// Name implements ChangeSource.
func (f *FeedSource) Name() string { return "feed" }

// Run listens and reconnects on connection loss. Blocks until ctx is
// cancelled.
func (f *FeedSource) Run(ctx context.Context, handle Handler) error {
	backoff := reconnectBackoff

	for {
		err := f.listenLoop(ctx, handle)
		if ctx.Err() != nil {
			f.logger.Info("Change feed stopped (context cancelled)")
			return nil
		}

		f.logger.Error("Change feed disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return nil
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func (f *FeedSource) listenLoop(ctx context.Context, handle Handler) error {
	conn, err := pgx.Connect(ctx, f.dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("LISTEN %s: %w", ch, err)
		}
	}
	f.logger.Info("Change feed connected", "channels", channels)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var change Change
		if err := sonic.UnmarshalString(notification.Payload, &change); err != nil {
			f.logger.Warn("Failed to parse change event",
				"channel", notification.Channel, "payload", notification.Payload, "error", err)
			continue
		}

		// Handled inline: the next notification waits, which keeps per-key
		// order and bounds concurrency to one change at a time.
		if err := handle(ctx, change); err != nil {
			f.logger.Warn("Change handler failed",
				"collection", change.Collection, "key", change.Key, "error", err)
		}
	}
}
