package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc"
)

// Dispatcher fans events out to subscribers through a long-lived bounded
// pool. Dispatch returns as soon as the deliveries are queued; each
// subscriber is delivered and recorded independently.
type Dispatcher struct {
	client *http.Client
	store  *Store
	pool   *ants.Pool
	logger *slog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight conc.WaitGroup
}

// NewDispatcher creates a dispatcher. concurrency bounds parallel POSTs.
func NewDispatcher(client *http.Client, store *Store, concurrency int, logger *slog.Logger) (*Dispatcher, error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("create webhook pool: %w", err)
	}
	return &Dispatcher{client: client, store: store, pool: pool, logger: logger}, nil
}

// Dispatch queues ev for every target and returns immediately. Outcomes are
// written to each subscriber's last status. Events dispatched after Close
// are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []Subscription, ev Event) {
	if len(targets) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("Dispatcher closed, dropping event", "event", ev.Name, "targets", len(targets))
		return
	}

	// Deliveries outlive the change that triggered them.
	ctx = context.WithoutCancel(ctx)
	d.inflight.Go(func() {
		var wg sync.WaitGroup
		for _, sub := range targets {
			wg.Add(1)
			if err := d.pool.Submit(func() {
				defer wg.Done()
				d.deliver(ctx, sub, ev)
			}); err != nil {
				wg.Done()
				d.logger.Warn("Webhook delivery not queued",
					"subscription_id", sub.ID, "event", ev.Name, "error", err)
			}
		}
		wg.Wait()
	})
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, ev Event) {
	res := Deliver(ctx, d.client, sub, ev)
	if res.OK {
		d.logger.Debug("Webhook delivered",
			"subscription_id", sub.ID, "event", ev.Name, "duration", res.Duration)
	} else {
		d.logger.Warn("Webhook delivery failed",
			"subscription_id", sub.ID, "event", ev.Name, "status", res.Status)
	}
	if err := d.store.RecordDelivery(ctx, res); err != nil {
		d.logger.Warn("Failed to record delivery",
			"subscription_id", sub.ID, "error", err)
	}
}

// Wait blocks until every queued delivery has finished and been recorded.
func (d *Dispatcher) Wait() {
	if r := d.inflight.WaitAndRecover(); r != nil {
		d.logger.Error("Webhook dispatch panicked", "panic", r.String())
	}
}

// Close stops accepting events, drains queued deliveries and releases the
// pool.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.Wait()
	d.pool.Release()
	return nil
}
