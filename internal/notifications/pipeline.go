package notifications

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/albapepper/scoracle-pipeline/internal/listener"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
	"github.com/albapepper/scoracle-pipeline/internal/observability"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
	"github.com/albapepper/scoracle-pipeline/internal/seed"
)

// Notifier turns detected changes into alert evaluations and webhook
// deliveries. It is the handler behind every ChangeSource.
type Notifier struct {
	docs       *metrics.Store
	raw        *seed.Store
	store      *Store
	dispatcher *Dispatcher
	sink       Sink
	logger     *slog.Logger
	now        func() time.Time
	observers  []func(ctx context.Context, c listener.Change)
}

// NewNotifier wires a notifier. sink may be nil.
func NewNotifier(docs *metrics.Store, raw *seed.Store, store *Store, dispatcher *Dispatcher, sink Sink, logger *slog.Logger) *Notifier {
	return &Notifier{
		docs:       docs,
		raw:        raw,
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
		now:        time.Now,
	}
}

// Observe registers a callback run for every change before evaluation.
func (n *Notifier) Observe(fn func(ctx context.Context, c listener.Change)) {
	n.observers = append(n.observers, fn)
}

// HandleChange processes one change. Errors are returned only when the
// change could not be loaded or evaluated, so a polling source retries it;
// delivery failures end up in the subscriber's last status instead.
func (n *Notifier) HandleChange(ctx context.Context, c listener.Change) error {
	ctx, span := observability.StartSpan(ctx, "notifications.HandleChange")
	defer span.End()
	span.SetAttributes(attribute.String("change.collection", c.Collection), attribute.String("change.key", c.Key))

	for _, fn := range n.observers {
		fn(ctx, c)
	}

	switch c.Collection {
	case listener.CollectionMetrics:
		return n.handleMetric(ctx, c)
	case listener.CollectionInjuries:
		return n.handleInjury(ctx, c)
	default:
		n.logger.Warn("Ignoring change from unknown collection", "collection", c.Collection, "key", c.Key)
		return nil
	}
}

type firing struct {
	alert   Alert
	value   float64
	firedAt int64
}

func (n *Notifier) handleMetric(ctx context.Context, c listener.Change) error {
	key, err := metrics.ParseDocKey(c.Key)
	if err != nil {
		n.logger.Warn("Ignoring change with bad document key", "key", c.Key, "error", err)
		return nil
	}
	doc, err := n.docs.Get(ctx, key)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	alerts, err := n.store.AlertsFor(ctx, key)
	if err != nil {
		return err
	}

	// Evaluations are recorded before anything is sent, so a failed record
	// retries the whole change without a double fire.
	var fired []firing
	for _, a := range alerts {
		value, ok := doc.Metrics[a.Metric]
		if !ok {
			continue
		}
		fires := a.Fires(value)
		at, err := n.store.RecordEvaluation(ctx, a.ID, value, fires)
		if err != nil {
			return err
		}
		if fires {
			fired = append(fired, firing{alert: a, value: value, firedAt: at})
		}
	}

	docPayload := documentPayload(doc)
	for _, f := range fired {
		n.logger.Info("Alert fired",
			"alert_id", f.alert.ID, "doc_key", doc.Key(), "metric", f.alert.Metric,
			"operator", f.alert.Operator, "threshold", f.alert.Value, "value", f.value)

		sub, err := n.store.GetSubscription(ctx, f.alert.WebhookID)
		if err != nil {
			n.logger.Warn("Alert subscription unavailable", "alert_id", f.alert.ID, "error", err)
			continue
		}
		if !sub.Active {
			continue
		}
		f.alert.LastFiredAt = &f.firedAt
		f.alert.LastValue = &f.value
		n.send(ctx, doc.Key(), []Subscription{*sub}, EventMetricThreshold, map[string]any{
			"alert":    f.alert,
			"metric":   f.alert.Metric,
			"value":    f.value,
			"document": docPayload,
		})
	}

	subs, err := n.store.SubscriptionsFor(ctx, EventMetricUpdate)
	if err != nil {
		n.logger.Warn("Failed to load subscriptions", "event", EventMetricUpdate, "error", err)
		return nil
	}
	n.send(ctx, doc.Key(), subs, EventMetricUpdate, docPayload)
	return nil
}

func (n *Notifier) handleInjury(ctx context.Context, c listener.Change) error {
	row, err := n.raw.Get(ctx, provider.Injury, c.Key)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	fields, err := row.Fields()
	if err != nil {
		n.logger.Warn("Ignoring unreadable injury", "key", c.Key, "error", err)
		return nil
	}

	payload := map[string]any{
		"player_id":  row.PlayerID,
		"team_id":    row.TeamID,
		"injury":     fields,
		"updated_at": row.UpdatedAt,
	}
	subs, err := n.store.SubscriptionsFor(ctx, EventInjuryUpdate)
	if err != nil {
		n.logger.Warn("Failed to load subscriptions", "event", EventInjuryUpdate, "error", err)
		return nil
	}
	n.send(ctx, "injury:"+c.Key, subs, EventInjuryUpdate, payload)
	return nil
}

func (n *Notifier) send(ctx context.Context, key string, subs []Subscription, name string, payload map[string]any) {
	ev := Event{Name: name, Payload: payload, SentAt: n.now().UTC()}
	if n.sink != nil {
		if err := n.sink.Publish(ctx, key, ev); err != nil {
			n.logger.Warn("Event sink publish failed", "event", name, "key", key, "error", err)
		}
	}
	n.dispatcher.Dispatch(ctx, subs, ev)
}

func documentPayload(doc *metrics.Document) map[string]any {
	return map[string]any{
		"doc_key":     doc.Key(),
		"entity_type": doc.EntityType,
		"entity_id":   doc.EntityID,
		"season":      doc.Season,
		"scope":       doc.Scope,
		"metrics":     doc.Metrics,
		"game_count":  doc.GameCount,
		"updated_at":  doc.UpdatedAt,
	}
}
