package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/albapepper/scoracle-pipeline/internal/db"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
)

// Store persists subscriptions, alerts and delivery outcomes.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a notification store over d.
func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: time.Now}
}

// WithClock overrides the timestamp source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

type subscriptionRow struct {
	ID              string         `db:"id"`
	URL             string         `db:"url"`
	Events          string         `db:"events"`
	Active          bool           `db:"active"`
	Secret          sql.NullString `db:"secret"`
	LastStatus      sql.NullString `db:"last_status"`
	LastStatusCode  sql.NullInt64  `db:"last_status_code"`
	LastDeliveredAt sql.NullInt64  `db:"last_delivered_at"`
	CreatedAt       int64          `db:"created_at"`
}

func (r subscriptionRow) subscription() (Subscription, error) {
	sub := Subscription{
		ID:              r.ID,
		URL:             r.URL,
		Active:          r.Active,
		Secret:          r.Secret.String,
		LastStatus:      r.LastStatus.String,
		LastStatusCode:  int(r.LastStatusCode.Int64),
		LastDeliveredAt: r.LastDeliveredAt.Int64,
		CreatedAt:       r.CreatedAt,
	}
	if err := sonic.UnmarshalString(r.Events, &sub.Events); err != nil {
		return Subscription{}, fmt.Errorf("decode events of subscription %s: %w", r.ID, err)
	}
	return sub, nil
}

const subscriptionColumns = "id, url, events, active, secret, last_status, last_status_code, last_delivered_at, created_at"

// SaveSubscription inserts sub, or updates it when sub.ID already exists.
// An empty ID is assigned a new one. Delivery status is never overwritten.
func (s *Store) SaveSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = newID()
	}
	if sub.CreatedAt == 0 {
		sub.CreatedAt = s.now().UnixMilli()
	}
	events, err := sonic.MarshalString(sub.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	var secret any
	if sub.Secret != "" {
		secret = sub.Secret
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO webhook_subscriptions (id, url, events, active, secret, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			url = excluded.url,
			events = excluded.events,
			active = excluded.active,
			secret = excluded.secret`),
		sub.ID, sub.URL, events, sub.Active, secret, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription %s: %w", sub.ID, err)
	}
	return nil
}

// GetSubscription returns one subscription or ErrNotFound.
func (s *Store) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT "+subscriptionColumns+" FROM webhook_subscriptions WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "subscription %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	sub, err := row.subscription()
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns every subscription, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows := []subscriptionRow{}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+subscriptionColumns+" FROM webhook_subscriptions ORDER BY created_at, id"); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	out := make([]Subscription, 0, len(rows))
	for _, r := range rows {
		sub, err := r.subscription()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// SubscriptionsFor returns the active subscriptions that asked for event.
func (s *Store) SubscriptionsFor(ctx context.Context, event string) ([]Subscription, error) {
	all, err := s.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sub := range all {
		if sub.Wants(event) {
			out = append(out, sub)
		}
	}
	return out, nil
}

// DeleteSubscription removes a subscription and, by cascade, its alerts.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM webhook_subscriptions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "subscription %s", id)
	}
	return nil
}

// RecordDelivery stores a delivery outcome as the subscription's last
// status. It touches only that subscription's row.
func (s *Store) RecordDelivery(ctx context.Context, res DeliveryResult) error {
	var code any
	if res.StatusCode != 0 {
		code = res.StatusCode
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE webhook_subscriptions
		SET last_status = ?, last_status_code = ?, last_delivered_at = ?
		WHERE id = ?`),
		res.Status, code, res.DeliveredAt.UnixMilli(), res.SubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("record delivery for %s: %w", res.SubscriptionID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Alerts
// --------------------------------------------------------------------------

type alertRow struct {
	ID          string          `db:"id"`
	EntityType  string          `db:"entity_type"`
	EntityID    int64           `db:"entity_id"`
	Season      sql.NullInt64   `db:"season"`
	Scope       string          `db:"scope"`
	Metric      string          `db:"metric"`
	Operator    string          `db:"operator"`
	Value       float64         `db:"value"`
	WebhookID   string          `db:"webhook_id"`
	Active      bool            `db:"active"`
	LastFiredAt sql.NullInt64   `db:"last_fired_at"`
	LastValue   sql.NullFloat64 `db:"last_value"`
	CreatedAt   int64           `db:"created_at"`
}

func (r alertRow) alert() Alert {
	a := Alert{
		ID:         r.ID,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Scope:      r.Scope,
		Metric:     r.Metric,
		Operator:   Operator(r.Operator),
		Value:      r.Value,
		WebhookID:  r.WebhookID,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
	}
	if r.Season.Valid {
		season := int(r.Season.Int64)
		a.Season = &season
	}
	if r.LastFiredAt.Valid {
		a.LastFiredAt = &r.LastFiredAt.Int64
	}
	if r.LastValue.Valid {
		a.LastValue = &r.LastValue.Float64
	}
	return a
}

const alertColumns = "id, entity_type, entity_id, season, scope, metric, operator, value, webhook_id, active, last_fired_at, last_value, created_at"

// SaveAlert inserts a, or updates its rule when a.ID already exists. An
// empty ID is assigned a new one. Evaluation state is kept on update.
func (s *Store) SaveAlert(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = s.now().UnixMilli()
	}
	if a.Scope == "" {
		a.Scope = metrics.ScopeSeason
	}
	var season any
	if a.Season != nil {
		season = *a.Season
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO alerts (id, entity_type, entity_id, season, scope, metric, operator, value, webhook_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			entity_type = excluded.entity_type,
			entity_id = excluded.entity_id,
			season = excluded.season,
			scope = excluded.scope,
			metric = excluded.metric,
			operator = excluded.operator,
			value = excluded.value,
			webhook_id = excluded.webhook_id,
			active = excluded.active`),
		a.ID, a.EntityType, a.EntityID, season, a.Scope, a.Metric, string(a.Operator), a.Value, a.WebhookID, a.Active, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", a.ID, err)
	}
	return nil
}

// GetAlert returns one alert or ErrNotFound.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+alertColumns+" FROM alerts WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "alert %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	a := row.alert()
	return &a, nil
}

// ListAlerts returns every alert, oldest first.
func (s *Store) ListAlerts(ctx context.Context) ([]Alert, error) {
	return s.selectAlerts(ctx, "ORDER BY created_at, id")
}

// AlertsFor returns the active alerts watching a document. Alerts without
// a season match every season.
func (s *Store) AlertsFor(ctx context.Context, key metrics.DocKey) ([]Alert, error) {
	scope := key.Scope
	if scope == "" {
		scope = metrics.ScopeSeason
	}
	return s.selectAlerts(ctx, `WHERE active = ? AND entity_type = ? AND entity_id = ? AND scope = ?
		AND (season IS NULL OR season = ?) ORDER BY created_at, id`,
		true, key.EntityType, key.EntityID, scope, key.Season)
}

func (s *Store) selectAlerts(ctx context.Context, tail string, args ...any) ([]Alert, error) {
	rows := []alertRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind("SELECT "+alertColumns+" FROM alerts "+tail), args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]Alert, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.alert())
	}
	return out, nil
}

// DeleteAlert removes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM alerts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "alert %s", id)
	}
	return nil
}

// RecordEvaluation stores the observed value and, when the alert fired,
// stamps last_fired_at.
func (s *Store) RecordEvaluation(ctx context.Context, alertID string, value float64, fired bool) (int64, error) {
	now := s.now().UnixMilli()
	var firedAt any
	if fired {
		firedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE alerts
		SET last_value = ?, last_fired_at = COALESCE(?, last_fired_at)
		WHERE id = ?`), value, firedAt, alertID)
	if err != nil {
		return 0, fmt.Errorf("record evaluation of alert %s: %w", alertID, err)
	}
	return now, nil
}
