// Package notifications evaluates threshold alerts and delivers change
// events to webhook subscribers.
//
// Pipeline: change detected → load document → evaluate alerts → fan out
// deliveries → record each subscriber's outcome. Delivery is a pure step
// that returns a DeliveryResult; persisting it is separate.
package notifications

import (
	"time"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Event names a subscription can ask for.
const (
	EventInjuryUpdate    = "injury.update"
	EventMetricUpdate    = "metric.update"
	EventMetricThreshold = "metric.threshold"
)

const (
	defaultWebhookTimeout = 7 * time.Second
	defaultConcurrency    = 4
	signatureHeader       = "X-Scoracle-Signature"
	eventHeader           = "X-Scoracle-Event"
	maxStatusBody         = 200
)

// ErrNotFound is returned for unknown subscriptions and alerts.
var ErrNotFound = errors.New("notifications: not found")

// KnownEvents lists every event a subscription may request.
var KnownEvents = []string{EventInjuryUpdate, EventMetricUpdate, EventMetricThreshold}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Event is the body posted to a subscriber.
type Event struct {
	Name    string         `json:"event"`
	Payload map[string]any `json:"payload"`
	SentAt  time.Time      `json:"sent_at"`
}

// Subscription is a webhook endpoint.
type Subscription struct {
	ID              string   `json:"id"`
	URL             string   `json:"url"`
	Events          []string `json:"events"`
	Active          bool     `json:"active"`
	Secret          string   `json:"-"`
	LastStatus      string   `json:"last_status,omitempty"`
	LastStatusCode  int      `json:"last_status_code,omitempty"`
	LastDeliveredAt int64    `json:"last_delivered_at,omitempty"`
	CreatedAt       int64    `json:"created_at"`
}

// Wants reports whether the subscription is active and asked for event.
func (s Subscription) Wants(event string) bool {
	if !s.Active {
		return false
	}
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Alert is a threshold rule on one metric of one document.
type Alert struct {
	ID          string   `json:"id"`
	EntityType  string   `json:"entity_type"`
	EntityID    int64    `json:"entity_id"`
	Season      *int     `json:"season,omitempty"`
	Scope       string   `json:"scope"`
	Metric      string   `json:"metric"`
	Operator    Operator `json:"operator"`
	Value       float64  `json:"value"`
	WebhookID   string   `json:"webhook_id"`
	Active      bool     `json:"active"`
	LastFiredAt *int64   `json:"last_fired_at,omitempty"`
	LastValue   *float64 `json:"last_value,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

// DeliveryResult is the outcome of one webhook POST.
type DeliveryResult struct {
	SubscriptionID string        `json:"subscription_id"`
	Event          string        `json:"event"`
	StatusCode     int           `json:"status_code"`
	Status         string        `json:"status"`
	OK             bool          `json:"ok"`
	DeliveredAt    time.Time     `json:"delivered_at"`
	Duration       time.Duration `json:"duration"`
}
