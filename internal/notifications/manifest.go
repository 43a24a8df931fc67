package notifications

import (
	"context"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Manifest declares subscriptions and their alerts, for example:
//
//	subscriptions:
//	  - id: ops-hook
//	    url: https://hooks.example.com/scoracle
//	    events: [metric.update, injury.update]
//	    alerts:
//	      - entity_type: player
//	        entity_id: 7
//	        metric: passer_rating
//	        operator: gt
//	        value: 95
type Manifest struct {
	Subscriptions []ManifestSubscription `yaml:"subscriptions" validate:"dive"`
}

// ManifestSubscription is one webhook with its alerts.
type ManifestSubscription struct {
	ID     string          `yaml:"id"`
	URL    string          `yaml:"url" validate:"required,url"`
	Events []string        `yaml:"events" validate:"dive,oneof=injury.update metric.update metric.threshold"`
	Secret string          `yaml:"secret"`
	Active *bool           `yaml:"active"`
	Alerts []ManifestAlert `yaml:"alerts" validate:"dive"`
}

// ManifestAlert is one alert rule.
type ManifestAlert struct {
	ID         string  `yaml:"id"`
	EntityType string  `yaml:"entity_type" validate:"required,oneof=player team"`
	EntityID   int64   `yaml:"entity_id" validate:"required,gt=0"`
	Season     *int    `yaml:"season" validate:"omitempty,gt=0"`
	Scope      string  `yaml:"scope"`
	Metric     string  `yaml:"metric" validate:"required"`
	Operator   string  `yaml:"operator" validate:"required,oneof=gt gte lt lte eq"`
	Value      float64 `yaml:"value"`
	Active     *bool   `yaml:"active"`
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(r io.Reader, v *validator.Validate) (*Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := v.Struct(&m); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	return &m, nil
}

// ApplyResult counts what a manifest wrote.
type ApplyResult struct {
	Subscriptions int `json:"subscriptions"`
	Alerts        int `json:"alerts"`
}

// ApplyManifest saves every subscription and alert in m. Entries with an
// id are updated in place, so re-applying a manifest is idempotent.
func (s *Store) ApplyManifest(ctx context.Context, m *Manifest) (ApplyResult, error) {
	var res ApplyResult
	for _, ms := range m.Subscriptions {
		sub := &Subscription{
			ID:     ms.ID,
			URL:    ms.URL,
			Events: ms.Events,
			Secret: ms.Secret,
			Active: boolOr(ms.Active, true),
		}
		if sub.Events == nil {
			sub.Events = []string{}
		}
		if err := s.SaveSubscription(ctx, sub); err != nil {
			return res, err
		}
		res.Subscriptions++

		for _, ma := range ms.Alerts {
			a := &Alert{
				ID:         ma.ID,
				EntityType: ma.EntityType,
				EntityID:   ma.EntityID,
				Season:     ma.Season,
				Scope:      ma.Scope,
				Metric:     ma.Metric,
				Operator:   Operator(ma.Operator),
				Value:      ma.Value,
				WebhookID:  sub.ID,
				Active:     boolOr(ma.Active, true),
			}
			if err := s.SaveAlert(ctx, a); err != nil {
				return res, err
			}
			res.Alerts++
		}
	}
	return res, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
