package handler

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/albapepper/scoracle-pipeline/internal/api/respond"
	"github.com/albapepper/scoracle-pipeline/internal/notifications"
)

// WebhookRequest creates or replaces a webhook subscription.
type WebhookRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1,dive,oneof=injury.update metric.update metric.threshold"`
	Secret string   `json:"secret,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

// AlertRequest creates a threshold alert.
type AlertRequest struct {
	EntityType string  `json:"entity_type" validate:"required,oneof=player team"`
	EntityID   int64   `json:"entity_id" validate:"required,gt=0"`
	Season     *int    `json:"season,omitempty" validate:"omitempty,gt=0"`
	Scope      string  `json:"scope,omitempty"`
	Metric     string  `json:"metric" validate:"required"`
	Operator   string  `json:"operator" validate:"required,oneof=gt gte lt lte eq"`
	Value      float64 `json:"value"`
	WebhookID  string  `json:"webhook_id" validate:"required"`
}

// ListWebhooks lists webhook subscriptions with their last delivery status.
// @Summary List webhooks
// @Tags admin
// @Produce json
// @Success 200 {array} notifications.Subscription
// @Router /admin/webhooks [get]
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := h.app.Notifications.ListSubscriptions(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, subs)
}

// CreateWebhook registers a webhook subscription.
// @Summary Create a webhook
// @Tags admin
// @Accept json
// @Produce json
// @Param request body WebhookRequest true "Webhook"
// @Success 201 {object} notifications.Subscription
// @Failure 422 {object} respond.ErrorResponse
// @Router /admin/webhooks [post]
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	h.saveWebhook(w, r, "", http.StatusCreated)
}

// UpdateWebhook replaces a webhook subscription's settings.
// @Summary Update a webhook
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Webhook ID"
// @Param request body WebhookRequest true "Webhook"
// @Success 200 {object} notifications.Subscription
// @Failure 404 {object} respond.ErrorResponse
// @Router /admin/webhooks/{id} [put]
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.app.Notifications.GetSubscription(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	h.saveWebhook(w, r, id, http.StatusOK)
}

func (h *Handler) saveWebhook(w http.ResponseWriter, r *http.Request, id string, status int) {
	var req WebhookRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	sub := &notifications.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret, Active: true}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if err := h.app.Notifications.SaveSubscription(r.Context(), sub); err != nil {
		writeStoreError(w, err)
		return
	}
	saved, err := h.app.Notifications.GetSubscription(r.Context(), sub.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, status, saved)
}

// GetWebhook returns one webhook subscription.
// @Summary Get a webhook
// @Tags admin
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} notifications.Subscription
// @Failure 404 {object} respond.ErrorResponse
// @Router /admin/webhooks/{id} [get]
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	sub, err := h.app.Notifications.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, sub)
}

// DeleteWebhook removes a webhook subscription and its alerts.
// @Summary Delete a webhook
// @Tags admin
// @Param id path string true "Webhook ID"
// @Success 204
// @Failure 404 {object} respond.ErrorResponse
// @Router /admin/webhooks/{id} [delete]
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Notifications.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts lists alerts with their evaluation state.
// @Summary List alerts
// @Tags admin
// @Produce json
// @Success 200 {array} notifications.Alert
// @Router /admin/alerts [get]
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.app.Notifications.ListAlerts(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, alerts)
}

// CreateAlert registers a threshold alert on a metric document.
// @Summary Create an alert
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AlertRequest true "Alert"
// @Success 201 {object} notifications.Alert
// @Failure 404 {object} respond.ErrorResponse
// @Failure 422 {object} respond.ErrorResponse
// @Router /admin/alerts [post]
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if _, err := h.app.Notifications.GetSubscription(r.Context(), req.WebhookID); err != nil {
		writeStoreError(w, err)
		return
	}
	a := &notifications.Alert{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Season:     req.Season,
		Scope:      req.Scope,
		Metric:     req.Metric,
		Operator:   notifications.Operator(req.Operator),
		Value:      req.Value,
		WebhookID:  req.WebhookID,
		Active:     true,
	}
	if err := h.app.Notifications.SaveAlert(r.Context(), a); err != nil {
		writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, a)
}

// DeleteAlert removes an alert.
// @Summary Delete an alert
// @Tags admin
// @Param id path string true "Alert ID"
// @Success 204
// @Failure 404 {object} respond.ErrorResponse
// @Router /admin/alerts/{id} [delete]
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Notifications.DeleteAlert(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCursors lists stored sync cursors, optionally filtered by key prefix.
// @Summary List sync cursors
// @Tags admin
// @Produce json
// @Param prefix query string false "Key prefix, e.g. plays_cursor_game_"
// @Success 200 {array} map[string]interface{}
// @Router /admin/cursors [get]
func (h *Handler) ListCursors(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Cursors.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"key":        rec.Key,
			"cursor":     rec.Cursor,
			"meta":       rec.Meta(),
			"updated_at": rec.UpdatedAt,
		})
	}
	respond.WriteJSONObject(w, http.StatusOK, out)
}

// ResetCursor deletes a stored cursor so the next sync starts over.
// @Summary Reset a sync cursor
// @Tags admin
// @Param key path string true "Cursor key"
// @Success 204
// @Failure 404 {object} respond.ErrorResponse
// @Router /admin/cursors/{key} [delete]
func (h *Handler) ResetCursor(w http.ResponseWriter, r *http.Request) {
	removed, err := h.app.Cursors.Reset(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !removed {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "cursor not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, notifications.ErrNotFound) {
		respond.WriteErrorDetail(w, http.StatusNotFound, "NOT_FOUND", "resource not found", err.Error())
		return
	}
	respond.WriteErrorDetail(w, http.StatusInternalServerError, "STORE_ERROR", "store operation failed", err.Error())
}
