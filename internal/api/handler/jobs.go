package handler

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/albapepper/scoracle-pipeline/internal/api/respond"
	"github.com/albapepper/scoracle-pipeline/internal/app"
	"github.com/albapepper/scoracle-pipeline/internal/jobs"
)

// StartSync starts a background sync of one entity.
// @Summary Start a sync job
// @Description Syncs one entity type with the given filters, resuming from the stored cursor unless fresh is set.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body app.SyncRequest true "Sync request"
// @Success 202 {object} jobs.Info
// @Failure 400 {object} respond.ErrorResponse
// @Failure 422 {object} respond.ErrorResponse
// @Router /jobs/sync [post]
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req app.SyncRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	fn, err := h.app.SyncJob(req)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_ENTITY", "unknown entity type", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusAccepted, h.app.Jobs.Start(app.KindSync, req, fn))
}

// StartBackfill starts a per-game or per-team backfill.
// @Summary Start a backfill job
// @Description Syncs an entity once per stored game or team of a season, continuing past failed units.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body app.BackfillRequest true "Backfill request"
// @Success 202 {object} jobs.Info
// @Failure 400 {object} respond.ErrorResponse
// @Failure 422 {object} respond.ErrorResponse
// @Router /jobs/backfill [post]
func (h *Handler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	var req app.BackfillRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	fn, err := h.app.BackfillJob(req)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_ENTITY", "unknown entity type", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusAccepted, h.app.Jobs.Start(app.KindBackfill, req, fn))
}

// StartRefresh starts a full refresh of one season.
// @Summary Start a refresh job
// @Description Syncs every season feed, then rebuilds standings and matchups.
// @Tags jobs
// @Produce json
// @Param season query int false "Season (defaults to REFRESH_SEASON)"
// @Success 202 {object} jobs.Info
// @Failure 400 {object} respond.ErrorResponse
// @Router /jobs/refresh [post]
func (h *Handler) StartRefresh(w http.ResponseWriter, r *http.Request) {
	season, ok := queryInt(r, "season", h.app.Config.RefreshSeason)
	if !ok || season <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SEASON", "season must be a positive integer")
		return
	}
	params := map[string]int{"season": season}
	respond.WriteJSONObject(w, http.StatusAccepted, h.app.Jobs.Start(app.KindRefresh, params, h.app.RefreshJob(season)))
}

// StartRebuild rebuilds every metric document of a season from raw rows.
// @Summary Start a rebuild job
// @Description Recomputes documents, standings and matchups of a season from stored raw data.
// @Tags jobs
// @Produce json
// @Param season query int true "Season"
// @Success 202 {object} jobs.Info
// @Failure 400 {object} respond.ErrorResponse
// @Router /jobs/rebuild [post]
func (h *Handler) StartRebuild(w http.ResponseWriter, r *http.Request) {
	season, ok := queryInt(r, "season", 0)
	if !ok || season <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SEASON", "season query parameter is required")
		return
	}
	params := map[string]int{"season": season}
	respond.WriteJSONObject(w, http.StatusAccepted, h.app.Jobs.Start(app.KindRebuild, params, h.app.RebuildJob(season)))
}

// ListJobs lists running and recently finished jobs.
// @Summary List jobs
// @Tags jobs
// @Produce json
// @Success 200 {array} jobs.Info
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, h.app.Jobs.List())
}

// GetJob returns one job.
// @Summary Get a job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} jobs.Info
// @Failure 404 {object} respond.ErrorResponse
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, info)
}

// CancelJob asks a running job to stop.
// @Summary Cancel a job
// @Tags jobs
// @Param id path string true "Job ID"
// @Success 202
// @Failure 404 {object} respond.ErrorResponse
// @Router /jobs/{id} [delete]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Jobs.Cancel(chi.URLParam(r, "id")); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// JobEvents streams a job's events as server-sent events. Past events are
// replayed first; the stream ends after the done event.
// @Summary Stream job events
// @Description Server-sent events: progress, complete, error, done.
// @Tags jobs
// @Produce text/event-stream
// @Param id path string true "Job ID"
// @Success 200 {string} string "event stream"
// @Failure 404 {object} respond.ErrorResponse
// @Router /jobs/{id}/events [get]
func (h *Handler) JobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.WriteError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}
	sub, err := h.app.Jobs.Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := jobs.WriteSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	respond.WriteErrorDetail(w, http.StatusInternalServerError, "INTERNAL", "job lookup failed", err.Error())
}
