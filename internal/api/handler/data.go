package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/albapepper/scoracle-pipeline/internal/api/respond"
	"github.com/albapepper/scoracle-pipeline/internal/cache"
	"github.com/albapepper/scoracle-pipeline/internal/metrics"
)

// serveCached answers from the cache when possible; otherwise it loads,
// encodes and caches the value. load returning nil means not found.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, load func() (any, error)) {
	if data, etag, ok := h.app.Cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	v, err := load()
	if err != nil {
		h.app.Logger.Warn("Query failed", "path", r.URL.Path, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to load data")
		return
	}
	if v == nil {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "no data for "+r.URL.Path)
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "failed to encode response")
		return
	}
	etag := h.app.Cache.Set(key, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}

// GetDocuments returns the metric documents of an entity for a season.
// @Summary Get metric documents
// @Description Returns merged metric documents for a player or team. Without scope, every scope of the season is returned.
// @Tags metrics
// @Produce json
// @Param entityType path string true "Entity type" Enums(player, team)
// @Param entityID path int true "Entity ID"
// @Param season query int true "Season year"
// @Param scope query string false "season, week_<n> or game_<id>"
// @Success 200 {array} metrics.Document
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /metrics/{entityType}/{entityID} [get]
func (h *Handler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	if entityType != metrics.EntityPlayer && entityType != metrics.EntityTeam {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_TYPE", "Entity type must be 'player' or 'team'")
		return
	}
	id, ok := pathInt(r, "entityID")
	if !ok {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "ID must be a positive integer")
		return
	}
	season, ok := queryInt(r, "season", 0)
	if !ok || season <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SEASON", "season query parameter is required")
		return
	}
	scope := r.URL.Query().Get("scope")

	key := fmt.Sprintf("%s%d:%s", cache.DocumentKey(entityType, id), season, scope)
	h.serveCached(w, r, key, cache.TTLDocuments, func() (any, error) {
		if scope != "" {
			doc, err := h.app.Docs.Get(r.Context(), metrics.DocKey{EntityType: entityType, EntityID: id, Season: season, Scope: scope})
			if err != nil || doc == nil {
				return nil, err
			}
			return doc, nil
		}
		docs, err := h.app.Docs.ListEntity(r.Context(), entityType, id, season)
		if err != nil || len(docs) == 0 {
			return nil, err
		}
		return docs, nil
	})
}

// GetStandings returns the standings of a season.
// @Summary Get standings
// @Description Regular-season standings ordered by win percentage, then point differential.
// @Tags standings
// @Produce json
// @Param season path int true "Season year"
// @Success 200 {array} standings.Standing
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /standings/{season} [get]
func (h *Handler) GetStandings(w http.ResponseWriter, r *http.Request) {
	season, ok := pathInt(r, "season")
	if !ok {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_SEASON", "season must be a positive integer")
		return
	}
	h.serveCached(w, r, cache.StandingsKey(int(season)), cache.TTLStandings, func() (any, error) {
		rows, err := h.app.Standings.Standings(r.Context(), int(season))
		if err != nil || len(rows) == 0 {
			return nil, err
		}
		return rows, nil
	})
}

// GetMatchup returns the matchup summary of a game.
// @Summary Get a matchup
// @Description Side-by-side team season metrics for a game.
// @Tags standings
// @Produce json
// @Param gameID path int true "Game ID"
// @Success 200 {object} standings.Matchup
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /matchups/{gameID} [get]
func (h *Handler) GetMatchup(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathInt(r, "gameID")
	if !ok {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ID", "game ID must be a positive integer")
		return
	}
	h.serveCached(w, r, cache.MatchupKey(gameID), cache.TTLMatchups, func() (any, error) {
		m, err := h.app.Standings.Matchup(r.Context(), gameID)
		if err != nil || m == nil {
			return nil, err
		}
		return m, nil
	})
}
