package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/albapepper/scoracle-pipeline/internal/api/handler"
	"github.com/albapepper/scoracle-pipeline/internal/app"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(a *app.App) http.Handler {
	cfg := a.Config
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip; event streams are left alone

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(a)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Post("/sync", h.StartSync)
			r.Post("/backfill", h.StartBackfill)
			r.Post("/refresh", h.StartRefresh)
			r.Post("/rebuild", h.StartRebuild)
			r.Get("/{id}", h.GetJob)
			r.Delete("/{id}", h.CancelJob)
			r.Get("/{id}/events", h.JobEvents)
		})

		// Derived data
		r.Get("/metrics/{entityType}/{entityID}", h.GetDocuments)
		r.Get("/standings/{season}", h.GetStandings)
		r.Get("/matchups/{gameID}", h.GetMatchup)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Get("/webhooks", h.ListWebhooks)
			r.Post("/webhooks", h.CreateWebhook)
			r.Get("/webhooks/{id}", h.GetWebhook)
			r.Put("/webhooks/{id}", h.UpdateWebhook)
			r.Delete("/webhooks/{id}", h.DeleteWebhook)

			r.Get("/alerts", h.ListAlerts)
			r.Post("/alerts", h.CreateAlert)
			r.Delete("/alerts/{id}", h.DeleteAlert)

			r.Get("/cursors", h.ListCursors)
			r.Delete("/cursors/{key}", h.ResetCursor)
		})
	})

	return otelhttp.NewHandler(r, "scoracle-api")
}
