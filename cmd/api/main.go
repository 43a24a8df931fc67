// Command api is the Scoracle pipeline server. Besides the HTTP API it runs
// the change notifier, scheduled maintenance and job housekeeping.
//
// Usage:
//
//	scoracle-api
//	API_PORT=8080 DATABASE_URL=sqlite://scoracle.db scoracle-api

// @title Scoracle Pipeline API
// @version 1.0.0
// @description NFL ingestion pipeline: sync jobs with live progress, merged metric documents, standings, matchups and webhook administration.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @contact.name Scoracle
// @license.name MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/scoracle-pipeline/internal/api"
	"github.com/albapepper/scoracle-pipeline/internal/app"
	"github.com/albapepper/scoracle-pipeline/internal/config"
	"github.com/albapepper/scoracle-pipeline/internal/logging"
	"github.com/albapepper/scoracle-pipeline/internal/observability"

	_ "github.com/albapepper/scoracle-pipeline/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logging.New("text", "info").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing := observability.InitUptrace(cfg, logger)
	defer func() { _ = shutdownTracing(context.Background()) }()

	logger.Info("Opening store...")
	a, err := app.New(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("Failed to start pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	logger.Info("Store ready", "dialect", a.DB.Dialect)

	// Change notifier: LISTEN/NOTIFY on Postgres, polling elsewhere
	go func() {
		source := a.ChangeSource(ctx)
		logger.Info("Change notifier started", "source", source.Name())
		if err := source.Run(ctx, a.Notifier.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Change notifier stopped", "error", err)
		}
	}()

	// Scheduled refresh and periodic remerge
	go func() {
		if err := a.Maintenance.Start(ctx); err != nil {
			logger.Error("Maintenance failed to start", "error", err)
		}
	}()

	go a.Jobs.RunGC(ctx, time.Minute)
	go a.Cache.Run(ctx, time.Minute)

	router := api.NewRouter(a)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: job event streams stay open for the life of a job.
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Scoracle Pipeline API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Event streams end when their jobs are cancelled.
	a.Jobs.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
