// Package observability configures OpenTelemetry export and exposes the
// span helper shared by the pipeline packages.
package observability

import (
	"context"
	"log/slog"
	"strings"

	"github.com/uptrace/uptrace-go/uptrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/albapepper/scoracle-pipeline/internal/config"
)

var (
	tracer   = otel.Tracer("scoracle-pipeline")
	noopSpan = trace.SpanFromContext(context.Background())
)

// InitUptrace configures global OpenTelemetry providers. Returns a shutdown
// func that is safe to call when tracing is disabled.
func InitUptrace(cfg *config.Config, logger *slog.Logger) func(context.Context) error {
	if strings.TrimSpace(cfg.UptraceDSN) == "" {
		logger.Info("Tracing disabled", "reason", "UPTRACE_DSN empty")
		return func(context.Context) error { return nil }
	}

	uptrace.ConfigureOpentelemetry(
		uptrace.WithDSN(cfg.UptraceDSN),
		uptrace.WithServiceName(cfg.ServiceName),
		uptrace.WithServiceVersion(cfg.ServiceVersion),
		uptrace.WithDeploymentEnvironment(cfg.Environment),
	)
	logger.Info("Tracing enabled",
		"service_name", cfg.ServiceName,
		"service_version", cfg.ServiceVersion,
		"environment", cfg.Environment)

	return uptrace.Shutdown
}

// StartSpan starts a child span only when ctx already carries a sampled
// parent, so background loops without a root span pay nothing.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		return ctx, noopSpan
	}
	return tracer.Start(ctx, name)
}
