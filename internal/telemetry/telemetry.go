// Package telemetry configures OpenTelemetry trace export for the
// routing pipeline.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config controls trace export.
type Config struct {
	// Enabled turns tracing on. When false, Setup is a no-op and spans
	// are recorded against the default (noop) tracer provider.
	Enabled bool

	// Endpoint is the OTLP/HTTP collector address, host:port.
	Endpoint string

	// ServiceName identifies this process in traces. Default "llmgate".
	ServiceName string
}

// Setup installs a tracer provider exporting to the configured OTLP
// endpoint. The returned shutdown function flushes pending spans.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "llmgate"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)

	logger.Info("trace export enabled",
		"component", "telemetry",
		"endpoint", cfg.Endpoint,
	)
	return provider.Shutdown, nil
}
