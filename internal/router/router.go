// Package router orchestrates one chat-completion request across the
// privacy, health, and circuit-breaking layers.
//
// A request is classified, its candidate backends are filtered by ZDR
// capability and availability, and the first eligible candidate is
// called. Transport failures fall through to the next candidate; the
// caller's preference order is preserved throughout.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/health"
	"github.com/flemzord/llmgate/internal/llm"
	"github.com/flemzord/llmgate/internal/privacy"
)

// Sentinel errors for routing outcomes.
var (
	// ErrNoEligibleBackend indicates the privacy or availability filters
	// left zero candidates.
	ErrNoEligibleBackend = errors.New("router: no eligible backend")

	// ErrAllBackendsFailed indicates every eligible candidate failed.
	ErrAllBackendsFailed = errors.New("router: all backends failed")
)

// ChatClient is the transport contract the router dispatches to.
// *llm.Client implements it.
type ChatClient interface {
	ChatWithMetadata(ctx context.Context, req *llm.ChatRequest) (*llm.CallResult, error)
}

// Metrics receives routing outcomes for instrumentation.
type Metrics interface {
	RecordRoute(backend, outcome string, latencyMS uint64)
}

// Config assembles a Router's collaborators.
type Config struct {
	// Scanner classifies prompts. Required.
	Scanner *privacy.Scanner

	// Audit receives ZDR violations. Optional.
	Audit *privacy.AuditLog

	// Health filters unavailable backends and records outcomes. Required.
	Health *health.Registry

	// Breakers gates admissions per backend. Required.
	Breakers *breaker.Registry

	// Transports maps backend names to their chat clients. Required.
	Transports map[string]ChatClient

	// ZDR flags which backends offer zero data retention. Backends
	// missing from the map count as non-ZDR.
	ZDR map[string]bool

	// Logger receives routing diagnostics. Optional.
	Logger *slog.Logger

	// Metrics receives routing outcomes. Optional.
	Metrics Metrics
}

// Router is the per-request admission and dispatch pipeline.
type Router struct {
	scanner    *privacy.Scanner
	audit      *privacy.AuditLog
	health     *health.Registry
	breakers   *breaker.Registry
	transports map[string]ChatClient
	zdr        map[string]bool
	logger     *slog.Logger
	metrics    Metrics
	tracer     trace.Tracer
}

// New creates a router from its collaborators.
func New(cfg Config) (*Router, error) {
	if cfg.Scanner == nil {
		return nil, errors.New("router: scanner is required")
	}
	if cfg.Health == nil {
		return nil, errors.New("router: health registry is required")
	}
	if cfg.Breakers == nil {
		return nil, errors.New("router: breaker registry is required")
	}
	if len(cfg.Transports) == 0 {
		return nil, errors.New("router: at least one transport is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		scanner:    cfg.Scanner,
		audit:      cfg.Audit,
		health:     cfg.Health,
		breakers:   cfg.Breakers,
		transports: cfg.Transports,
		zdr:        cfg.ZDR,
		logger:     logger,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("llmgate/router"),
	}, nil
}

// Route classifies promptText, filters candidates, and dispatches the
// request to the first eligible backend. Candidates are tried in the
// given order; transport failures fall through to the next candidate.
func (r *Router) Route(ctx context.Context, req *llm.ChatRequest, promptText string, candidates []string) (*llm.ChatResponse, error) {
	ctx, span := r.tracer.Start(ctx, "router.route")
	defer span.End()

	scan := r.scanner.Scan(promptText)
	span.SetAttributes(
		attribute.String("privacy.level", scan.Level.String()),
		attribute.Bool("privacy.escalated", scan.Escalated),
	)
	if scan.Escalated {
		r.logger.Info("privacy level escalated",
			"component", "router",
			"level", scan.Level.String(),
			"patterns", len(scan.MatchedPatterns),
		)
	}

	allowed := privacy.FilterZDRBackends(candidates, r.zdr, scan.Level.RequiresZDR())
	available := r.health.FilterAvailable(allowed)
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: %d candidates, %d after privacy filter, 0 available",
			ErrNoEligibleBackend, len(candidates), len(allowed))
	}

	var lastErr error
	for _, backend := range available {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if decision := r.breakers.Check(backend); decision == breaker.Reject {
			r.logger.Debug("backend rejected by circuit breaker",
				"component", "router",
				"backend", backend,
			)
			continue
		}

		client, ok := r.transports[backend]
		if !ok {
			r.logger.Warn("no transport configured for backend",
				"component", "router",
				"backend", backend,
			)
			continue
		}

		result, err := client.ChatWithMetadata(ctx, req)
		if err != nil {
			lastErr = err
			r.health.RecordFailure(backend)
			r.recordMetric(backend, "failure", 0)
			r.logger.Warn("backend failed, trying next candidate",
				"component", "router",
				"backend", backend,
				"error", err,
			)
			continue
		}

		r.health.RecordSuccess(backend, result.LatencyMS)
		if r.audit != nil && !r.zdr[backend] {
			r.audit.RecordViolation(scan.Level, backend, false, scan.MatchedPatterns)
		}
		r.recordMetric(backend, "success", result.LatencyMS)

		span.SetAttributes(
			attribute.String("backend", backend),
			attribute.Int("retries", result.Retries),
			attribute.Int64("latency_ms", int64(result.LatencyMS)),
		)
		return &result.Response, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: last error: %w", ErrAllBackendsFailed, lastErr)
	}
	return nil, fmt.Errorf("%w: all candidates rejected by circuit breakers", ErrAllBackendsFailed)
}

func (r *Router) recordMetric(backend, outcome string, latencyMS uint64) {
	if r.metrics != nil {
		r.metrics.RecordRoute(backend, outcome, latencyMS)
	}
}
