// Package app wires the routing core and its surfaces from a loaded
// configuration and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/config"
	"github.com/flemzord/llmgate/internal/gateway"
	"github.com/flemzord/llmgate/internal/health"
	"github.com/flemzord/llmgate/internal/llm"
	"github.com/flemzord/llmgate/internal/privacy"
	"github.com/flemzord/llmgate/internal/report"
	"github.com/flemzord/llmgate/internal/router"
	"github.com/flemzord/llmgate/internal/secret"
	"github.com/flemzord/llmgate/internal/telemetry"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server and trace
// exporter.
const shutdownTimeout = 10 * time.Second

// App holds the assembled components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	breakers *breaker.Registry
	health   *health.Registry
	audit    *privacy.AuditLog
	router   *router.Router
	gateway  *gateway.Gateway
	reporter *report.Reporter
	secrets  []*secret.Secret

	traceShutdown func(context.Context) error
}

// New assembles an App from a validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger}

	traceShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.traceShutdown = traceShutdown

	audit := privacy.NewAuditLog(privacy.WithAuditLogger(logger))
	a.audit = audit

	metricsReg := prometheus.DefaultRegisterer
	metrics := gateway.NewMetrics(metricsReg, audit.Len)
	events := gateway.NewEventHub(logger)

	breakers := breaker.NewRegistry(cfg.CircuitBreaker.BreakerConfig(),
		breaker.WithLogger(logger),
		breaker.WithOnStateChange(func(backend string, from, to breaker.State) {
			metrics.SetBreakerState(backend, to)
			events.Publish(gateway.Event{
				Kind:    "circuit_breaker",
				Backend: backend,
				From:    from.String(),
				To:      to.String(),
			})
		}),
	)
	a.breakers = breakers

	hlth, err := health.NewRegistry(cfg.Health.HealthConfig(),
		health.WithLogger(logger),
		health.WithBreakers(breakers),
	)
	if err != nil {
		return nil, err
	}
	a.health = hlth

	privacyCfg, err := cfg.Privacy.PrivacyConfig()
	if err != nil {
		return nil, err
	}
	scanner := privacy.NewScanner(privacyCfg, privacy.WithScannerLogger(logger))

	transports := make(map[string]router.ChatClient, len(cfg.Backends))
	for _, b := range cfg.Backends {
		key := secret.New(b.APIKey)
		a.secrets = append(a.secrets, key)
		transports[b.Name] = llm.NewClient(b.BaseURL, key, llm.WithLogger(logger))
	}

	var routerAudit *privacy.AuditLog
	if privacyCfg.AuditZDRViolations {
		routerAudit = audit
	}

	rt, err := router.New(router.Config{
		Scanner:    scanner,
		Audit:      routerAudit,
		Health:     hlth,
		Breakers:   breakers,
		Transports: transports,
		ZDR:        cfg.ZDRMap(),
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}
	a.router = rt

	a.gateway = gateway.New(gateway.Config{
		Listen:    cfg.Gateway.Listen,
		AuthToken: cfg.Gateway.AuthToken,
	}, gateway.Deps{
		Health:     hlth,
		Breakers:   breakers,
		Audit:      audit,
		Router:     rt,
		Candidates: cfg.CandidateOrder(),
		Metrics:    metrics,
		Events:     events,
		Logger:     logger,
	})

	if cfg.Report.Schedule != "" {
		a.reporter = report.New(cfg.Report.Schedule, hlth, breakers, metrics, logger)
	}

	return a, nil
}

// Router returns the routing pipeline for in-process callers.
func (a *App) Router() *router.Router {
	return a.router
}

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.reporter != nil {
		if err := a.reporter.Start(); err != nil {
			return err
		}
		defer a.reporter.Stop()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.gateway.Start()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("app: gateway: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "component", "app")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.gateway.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.traceShutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	for _, s := range a.secrets {
		s.Zero()
	}
	return errors.Join(errs...)
}
