// Package gateway exposes the admin and observability HTTP surface:
// liveness, status, Prometheus metrics, the ZDR violation log, a live
// state-transition event feed, and the chat-completion endpoint backed
// by the routing pipeline.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/health"
	"github.com/flemzord/llmgate/internal/privacy"
	"github.com/flemzord/llmgate/internal/router"
)

// Config configures the admin HTTP server.
type Config struct {
	// Listen is the bind address.
	Listen string

	// AuthToken protects the admin endpoints with bearer auth. When
	// empty, the admin group is not mounted.
	AuthToken string
}

// Deps are the collaborators the gateway surfaces.
type Deps struct {
	Health     *health.Registry
	Breakers   *breaker.Registry
	Audit      *privacy.AuditLog
	Router     *router.Router
	Candidates []string
	Metrics    *Metrics
	Events     *EventHub
	Logger     *slog.Logger
}

// Gateway is the admin HTTP server.
type Gateway struct {
	cfg       Config
	deps      Deps
	logger    *slog.Logger
	startedAt time.Time
	server    *http.Server
}

// New creates a gateway server. It does not start listening.
func New(cfg Config, deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
	g.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Start blocks serving HTTP until Shutdown is called.
func (g *Gateway) Start() error {
	g.logger.Info("gateway listening",
		"component", "gateway",
		"addr", g.cfg.Listen,
	)
	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}
