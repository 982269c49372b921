package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.Handler())

	if g.deps.Events != nil {
		r.Get("/ws/events", g.deps.Events.ServeHTTP)
	}

	// Admin endpoints — auth required. Not mounted if no token configured.
	if g.cfg.AuthToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.cfg.AuthToken))
			r.Get("/status", g.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Get("/violations", g.handleViolations())
				r.Get("/violations/recent", g.handleRecentViolations())
			})
			if g.deps.Router != nil {
				r.Post("/v1/chat/completions", g.handleCompletions())
			}
		})
	}

	return r
}
