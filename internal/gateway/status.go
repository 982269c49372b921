package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/health"
	"github.com/flemzord/llmgate/internal/privacy"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string          `json:"status"` // "ok" or "degraded"
	Backends []health.Status `json:"backends"`
}

// handleHealth returns 200 if all configured backends are available,
// 503 if any is not.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}

		for _, b := range g.deps.Candidates {
			status := g.deps.Health.GetStatus(b)
			resp.Backends = append(resp.Backends, status)
			if !status.Available {
				resp.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds int64           `json:"uptime_seconds"`
	Backends      []health.Info   `json:"backends"`
	Breakers      []breaker.Stats `json:"breakers"`
	Violations    int             `json:"violations"`
}

// handleStatus returns the full observability snapshot.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(g.startedAt) / time.Second),
			Backends:      g.deps.Health.AllHealthInfo(),
			Breakers:      g.deps.Breakers.AllStats(),
		}
		if g.deps.Audit != nil {
			resp.Violations = g.deps.Audit.Len()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleViolations returns every recorded ZDR violation.
func (g *Gateway) handleViolations() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		violations := []privacy.Violation{}
		if g.deps.Audit != nil {
			violations = g.deps.Audit.Violations()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(violations)
	}
}

// handleRecentViolations returns the last n violations (default 10).
func (g *Gateway) handleRecentViolations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 10
		if raw := r.URL.Query().Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid n", http.StatusBadRequest)
				return
			}
			n = parsed
		}

		violations := []privacy.Violation{}
		if g.deps.Audit != nil {
			violations = g.deps.Audit.Recent(n)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(violations)
	}
}
