// Package report runs the periodic health summary job: one log line per
// backend and a refresh of the breaker state gauges.
package report

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/health"
)

// Metrics is the subset of gauge updates the reporter refreshes.
type Metrics interface {
	SetBreakerState(backend string, s breaker.State)
}

// Reporter periodically logs backend health and refreshes gauges.
type Reporter struct {
	schedule string
	health   *health.Registry
	breakers *breaker.Registry
	metrics  Metrics
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a reporter. schedule accepts standard cron expressions and
// @every durations; metrics may be nil.
func New(schedule string, h *health.Registry, b *breaker.Registry, metrics Metrics, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		schedule: schedule,
		health:   h,
		breakers: b,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start registers the job and begins the schedule.
func (r *Reporter) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("report: invalid schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule. A run in progress completes.
func (r *Reporter) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// run emits one summary pass.
func (r *Reporter) run() {
	for _, info := range r.health.AllHealthInfo() {
		r.logger.Info("backend health",
			"component", "report",
			"backend", info.Backend,
			"state", info.State.String(),
			"consecutive_failures", info.ConsecutiveFailures,
			"avg_latency_ms", info.AvgLatencyMS,
			"requests", info.TotalRequests,
		)
	}
	if r.metrics != nil {
		for _, stats := range r.breakers.AllStats() {
			r.metrics.SetBreakerState(stats.Name, stats.State)
		}
	}
}
