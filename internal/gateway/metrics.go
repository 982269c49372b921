package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/llmgate/internal/breaker"
)

// Metrics exposes routing and resilience counters to Prometheus.
// It implements the router's Metrics interface.
type Metrics struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors. violationCount, when
// non-nil, is exported as a gauge sampled at scrape time.
func NewMetrics(reg prometheus.Registerer, violationCount func() int) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Routed chat-completion requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgate",
			Subsystem: "router",
			Name:      "request_duration_ms",
			Help:      "End-to-end request latency per backend in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(50, 2, 12),
		}, []string{"backend"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmgate",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state per backend (0=closed, 1=open, 2=half_open).",
		}, []string{"backend"}),
	}

	reg.MustRegister(m.requests, m.latency, m.breakerState)

	if violationCount != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "llmgate",
			Subsystem: "privacy",
			Name:      "zdr_violations",
			Help:      "ZDR violations recorded since process start.",
		}, func() float64 { return float64(violationCount()) }))
	}

	return m
}

// RecordRoute counts one routed request and, on success, observes its
// latency.
func (m *Metrics) RecordRoute(backend, outcome string, latencyMS uint64) {
	m.requests.WithLabelValues(backend, outcome).Inc()
	if outcome == "success" {
		m.latency.WithLabelValues(backend).Observe(float64(latencyMS))
	}
}

// SetBreakerState publishes a breaker's current state.
func (m *Metrics) SetBreakerState(backend string, s breaker.State) {
	m.breakerState.WithLabelValues(backend).Set(float64(s))
}
