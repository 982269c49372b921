// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for llmgate.
package config

import (
	"time"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/health"
	"github.com/flemzord/llmgate/internal/privacy"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Gateway configures the admin/observability HTTP server.
	Gateway GatewayConfig `yaml:"gateway"`

	// Privacy configures prompt classification and ZDR auditing.
	Privacy PrivacyConfig `yaml:"privacy"`

	// CircuitBreaker configures per-backend admission gating.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Health configures per-backend health classification.
	Health HealthConfig `yaml:"health"`

	// Backends lists provider endpoints in routing preference order.
	Backends []BackendConfig `yaml:"backends"`

	// Telemetry configures OpenTelemetry trace export.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Report configures the periodic health reporter.
	Report ReportConfig `yaml:"report"`
}

// GatewayConfig configures the admin HTTP server.
type GatewayConfig struct {
	// Listen is the bind address, e.g. "127.0.0.1:8080".
	Listen string `yaml:"listen"`

	// AuthToken protects the admin endpoints. Empty disables them.
	AuthToken string `yaml:"auth_token"`
}

// PrivacyConfig configures the scanner and audit log.
type PrivacyConfig struct {
	DefaultLevel            string   `yaml:"default_level"`
	StrictPatterns          []string `yaml:"strict_patterns"`
	AuditZDRViolations      *bool    `yaml:"audit_zdr_violations"`
	PreferLocalForSensitive *bool    `yaml:"prefer_local_for_sensitive"`
}

// CircuitBreakerConfig configures admission gating.
// RecoveryTimeoutSecs is nullable because zero is meaningful: it makes
// the recovery window always elapsed, which is distinct from omitting
// the key (use the default).
type CircuitBreakerConfig struct {
	FailureThreshold    int   `yaml:"failure_threshold"`
	RecoveryTimeoutSecs *int  `yaml:"recovery_timeout_secs"`
	HalfOpenProbes      int   `yaml:"half_open_probes"`
	Enabled             *bool `yaml:"enabled"`
}

// HealthConfig configures health classification.
// LatencyWindow is nullable so that an explicit zero can be rejected
// instead of being mistaken for an omitted key.
type HealthConfig struct {
	DegradedLatencyMS     uint64 `yaml:"degraded_latency_ms"`
	DegradedFailureCount  int    `yaml:"degraded_failure_count"`
	UnhealthyFailureCount int    `yaml:"unhealthy_failure_count"`
	CooldownSecs          int    `yaml:"cooldown_secs"`
	LatencyWindow         *int   `yaml:"latency_window"`
}

// BackendConfig describes one provider endpoint.
type BackendConfig struct {
	// Name is the backend identity used across all registries.
	Name string `yaml:"name"`

	// BaseURL is the provider API root, e.g. "https://api.openai.com/v1".
	BaseURL string `yaml:"base_url"`

	// APIKey is the credential; use ${VAR} expansion to keep it out of
	// the file.
	APIKey string `yaml:"api_key"`

	// Model is the default model identifier for this backend.
	Model string `yaml:"model"`

	// ZDR marks the backend as contractually zero-data-retention.
	ZDR bool `yaml:"zdr"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// ReportConfig configures the periodic health reporter.
type ReportConfig struct {
	// Schedule is a cron expression or @every duration. Empty disables
	// the reporter.
	Schedule string `yaml:"schedule"`
}

// BreakerConfig converts the section into the breaker package's config.
func (c CircuitBreakerConfig) BreakerConfig() breaker.Config {
	cfg := breaker.DefaultConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.RecoveryTimeoutSecs != nil {
		cfg.RecoveryTimeout = time.Duration(*c.RecoveryTimeoutSecs) * time.Second
	}
	if c.HalfOpenProbes > 0 {
		cfg.HalfOpenProbes = c.HalfOpenProbes
	}
	if c.Enabled != nil {
		cfg.Enabled = *c.Enabled
	}
	return cfg
}

// HealthConfig converts the section into the health package's config.
func (c HealthConfig) HealthConfig() health.Config {
	cfg := health.DefaultConfig()
	if c.DegradedLatencyMS > 0 {
		cfg.DegradedLatencyMS = c.DegradedLatencyMS
	}
	if c.DegradedFailureCount > 0 {
		cfg.DegradedFailureCount = c.DegradedFailureCount
	}
	if c.UnhealthyFailureCount > 0 {
		cfg.UnhealthyFailureCount = c.UnhealthyFailureCount
	}
	if c.CooldownSecs > 0 {
		cfg.Cooldown = time.Duration(c.CooldownSecs) * time.Second
	}
	if c.LatencyWindow != nil {
		cfg.LatencyWindow = *c.LatencyWindow
	}
	return cfg
}

// PrivacyConfig converts the section into the privacy package's config.
func (c PrivacyConfig) PrivacyConfig() (privacy.Config, error) {
	cfg := privacy.DefaultConfig()
	if c.DefaultLevel != "" {
		level, err := privacy.ParseLevel(c.DefaultLevel)
		if err != nil {
			return privacy.Config{}, err
		}
		cfg.DefaultLevel = level
	}
	if len(c.StrictPatterns) > 0 {
		cfg.StrictPatterns = c.StrictPatterns
	}
	if c.AuditZDRViolations != nil {
		cfg.AuditZDRViolations = *c.AuditZDRViolations
	}
	if c.PreferLocalForSensitive != nil {
		cfg.PreferLocalForSensitive = *c.PreferLocalForSensitive
	}
	return cfg, nil
}

// ZDRMap returns the backend → ZDR capability map.
func (c *Config) ZDRMap() map[string]bool {
	m := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		m[b.Name] = b.ZDR
	}
	return m
}

// CandidateOrder returns backend names in configured preference order.
func (c *Config) CandidateOrder() []string {
	names := make([]string, 0, len(c.Backends))
	for _, b := range c.Backends {
		names = append(names, b.Name)
	}
	return names
}
