package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks structural correctness of a loaded configuration.
// All problems are collected and returned as a joined error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("unsupported config version %q (expected \"1\")", cfg.Version))
	}

	if len(cfg.Backends) == 0 {
		errs = append(errs, errors.New("at least one backend must be configured"))
	}

	seen := make(map[string]struct{}, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("backends[%d]: name is required", i))
			continue
		}
		if _, dup := seen[b.Name]; dup {
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = struct{}{}

		if b.BaseURL == "" {
			errs = append(errs, fmt.Errorf("backend %q: base_url is required", b.Name))
		} else if u, err := url.Parse(b.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend %q: invalid base_url %q", b.Name, b.BaseURL))
		}
		if b.APIKey == "" {
			errs = append(errs, fmt.Errorf("backend %q: api_key is required", b.Name))
		}
		if b.Model == "" {
			errs = append(errs, fmt.Errorf("backend %q: model is required", b.Name))
		}
	}

	if cfg.Privacy.DefaultLevel != "" {
		if _, err := cfg.Privacy.PrivacyConfig(); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.CircuitBreaker.FailureThreshold < 0 {
		errs = append(errs, errors.New("circuit_breaker: failure_threshold must not be negative"))
	}
	if cfg.CircuitBreaker.RecoveryTimeoutSecs != nil && *cfg.CircuitBreaker.RecoveryTimeoutSecs < 0 {
		errs = append(errs, errors.New("circuit_breaker: recovery_timeout_secs must not be negative"))
	}
	if cfg.CircuitBreaker.HalfOpenProbes < 0 {
		errs = append(errs, errors.New("circuit_breaker: half_open_probes must not be negative"))
	}

	if cfg.Health.DegradedFailureCount < 0 || cfg.Health.UnhealthyFailureCount < 0 {
		errs = append(errs, errors.New("health: failure thresholds must not be negative"))
	}
	if cfg.Health.CooldownSecs < 0 {
		errs = append(errs, errors.New("health: cooldown_secs must not be negative"))
	}
	if cfg.Health.LatencyWindow != nil && *cfg.Health.LatencyWindow <= 0 {
		errs = append(errs, errors.New("health: latency_window must be positive"))
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry: endpoint is required when enabled"))
	}

	return errors.Join(errs...)
}
