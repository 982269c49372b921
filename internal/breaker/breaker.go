// Package breaker implements per-backend circuit breaking for outbound
// LLM requests.
//
// Each breaker is a three-state machine: closed (normal), open (rejecting
// admissions after too many consecutive failures), and half-open
// (admitting a limited number of probes to test recovery). The
// open→half-open transition happens inside Check when the recovery window
// has elapsed — there is no background timer.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the position of a breaker in its state machine.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText serializes the state as its string form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state from its string form.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateClosed, StateOpen, StateHalfOpen} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("breaker: unknown state %q", text)
}

// Decision is the admission verdict returned by Check.
type Decision int

// Admission decisions.
const (
	// Allow admits the request normally.
	Allow Decision = iota
	// Reject refuses the request because the circuit is open.
	Reject
	// Probe admits the request as a recovery probe in half-open state.
	Probe
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Reject:
		return "reject"
	case Probe:
		return "probe"
	default:
		return "unknown"
	}
}

// Config controls breaker behavior. Zero-valued counters mean "use the
// default"; RecoveryTimeout is used as given, and Enabled must be set
// explicitly (DefaultConfig returns it true).
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a check
	// transitions it to half-open. Zero means the window has always
	// elapsed: the first check after a trip probes immediately.
	// DefaultConfig uses 30s.
	RecoveryTimeout time.Duration

	// HalfOpenProbes is the number of consecutive successful probes in
	// half-open state before the circuit closes. Default: 3.
	HalfOpenProbes int

	// Enabled turns the breaker off entirely when false: checks always
	// allow and recorded outcomes do not mutate state.
	Enabled bool
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenProbes:   3,
		Enabled:          true,
	}
}

// defaults fills zero-valued counters with their defaults.
// RecoveryTimeout is deliberately left alone: zero is a valid window
// that is always already elapsed, not an unset value.
func (c *Config) defaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 3
	}
}

// Stats is a point-in-time snapshot of one breaker.
type Stats struct {
	Name                string `json:"name"`
	State               State  `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalFailures       uint64 `json:"total_failures"`
	TotalSuccesses      uint64 `json:"total_successes"`
	TotalRejections     uint64 `json:"total_rejections"`
}

// CircuitBreaker gates admissions for a single backend.
type CircuitBreaker struct {
	name          string
	cfg           Config
	logger        *slog.Logger
	onStateChange func(name string, from, to State)

	mu                   sync.RWMutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time // zero = no failure recorded yet
	totalFailures        uint64
	totalSuccesses       uint64
	totalRejections      uint64

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// New creates a closed breaker for the named backend.
func New(name string, cfg Config) *CircuitBreaker {
	cfg.defaults()
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default(),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Check returns the admission decision for one request. In open state it
// performs the open→half-open transition once the recovery timeout has
// elapsed; that triggering check returns Probe.
func (b *CircuitBreaker) Check() Decision {
	if !b.cfg.Enabled {
		return Allow
	}

	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return Allow

	case StateOpen:
		if !b.lastFailure.IsZero() && b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.consecutiveSuccesses = 0
			b.mu.Unlock()
			b.logger.Info("transitioning to half-open",
				"component", "circuit_breaker",
				"backend", b.name,
				"recovery_timeout", b.cfg.RecoveryTimeout,
			)
			b.notify(StateOpen, StateHalfOpen)
			return Probe
		}
		b.totalRejections++
		b.mu.Unlock()
		return Reject

	default: // StateHalfOpen
		b.mu.Unlock()
		return Probe
	}
}

// RecordSuccess reports a successful request outcome.
func (b *CircuitBreaker) RecordSuccess() {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	b.totalSuccesses++
	b.consecutiveFailures = 0

	switch b.state {
	case StateClosed:
		b.mu.Unlock()

	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.HalfOpenProbes {
			b.setState(StateClosed)
			b.consecutiveSuccesses = 0
			b.mu.Unlock()
			b.logger.Info("circuit closed",
				"component", "circuit_breaker",
				"backend", b.name,
				"probes", b.cfg.HalfOpenProbes,
			)
			b.notify(StateHalfOpen, StateClosed)
			return
		}
		b.mu.Unlock()

	default: // StateOpen
		// A success while open means a probe raced the state machine.
		// Close defensively rather than discard the signal.
		b.setState(StateClosed)
		b.mu.Unlock()
		b.logger.Info("circuit closed after success while open",
			"component", "circuit_breaker",
			"backend", b.name,
		)
		b.notify(StateOpen, StateClosed)
	}
}

// RecordFailure reports a failed request outcome. The failure timestamp
// is refreshed on every call, including while already open, which
// restarts the recovery clock under sustained failure.
func (b *CircuitBreaker) RecordFailure() {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	b.totalFailures++
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.setState(StateOpen)
			failures := b.consecutiveFailures
			b.mu.Unlock()
			b.logger.Warn("circuit opened",
				"component", "circuit_breaker",
				"backend", b.name,
				"consecutive_failures", failures,
			)
			b.notify(StateClosed, StateOpen)
			return
		}
		b.mu.Unlock()

	case StateHalfOpen:
		b.setState(StateOpen)
		b.mu.Unlock()
		b.logger.Warn("circuit reopened after probe failure",
			"component", "circuit_breaker",
			"backend", b.name,
		)
		b.notify(StateHalfOpen, StateOpen)

	default: // StateOpen
		b.mu.Unlock()
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *CircuitBreaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalFailures:       b.totalFailures,
		TotalSuccesses:      b.totalSuccesses,
		TotalRejections:     b.totalRejections,
	}
}

// setState mutates the state field. Caller must hold the write lock.
func (b *CircuitBreaker) setState(to State) {
	b.state = to
}

// notify fires the state-change callback outside the lock.
func (b *CircuitBreaker) notify(from, to State) {
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}
