package breaker

import (
	"log/slog"
	"slices"
	"sync"
)

// RegistryOption configures optional Registry behavior.
type RegistryOption func(*Registry)

// WithLogger injects a structured logger into the registry and the
// breakers it creates.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithOnStateChange registers a callback fired after every breaker state
// transition. The callback runs outside breaker locks and must not block.
func WithOnStateChange(fn func(backend string, from, to State)) RegistryOption {
	return func(r *Registry) { r.onStateChange = fn }
}

// Registry holds one circuit breaker per backend, created lazily on
// first reference. Safe for concurrent use.
type Registry struct {
	cfg           Config
	logger        *slog.Logger
	onStateChange func(backend string, from, to State)

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry; the config is cloned into each breaker
// on creation.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	cfg.defaults()
	r := &Registry{
		cfg:      cfg,
		logger:   slog.Default(),
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for a backend, creating it if needed.
// Lookup is read-locked; on miss the lock is dropped and reacquired for
// writing, with a re-check before insert.
func (r *Registry) Get(backend string) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[backend]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[backend]; ok {
		return cb
	}

	cb := New(backend, r.cfg)
	cb.logger = r.logger
	cb.onStateChange = r.onStateChange
	r.breakers[backend] = cb
	return cb
}

// Check returns the admission decision for a backend.
func (r *Registry) Check(backend string) Decision {
	return r.Get(backend).Check()
}

// RecordSuccess reports a successful outcome for a backend.
func (r *Registry) RecordSuccess(backend string) {
	r.Get(backend).RecordSuccess()
}

// RecordFailure reports a failed outcome for a backend.
func (r *Registry) RecordFailure(backend string) {
	r.Get(backend).RecordFailure()
}

// Stats returns the snapshot for a backend, or false if the backend has
// never been referenced.
func (r *Registry) Stats(backend string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[backend]
	if !ok {
		return Stats{}, false
	}
	return cb.Stats(), true
}

// AllStats returns snapshots for every known backend, sorted by name.
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	stats := make([]Stats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	r.mu.RUnlock()

	slices.SortFunc(stats, func(a, b Stats) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return stats
}

// IsOpen reports whether the circuit for a backend is open. Unknown
// backends are not open.
func (r *Registry) IsOpen(backend string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[backend]
	return ok && cb.State() == StateOpen
}
