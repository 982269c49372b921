package privacy

import (
	"log/slog"
	"sync"
	"time"
)

// Violation is one recorded ZDR violation.
type Violation struct {
	Timestamp       int64    `json:"timestamp"`
	Level           Level    `json:"privacy_level"`
	Backend         string   `json:"backend"`
	BackendHasZDR   bool     `json:"backend_has_zdr"`
	MatchedPatterns []string `json:"matched_patterns"`
}

// AuditLog records ZDR violations in memory for the process lifetime.
// It is append-only and safe for concurrent use.
type AuditLog struct {
	logger *slog.Logger

	mu         sync.Mutex
	violations []Violation

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// AuditOption configures optional AuditLog behavior.
type AuditOption func(*AuditLog)

// WithAuditLogger injects a structured logger.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLog) { a.logger = l }
}

// NewAuditLog creates an empty audit log.
func NewAuditLog(opts ...AuditOption) *AuditLog {
	a := &AuditLog{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordViolation appends a violation when sensitive-or-stricter traffic
// was sent to a non-ZDR backend. All other combinations are ignored, so
// callers may report every dispatch unconditionally.
func (a *AuditLog) RecordViolation(level Level, backend string, backendHasZDR bool, matchedPatterns []string) {
	if !level.PrefersZDR() || backendHasZDR {
		return
	}

	patterns := make([]string, len(matchedPatterns))
	copy(patterns, matchedPatterns)

	v := Violation{
		Timestamp:       a.now().Unix(),
		Level:           level,
		Backend:         backend,
		BackendHasZDR:   backendHasZDR,
		MatchedPatterns: patterns,
	}

	a.mu.Lock()
	a.violations = append(a.violations, v)
	a.mu.Unlock()

	a.logger.Warn("zdr violation",
		"component", "privacy.audit",
		"level", level.String(),
		"backend", backend,
	)
}

// Violations returns a copy of all recorded violations in append order.
func (a *AuditLog) Violations() []Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Violation, len(a.violations))
	copy(out, a.violations)
	return out
}

// Recent returns a copy of the last n violations in append order.
func (a *AuditLog) Recent(n int) []Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n > len(a.violations) {
		n = len(a.violations)
	}
	out := make([]Violation, n)
	copy(out, a.violations[len(a.violations)-n:])
	return out
}

// Len returns the number of recorded violations.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.violations)
}
