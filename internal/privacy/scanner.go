// Package privacy classifies prompts, filters backends by zero-data-
// retention (ZDR) capability, and records ZDR violations for compliance
// reporting.
package privacy

import (
	"log/slog"
	"regexp"
	"sync"
)

// Config controls privacy classification.
type Config struct {
	// DefaultLevel is applied to prompts with no sensitive matches.
	DefaultLevel Level

	// StrictPatterns are case-insensitive regex fragments that escalate a
	// prompt to the strict level on match.
	StrictPatterns []string

	// AuditZDRViolations enables the violation audit log.
	AuditZDRViolations bool

	// PreferLocalForSensitive is carried through configuration only:
	// neither the scanner nor the router reads it, and candidate order
	// is not changed for sensitive prompts.
	PreferLocalForSensitive bool
}

// DefaultStrictPatterns returns the built-in sensitive pattern list.
func DefaultStrictPatterns() []string {
	return []string{
		`password`,
		`secret`,
		`\bkey\b`,
		`token`,
		`api[_-]?key`,
		`ssn`,
		`social.?security`,
		`credit.?card`,
		`cvv`,
		`private.?key`,
		`-----BEGIN`,
		`bearer\s`,
	}
}

// DefaultConfig returns the default privacy configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLevel:            LevelStandard,
		StrictPatterns:          DefaultStrictPatterns(),
		AuditZDRViolations:      true,
		PreferLocalForSensitive: true,
	}
}

// defaults fills an empty pattern list with the built-in set.
func (c *Config) defaults() {
	if len(c.StrictPatterns) == 0 {
		c.StrictPatterns = DefaultStrictPatterns()
	}
}

// patternSet pairs compiled regexes with the configured source fragments
// so scan results can report which fragment matched.
type patternSet struct {
	compiled []*regexp.Regexp
	sources  []string
}

// compilePatterns compiles each fragment case-insensitively. Malformed
// fragments are skipped with a warning rather than failing construction.
func compilePatterns(patterns []string, logger *slog.Logger) *patternSet {
	ps := &patternSet{}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			logger.Warn("invalid privacy pattern, skipping",
				"component", "privacy",
				"pattern", p,
				"error", err,
			)
			continue
		}
		ps.compiled = append(ps.compiled, re)
		ps.sources = append(ps.sources, p)
	}
	return ps
}

// findMatches returns the source fragments whose patterns match text.
func (ps *patternSet) findMatches(text string) []string {
	var matched []string
	for i, re := range ps.compiled {
		if re.MatchString(text) {
			matched = append(matched, ps.sources[i])
		}
	}
	return matched
}

// The compiled pattern set is process-wide and built once, on first use.
// Reconfiguration after the first scan is not observed; this trades
// dynamic reload for never compiling per scan.
var (
	compileOnce    sync.Once
	globalPatterns *patternSet
)

func sharedPatterns(cfg Config, logger *slog.Logger) *patternSet {
	compileOnce.Do(func() {
		globalPatterns = compilePatterns(cfg.StrictPatterns, logger)
	})
	return globalPatterns
}

// ScanResult is the outcome of classifying one prompt.
type ScanResult struct {
	// Level is the effective privacy level for the request.
	Level Level
	// SensitiveDetected reports whether any pattern matched.
	SensitiveDetected bool
	// MatchedPatterns holds the source fragments that matched.
	MatchedPatterns []string
	// Escalated reports whether the level was promoted above the default.
	Escalated bool
}

// Scanner classifies prompts against the configured pattern list.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
}

// ScannerOption configures optional Scanner behavior.
type ScannerOption func(*Scanner)

// WithScannerLogger injects a structured logger.
func WithScannerLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner creates a scanner. Construction never fails; malformed
// patterns are dropped at first scan.
func NewScanner(cfg Config, opts ...ScannerOption) *Scanner {
	cfg.defaults()
	s := &Scanner{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan classifies a prompt. Any pattern match escalates the result to
// strict; otherwise the configured default level applies.
func (s *Scanner) Scan(prompt string) ScanResult {
	matched := sharedPatterns(s.cfg, s.logger).findMatches(prompt)
	detected := len(matched) > 0

	level := s.cfg.DefaultLevel
	escalated := false
	if detected {
		level = LevelStrict
		escalated = s.cfg.DefaultLevel != LevelStrict
	}

	return ScanResult{
		Level:             level,
		SensitiveDetected: detected,
		MatchedPatterns:   matched,
		Escalated:         escalated,
	}
}

// BackendAcceptable reports whether a backend with the given ZDR
// capability may serve a request at the given level. Sensitive traffic
// is allowed on non-ZDR backends, but callers must audit it.
func (s *Scanner) BackendAcceptable(backendZDR bool, level Level) bool {
	if level == LevelStrict {
		return backendZDR
	}
	return true
}

// Config returns the scanner's configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// FilterZDRBackends returns the candidates acceptable under the given
// requirement. With requireZDR false the input is returned verbatim
// (order and duplicates preserved); otherwise only candidates the map
// flags as ZDR survive. Backends missing from the map count as non-ZDR.
func FilterZDRBackends(backends []string, zdrMap map[string]bool, requireZDR bool) []string {
	if !requireZDR {
		out := make([]string, len(backends))
		copy(out, backends)
		return out
	}

	out := make([]string, 0, len(backends))
	for _, b := range backends {
		if zdrMap[b] {
			out = append(out, b)
		}
	}
	return out
}
