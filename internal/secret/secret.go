// Package secret holds API credentials in memory with redacted display
// surfaces. A Secret never reaches logs, JSON output, or fmt verbs; the
// raw value is read at exactly one place — where the Authorization header
// is built.
package secret

import (
	"encoding/json"
	"log/slog"
)

// Redacted is the replacement string shown wherever a Secret would
// otherwise be printed.
const Redacted = "***REDACTED***"

// Secret wraps a sensitive string. The zero value is an empty secret.
type Secret struct {
	b []byte
}

// New wraps a raw credential value.
func New(value string) *Secret {
	return &Secret{b: []byte(value)}
}

// Expose returns the raw value. Callers must not retain or log the result.
func (s *Secret) Expose() string {
	return string(s.b)
}

// Empty reports whether the secret holds no value.
func (s *Secret) Empty() bool {
	return len(s.b) == 0
}

// Zero overwrites the backing storage. Best effort: copies made by Expose
// are the caller's responsibility.
func (s *Secret) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = s.b[:0]
}

// String implements fmt.Stringer with a redacted value.
func (s *Secret) String() string {
	return Redacted
}

// GoString keeps %#v output redacted.
func (s *Secret) GoString() string {
	return Redacted
}

// LogValue keeps slog output redacted.
func (s *Secret) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}

// MarshalJSON keeps JSON encodings redacted.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}
