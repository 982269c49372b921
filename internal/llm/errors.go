package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrExhausted indicates the retry budget was consumed. It wraps the
// last underlying error (a *StatusError or a connection error).
var ErrExhausted = errors.New("llm: retry budget exhausted")

// StatusError is a non-2xx HTTP response from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status alone would permit a retry.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.Status)
}

// retryableStatus reports whether an HTTP status is worth retrying:
// 429 rate limits and all 5xx server errors.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}
