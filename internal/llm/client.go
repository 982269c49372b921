package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/llmgate/internal/secret"
)

// Retry policy for rate limits and transient errors.
const (
	maxRetries     = 5
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	jitterFactor   = 0.30
)

// requestTimeout is the hard per-attempt deadline.
const requestTimeout = 120 * time.Second

// maxIdleConnsPerHost sizes the connection pool.
const maxIdleConnsPerHost = 10

// maxResponseSize caps response bodies (10 MB). Protects against OOM
// from malformed or huge responses.
const maxResponseSize = 10 * 1024 * 1024

// Client issues chat-completion calls to a single backend with bounded
// retries. It owns its HTTP client and the API key.
type Client struct {
	baseURL string
	key     *secret.Secret
	client  *http.Client
	logger  *slog.Logger

	// sleep and randFloat are injectable for testing.
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the default HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a transport for one backend base URL. The API key is
// read only when the Authorization header is built.
func NewClient(baseURL string, key *secret.Secret, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: maxIdleConnsPerHost,
			},
		},
		logger:    slog.Default(),
		sleep:     sleepContext,
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat sends one chat-completion request and returns the response.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	result, err := c.ChatWithMetadata(ctx, req)
	if err != nil {
		return nil, err
	}
	return &result.Response, nil
}

// ChatWithMetadata sends one chat-completion request and returns the
// response together with total latency and the number of retries spent.
func (c *Client) ChatWithMetadata(ctx context.Context, req *ChatRequest) (*CallResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"

	// An unusable endpoint URL fails at once instead of being retried.
	probe, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err == nil && (probe.URL.Scheme == "" || probe.URL.Host == "") {
		err = fmt.Errorf("missing scheme or host in %q", url)
	}
	if err != nil {
		return nil, fmt.Errorf("llm: invalid URL: %w", err)
	}

	start := time.Now()
	backoff := initialBackoff
	retries := 0

	for attempt := 1; ; attempt++ {
		body, status, retryAfter, err := c.post(ctx, url, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == maxRetries {
				return nil, fmt.Errorf("%w: connection error after %d attempts: %w", ErrExhausted, maxRetries, err)
			}
			wait := c.jitter(backoff)
			c.logger.Warn("connection error, retrying",
				"component", "llm",
				"wait", wait,
				"attempt", attempt,
				"max_attempts", maxRetries,
				"error", err,
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			backoff = doubled(backoff)
			retries++
			continue
		}

		if status >= 200 && status < 300 {
			var resp ChatResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, fmt.Errorf("llm: decode response: %w", err)
			}
			return &CallResult{
				Response:  resp,
				LatencyMS: uint64(time.Since(start).Milliseconds()),
				Retries:   retries,
			}, nil
		}

		statusErr := &StatusError{Status: status, Body: string(body)}
		if !statusErr.Retryable() {
			return nil, statusErr
		}
		if attempt == maxRetries {
			return nil, fmt.Errorf("%w: after %d attempts: %w", ErrExhausted, maxRetries, statusErr)
		}

		// Retry-After (integer seconds) overrides the computed backoff.
		wait := c.jitter(backoff)
		if secs, ok := parseRetryAfter(retryAfter); ok {
			wait = secs
		}
		c.logger.Warn("retryable status, retrying",
			"component", "llm",
			"status", status,
			"wait", wait,
			"attempt", attempt,
			"max_attempts", maxRetries,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff = doubled(backoff)
		retries++
	}
}

// post sends the request and returns the body, status code, and any
// Retry-After header. The Authorization header is built here, at the
// only place the key is exposed.
func (c *Client) post(ctx context.Context, url string, payload []byte) (body []byte, status int, retryAfter string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.key.Expose())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("llm: read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header.Get("Retry-After"), nil
}

// jitter applies one-sided additive jitter: the result is at least base
// and at most min(maxBackoff, base*(1+jitterFactor)).
func (c *Client) jitter(base time.Duration) time.Duration {
	d := base + time.Duration(c.randFloat()*jitterFactor*float64(base))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// doubled doubles a backoff, capped at maxBackoff.
func doubled(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// parseRetryAfter parses an integer-seconds Retry-After value.
func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// sleepContext blocks for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
