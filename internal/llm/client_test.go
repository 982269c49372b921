package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/llmgate/internal/secret"
)

func newTestClient(t *testing.T, baseURL string) (*Client, *[]time.Duration) {
	t.Helper()

	var sleeps []time.Duration
	c := NewClient(baseURL, secret.New("sk-test"))
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	c.randFloat = func() float64 { return 0.5 }
	return c, &sleeps
}

const chatBody = `{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`

func TestClient_Success(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatBody))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	result, err := c.ChatWithMetadata(context.Background(), &ChatRequest{Model: "test-model"})
	if err != nil {
		t.Fatalf("ChatWithMetadata: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q, want /chat/completions", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want bearer header", gotAuth)
	}
	if result.Retries != 0 {
		t.Errorf("Retries = %d, want 0", result.Retries)
	}
	if len(result.Response.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(result.Response.Choices))
	}
	if got := result.Response.Choices[0].Message.Content; got != "hi" {
		t.Errorf("content = %q, want %q", got, "hi")
	}
	if result.Response.Usage == nil || result.Response.Usage.PromptTokens != 3 {
		t.Errorf("usage = %+v, want prompt_tokens 3", result.Response.Usage)
	}
}

func TestClient_RetriesOn500ThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(chatBody))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv.URL)
	result, err := c.ChatWithMetadata(context.Background(), &ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("ChatWithMetadata: %v", err)
	}
	if result.Retries != 2 {
		t.Errorf("Retries = %d, want 2", result.Retries)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("slept %d times, want 2", len(*sleeps))
	}
	// Backoff doubles between attempts: 1s-based then 2s-based.
	if (*sleeps)[0] < time.Second || (*sleeps)[1] < 2*time.Second {
		t.Errorf("sleeps = %v, want jittered 1s then 2s", *sleeps)
	}
}

func TestClient_RetryAfterHeaderOverridesBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(chatBody))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv.URL)
	if _, err := c.ChatWithMetadata(context.Background(), &ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("ChatWithMetadata: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 7*time.Second {
		t.Errorf("sleeps = %v, want [7s] from Retry-After", *sleeps)
	}
}

func TestClient_NonRetryableStatusFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv.URL)
	_, err := c.ChatWithMetadata(context.Background(), &ChatRequest{Model: "m"})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", statusErr.Status)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("a 400 should not report an exhausted retry budget")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times, want 0", len(*sleeps))
	}
}

func TestClient_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.ChatWithMetadata(context.Background(), &ChatRequest{Model: "m"})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusServiceUnavailable {
		t.Errorf("error should carry the last status, got %v", err)
	}
	if calls.Load() != maxRetries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries)
	}
}

func TestClient_ConnectionErrorsAreRetried(t *testing.T) {
	t.Parallel()

	// A server that is immediately closed produces connection errors.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c, sleeps := newTestClient(t, srv.URL)
	_, err := c.ChatWithMetadata(context.Background(), &ChatRequest{Model: "m"})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}
	if len(*sleeps) != maxRetries-1 {
		t.Errorf("slept %d times, want %d", len(*sleeps), maxRetries-1)
	}
}

func TestClient_MalformedJSONIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices": [`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.Chat(context.Background(), &ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("malformed JSON should fail")
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("decode failures must not be retried")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_ContextCancellationStopsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, secret.New("sk-test"))
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.ChatWithMetadata(ctx, &ChatRequest{Model: "m"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{599, true},
		{400, false},
		{401, false},
		{404, false},
		{418, false},
		{200, false},
	}
	for _, tt := range tests {
		if got := retryableStatus(tt.code); got != tt.want {
			t.Errorf("retryableStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestJitter_Bounds(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost", secret.New("k"))

	for _, base := range []time.Duration{0, time.Second, 10 * time.Second, maxBackoff} {
		for i := 0; i < 50; i++ {
			got := c.jitter(base)
			if got < base {
				t.Fatalf("jitter(%v) = %v, below base", base, got)
			}
			upper := base + time.Duration(jitterFactor*float64(base))
			if upper > maxBackoff {
				upper = maxBackoff
			}
			if got > upper {
				t.Fatalf("jitter(%v) = %v, above %v", base, got, upper)
			}
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"5", 5 * time.Second, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseRetryAfter(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
