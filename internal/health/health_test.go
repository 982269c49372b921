package health

import (
	"sync"
	"testing"
	"time"

	"github.com/flemzord/llmgate/internal/breaker"
)

type fakeTime struct {
	mu      sync.Mutex
	current time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func newTestRegistry(t *testing.T, cfg Config, opts ...RegistryOption) (*Registry, *fakeTime) {
	t.Helper()
	r, err := NewRegistry(cfg, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ft := &fakeTime{current: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.now = ft.Now
	return r, ft
}

func TestRegistry_StartsHealthy(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, DefaultConfig())
	if got := r.Health("test"); got != Healthy {
		t.Errorf("Health = %v, want healthy", got)
	}
	if !r.IsAvailable("test") {
		t.Error("unknown backend should be available")
	}
}

func TestRegistry_SuccessTracking(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, DefaultConfig())
	r.RecordSuccess("test", 100)
	r.RecordSuccess("test", 200)

	info := r.HealthInfo("test")
	if info.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", info.TotalRequests)
	}
	if info.SuccessfulRequests != 2 {
		t.Errorf("SuccessfulRequests = %d, want 2", info.SuccessfulRequests)
	}
	if info.FailedRequests != 0 {
		t.Errorf("FailedRequests = %d, want 0", info.FailedRequests)
	}
	if info.AvgLatencyMS != 150.0 {
		t.Errorf("AvgLatencyMS = %v, want 150.0", info.AvgLatencyMS)
	}
	if info.LastSuccess == nil {
		t.Error("LastSuccess should be set")
	}
}

func TestRegistry_DegradedOnFailures(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, Config{
		DegradedFailureCount:  2,
		UnhealthyFailureCount: 5,
		LatencyWindow:         10,
	})

	r.RecordFailure("test")
	if got := r.Health("test"); got != Healthy {
		t.Errorf("Health after 1 failure = %v, want healthy", got)
	}

	r.RecordFailure("test")
	if got := r.Health("test"); got != Degraded {
		t.Errorf("Health after 2 failures = %v, want degraded", got)
	}

	r.RecordSuccess("test", 100)
	if got := r.Health("test"); got != Healthy {
		t.Errorf("Health after success = %v, want healthy", got)
	}
}

func TestRegistry_UnhealthyAfterFailureCeiling(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, Config{
		DegradedFailureCount:  2,
		UnhealthyFailureCount: 4,
		Cooldown:              60 * time.Second,
		LatencyWindow:         10,
	})

	for i := 0; i < 4; i++ {
		r.RecordFailure("test")
	}

	if got := r.Health("test"); got != Unhealthy {
		t.Errorf("Health = %v, want unhealthy", got)
	}
	if r.IsAvailable("test") {
		t.Error("unhealthy backend should not be available")
	}

	info := r.HealthInfo("test")
	if info.CooldownUntil == nil {
		t.Error("CooldownUntil should be set")
	}
}

func TestRegistry_DegradedOnHighLatency(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, Config{
		DegradedLatencyMS: 1000,
		LatencyWindow:     3,
	})

	r.RecordSuccess("test", 2000)
	r.RecordSuccess("test", 2000)
	r.RecordSuccess("test", 2000)

	if got := r.Health("test"); got != Degraded {
		t.Errorf("Health = %v, want degraded", got)
	}
}

func TestRegistry_LatencyWindowOverwrites(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, Config{
		DegradedLatencyMS: 1000,
		LatencyWindow:     3,
	})

	// Fill the window with high latencies, then push them out.
	for i := 0; i < 3; i++ {
		r.RecordSuccess("test", 3000)
	}
	for i := 0; i < 3; i++ {
		r.RecordSuccess("test", 90)
	}

	info := r.HealthInfo("test")
	if info.AvgLatencyMS != 90.0 {
		t.Errorf("AvgLatencyMS = %v, want 90.0 (old entries overwritten)", info.AvgLatencyMS)
	}
	if info.State != Healthy {
		t.Errorf("State = %v, want healthy", info.State)
	}
}

func TestRegistry_EmptyLatencyWindowAveragesZero(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, DefaultConfig())
	r.RecordFailure("test")

	if got := r.HealthInfo("test").AvgLatencyMS; got != 0.0 {
		t.Errorf("AvgLatencyMS = %v, want 0.0", got)
	}
}

func TestRegistry_CooldownBlocksAvailability(t *testing.T) {
	t.Parallel()

	r, ft := newTestRegistry(t, Config{
		UnhealthyFailureCount: 2,
		Cooldown:              60 * time.Second,
		LatencyWindow:         10,
	})

	r.RecordFailure("test")
	r.RecordFailure("test")
	if r.IsAvailable("test") {
		t.Fatal("backend in cooldown should not be available")
	}

	// A success clears the cooldown immediately.
	r.RecordSuccess("test", 100)
	if !r.IsAvailable("test") {
		t.Error("backend should be available after success clears cooldown")
	}
	if r.HealthInfo("test").CooldownUntil != nil {
		t.Error("CooldownUntil should be cleared by success")
	}

	// And cooldowns also expire on their own.
	r.RecordFailure("test")
	r.RecordFailure("test")
	ft.Advance(61 * time.Second)
	// Past the cooldown, but consecutive failures still at the ceiling.
	if got := r.Health("test"); got != Unhealthy {
		t.Errorf("Health = %v, want unhealthy (failure count still past ceiling)", got)
	}
}

func TestRegistry_FilterAvailable(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, Config{
		UnhealthyFailureCount: 2,
		Cooldown:              60 * time.Second,
		LatencyWindow:         10,
	})

	r.RecordFailure("backend2")
	r.RecordFailure("backend2")

	got := r.FilterAvailable([]string{"backend1", "backend2", "backend3"})
	want := []string{"backend1", "backend3"}
	if len(got) != len(want) {
		t.Fatalf("FilterAvailable = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FilterAvailable[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_MirrorsToBreakers(t *testing.T) {
	t.Parallel()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
		HalfOpenProbes:   1,
		Enabled:          true,
	})
	r, _ := newTestRegistry(t, DefaultConfig(), WithBreakers(breakers))

	r.RecordFailure("test")
	r.RecordFailure("test")
	r.RecordFailure("test")

	if !breakers.IsOpen("test") {
		t.Error("failures should have been mirrored to the breaker registry")
	}
	if r.IsAvailable("test") {
		t.Error("open circuit should make the backend unavailable")
	}

	// The two layers track consecutive failures independently: health is
	// not yet unhealthy (default ceiling is 5) but the circuit is open.
	if got := r.Health("test"); got == Unhealthy {
		t.Errorf("Health = %v; breaker and health thresholds should not move in lockstep", got)
	}
}

func TestRegistry_GetStatus(t *testing.T) {
	t.Parallel()

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	r, _ := newTestRegistry(t, DefaultConfig(), WithBreakers(breakers))

	r.RecordSuccess("test", 50)

	status := r.GetStatus("test")
	if status.Backend != "test" {
		t.Errorf("Backend = %q, want %q", status.Backend, "test")
	}
	if status.Health != Healthy {
		t.Errorf("Health = %v, want healthy", status.Health)
	}
	if status.CircuitState != breaker.StateClosed {
		t.Errorf("CircuitState = %v, want closed", status.CircuitState)
	}
	if !status.Available {
		t.Error("backend should be available")
	}
}

func TestRegistry_AllHealthInfoSorted(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, DefaultConfig())
	r.RecordSuccess("zeta", 10)
	r.RecordSuccess("alpha", 10)

	infos := r.AllHealthInfo()
	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}
	if infos[0].Backend != "alpha" || infos[1].Backend != "zeta" {
		t.Errorf("order = [%s, %s], want [alpha, zeta]", infos[0].Backend, infos[1].Backend)
	}
}

func TestNewRegistry_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(Config{LatencyWindow: -1}); err == nil {
		t.Error("negative latency window should be rejected")
	}
	if _, err := NewRegistry(Config{LatencyWindow: 0}); err == nil {
		t.Error("zero latency window should be rejected")
	}
	if _, err := NewRegistry(Config{LatencyWindow: 10, Cooldown: -time.Second}); err == nil {
		t.Error("negative cooldown should be rejected")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			r.RecordSuccess("shared", 100)
		}()
		go func() {
			defer wg.Done()
			r.RecordFailure("shared")
		}()
		go func() {
			defer wg.Done()
			r.IsAvailable("shared")
		}()
	}
	wg.Wait()

	info := r.HealthInfo("shared")
	if info.TotalRequests != 100 {
		t.Errorf("TotalRequests = %d, want 100", info.TotalRequests)
	}
}
