package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// failingStore always reports the store as unreachable, counting calls.
type failingStore struct {
	calls int
}

func (s *failingStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.calls++
	return 0, 0, ErrStoreUnavailable
}

func newTestLimiter(store CounterStore) *Limiter {
	return NewLimiter(store, LimiterConfig{
		StoreTimeout: time.Second,
		Breaker:      BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second},
	}, nil, nil)
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	lim := newTestLimiter(NewMemoryStore())
	ctx := context.Background()
	key := Key("review-code", "user_123")

	for i := int64(1); i <= 20; i++ {
		res := lim.Check(ctx, key, 20, time.Minute, true)
		if !res.Allowed {
			t.Fatalf("request %d: Allowed = false, want true", i)
		}
		if res.Limit != 20 {
			t.Fatalf("request %d: Limit = %d, want 20", i, res.Limit)
		}
		if want := 20 - i; res.Remaining != want {
			t.Errorf("request %d: Remaining = %d, want %d", i, res.Remaining, want)
		}
		if res.CircuitOpen {
			t.Errorf("request %d: CircuitOpen = true, want false", i)
		}
	}

	res := lim.Check(ctx, key, 20, time.Minute, true)
	if res.Allowed {
		t.Error("request 21: Allowed = true, want false")
	}
	if res.Remaining != 0 {
		t.Errorf("request 21: Remaining = %d, want 0", res.Remaining)
	}
	if res.CircuitOpen {
		t.Error("request 21: CircuitOpen = true, want false")
	}
	if res.ResetAt.Before(time.Now()) {
		t.Errorf("request 21: ResetAt = %v is in the past", res.ResetAt)
	}
}

func TestLimiter_ConcurrentChecksNeverExceedLimit(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	lim := newTestLimiter(store)
	ctx := context.Background()
	key := Key("review-code", "user_123")

	const callers = 100
	const limit = int64(20)

	var allowed atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if lim.Check(ctx, key, limit, time.Minute, true).Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Errorf("allowed %d of %d concurrent requests, want exactly %d", got, callers, limit)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	lim := newTestLimiter(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lim.Check(ctx, Key("review-code", "user_a"), 3, time.Minute, true)
	}
	if res := lim.Check(ctx, Key("review-code", "user_a"), 3, time.Minute, true); res.Allowed {
		t.Error("user_a over limit: Allowed = true, want false")
	}

	// A different identity and a different action both have fresh windows.
	if res := lim.Check(ctx, Key("review-code", "user_b"), 3, time.Minute, true); !res.Allowed {
		t.Error("user_b: Allowed = false, want true")
	}
	if res := lim.Check(ctx, Key("refactor-code", "user_a"), 3, time.Minute, true); !res.Allowed {
		t.Error("refactor-code:user_a: Allowed = false, want true")
	}
}

func TestLimiter_WindowExpiryResetsCount(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	lim := newTestLimiter(store)
	ctx := context.Background()
	key := Key("review-code", "user_123")

	for i := 0; i < 2; i++ {
		lim.Check(ctx, key, 2, time.Minute, true)
	}
	if res := lim.Check(ctx, key, 2, time.Minute, true); res.Allowed {
		t.Fatal("over limit: Allowed = true, want false")
	}

	now = now.Add(time.Minute)
	if res := lim.Check(ctx, key, 2, time.Minute, true); !res.Allowed {
		t.Error("new window: Allowed = false, want true")
	}
}

func TestLimiter_FailClosedDeniesOnStoreFailure(t *testing.T) {
	lim := newTestLimiter(&failingStore{})

	res := lim.Check(context.Background(), Key("review-code", "u"), 20, time.Minute, true)
	if res.Allowed {
		t.Error("Allowed = true, want false under fail-closed")
	}
	if !res.CircuitOpen {
		t.Error("CircuitOpen = false, want true")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestLimiter_FailOpenAllowsOnStoreFailure(t *testing.T) {
	lim := newTestLimiter(&failingStore{})

	res := lim.Check(context.Background(), Key("history", "u"), 120, time.Minute, false)
	if !res.Allowed {
		t.Error("Allowed = false, want true under fail-open")
	}
	if !res.CircuitOpen {
		t.Error("CircuitOpen = false, want true")
	}
}

func TestLimiter_BreakerTripsAfterRepeatedFailures(t *testing.T) {
	store := &failingStore{}
	lim := newTestLimiter(store)
	ctx := context.Background()
	key := Key("review-code", "u")

	for i := 0; i < 5; i++ {
		lim.Check(ctx, key, 20, time.Minute, true)
	}
	if got := lim.Breaker().State(); got != CircuitOpen {
		t.Fatalf("breaker State() = %v, want OPEN", got)
	}

	// Once open, checks resolve locally without touching the store.
	before := store.calls
	res := lim.Check(ctx, key, 20, time.Minute, true)
	if store.calls != before {
		t.Errorf("store called %d more times while open, want 0", store.calls-before)
	}
	if res.Allowed || !res.CircuitOpen {
		t.Errorf("degraded result = %+v, want denied with CircuitOpen", res)
	}
}

func TestLimiter_SuccessfulProbeRestoresNormalOperation(t *testing.T) {
	// flaky fails a fixed number of times, then recovers.
	mem := NewMemoryStore()
	failuresLeft := 5
	flaky := counterStoreFunc(func(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
		if failuresLeft > 0 {
			failuresLeft--
			return 0, 0, ErrStoreUnavailable
		}
		return mem.Incr(ctx, key, window)
	})

	lim := NewLimiter(flaky, LimiterConfig{
		StoreTimeout: time.Second,
		Breaker:      BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second},
	}, nil, nil)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lim.breaker.now = func() time.Time { return clock }

	ctx := context.Background()
	key := Key("review-code", "u")
	for i := 0; i < 5; i++ {
		lim.Check(ctx, key, 20, time.Minute, true)
	}
	if got := lim.Breaker().State(); got != CircuitOpen {
		t.Fatalf("breaker State() = %v, want OPEN", got)
	}

	clock = clock.Add(30 * time.Second)
	res := lim.Check(ctx, key, 20, time.Minute, true)
	if !res.Allowed || res.CircuitOpen {
		t.Errorf("probe result = %+v, want allowed with CircuitOpen=false", res)
	}
	if got := lim.Breaker().State(); got != CircuitClosed {
		t.Errorf("breaker State() after probe = %v, want CLOSED", got)
	}
}

type counterStoreFunc func(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

func (f counterStoreFunc) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return f(ctx, key, window)
}

func TestKey(t *testing.T) {
	if got := Key("review-code", "user_123"); got != "review-code:user_123" {
		t.Errorf("Key() = %q, want review-code:user_123", got)
	}
}

func TestDecisionLabel(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"review-code:user_123", "review-code"},
		{"history:10.0.0.1:8080", "history"},
		{"bare", "bare"},
	}
	for _, tt := range tests {
		if got := decisionLabel(tt.key); got != tt.want {
			t.Errorf("decisionLabel(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
