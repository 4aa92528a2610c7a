package admission

import (
	"errors"
	"testing"
	"time"
)

var errStoreDown = errors.New("store down")

// newTestBreaker returns a breaker with an adjustable clock.
func newTestBreaker(config BreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(config)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errStoreDown })
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig())
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() = %v, want CLOSED", got)
	}
	if got := cb.Failures(); got != 0 {
		t.Errorf("Failures() = %d, want 0", got)
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second})

	failN(cb, 4)
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() after 4 failures = %v, want CLOSED", got)
	}

	failN(cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("State() after 5 failures = %v, want OPEN", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second})

	failN(cb, 4)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute() = %v, want nil", err)
	}
	if got := cb.Failures(); got != 0 {
		t.Errorf("Failures() after success = %d, want 0", got)
	}

	// Four more failures must not open the circuit.
	failN(cb, 4)
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() = %v, want CLOSED", got)
	}
}

func TestCircuitBreaker_OpenShortCircuits(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: 30 * time.Second})
	failN(cb, 2)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn was called while the circuit was open")
	}
}

func TestCircuitBreaker_CooldownAllowsOneProbe(t *testing.T) {
	cb, now := newTestBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: 30 * time.Second})
	failN(cb, 2)

	// Just before cooldown expires: still short-circuited.
	*now = now.Add(29 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() before cooldown = %v, want ErrCircuitOpen", err)
	}

	// Cooldown elapsed: exactly one call flows through as a probe.
	*now = now.Add(time.Second)
	called := 0
	err := cb.Execute(func() error {
		called++
		return nil
	})
	if err != nil {
		t.Fatalf("probe Execute() = %v, want nil", err)
	}
	if called != 1 {
		t.Fatalf("probe called %d times, want 1", called)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() after successful probe = %v, want CLOSED", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(BreakerConfig{FailureThreshold: 2, OpenTimeout: 30 * time.Second})
	failN(cb, 2)

	*now = now.Add(30 * time.Second)
	if err := cb.Execute(func() error { return errStoreDown }); !errors.Is(err, errStoreDown) {
		t.Fatalf("probe Execute() = %v, want errStoreDown", err)
	}
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() after failed probe = %v, want OPEN", got)
	}

	// The cooldown restarted at the failed probe; the old deadline no
	// longer applies.
	*now = now.Add(29 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() before restarted cooldown = %v, want ErrCircuitOpen", err)
	}

	*now = now.Add(time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("probe Execute() after restarted cooldown = %v, want nil", err)
	}
}

func TestCircuitBreaker_SingleProbeInFlight(t *testing.T) {
	cb, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})
	failN(cb, 1)
	*now = now.Add(time.Second)

	// Take the probe slot without resolving it.
	if !cb.allowRequest() {
		t.Fatal("allowRequest() = false, want probe admitted")
	}
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("State() = %v, want HALF_OPEN", got)
	}

	// While the probe is in flight, every other call fails fast.
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() during probe = %v, want ErrCircuitOpen", err)
	}

	cb.recordResult(nil)
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() after probe resolved = %v, want CLOSED", got)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	transitions := make(chan [2]CircuitState, 4)
	cb, now := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions <- [2]CircuitState{from, to}
		},
	})

	failN(cb, 1)
	select {
	case tr := <-transitions:
		if tr[0] != CircuitClosed || tr[1] != CircuitOpen {
			t.Errorf("transition = %v -> %v, want CLOSED -> OPEN", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("no CLOSED -> OPEN transition observed")
	}

	// The callback fires asynchronously per transition; collect both and
	// compare as a set.
	*now = now.Add(time.Second)
	_ = cb.Execute(func() error { return nil })
	seen := make(map[[2]CircuitState]bool)
	for i := 0; i < 2; i++ {
		select {
		case tr := <-transitions:
			seen[tr] = true
		case <-time.After(time.Second):
			t.Fatal("missing breaker transition callback")
		}
	}
	if !seen[[2]CircuitState{CircuitOpen, CircuitHalfOpen}] {
		t.Error("no OPEN -> HALF_OPEN transition observed")
	}
	if !seen[[2]CircuitState{CircuitHalfOpen, CircuitClosed}] {
		t.Error("no HALF_OPEN -> CLOSED transition observed")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
	failN(cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want OPEN", got)
	}

	cb.Reset()
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() after Reset = %v, want CLOSED", got)
	}
	if got := cb.Failures(); got != 0 {
		t.Errorf("Failures() after Reset = %d, want 0", got)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "CLOSED"},
		{CircuitOpen, "OPEN"},
		{CircuitHalfOpen, "HALF_OPEN"},
		{CircuitState(42), "UNKNOWN(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
