package admission

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of the store circuit breaker.
//
// # States
//
//   - Closed: Normal operation, store calls flow through
//   - Open: Circuit tripped, store calls are rejected immediately
//   - HalfOpen: Cooldown elapsed, a single probe call is allowed
//
// # State Diagram
//
//	   ┌──────────────────────────────────────┐
//	   │                                      │
//	   ▼                                      │
//	CLOSED ──[failure threshold]──► OPEN ────┘
//	   ▲                              │
//	   │                              │ [cooldown elapsed]
//	   └───[probe success]── HALF_OPEN ◄┘
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the circuit has tripped and calls are rejected.
	CircuitOpen

	// CircuitHalfOpen means a probe is testing whether the store recovered.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned when the circuit breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures circuit breaker behavior.
//
// # Example
//
//	config := BreakerConfig{
//	    FailureThreshold: 5,               // Open after 5 consecutive failures
//	    OpenTimeout:      30 * time.Second, // Stay open for 30s
//	}
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// OpenTimeout is how long to stay open before allowing a probe.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// OnStateChange is called when state transitions.
	// Called asynchronously to avoid blocking the caller.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns the defaults used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker guards the shared counter store against repeated failures.
//
// # Description
//
// Every store round trip goes through Execute. After FailureThreshold
// consecutive failures the breaker opens and calls fail fast with
// ErrCircuitOpen, sparing a struggling store from further load. Once
// OpenTimeout elapses, exactly one call is let through as a probe; a
// successful probe closes the circuit, a failed probe reopens it and
// restarts the cooldown.
//
// Breaker state is process-local. Each gateway instance detects store
// trouble on its own; no coordination is attempted.
//
// # Thread Safety
//
// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	config        BreakerConfig
	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
	mu            sync.Mutex
}

// NewCircuitBreaker creates a breaker in the closed state.
//
// # Inputs
//
//   - config: Breaker configuration. Zero values get defaults.
//
// # Outputs
//
//   - *CircuitBreaker: New breaker, ready for use.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
//
// # Outputs
//
//   - error: ErrCircuitOpen if the call was short-circuited without being
//     attempted, otherwise whatever fn returned.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// allowRequest checks whether a call may proceed, transitioning
// OPEN → HALF_OPEN when the cooldown has elapsed.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.OpenTimeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.probeInFlight = true
			return true
		}
		return false

	case CircuitHalfOpen:
		// Only one probe at a time. Everything else fails fast until
		// the probe resolves.
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true

	default:
		return false
	}
}

// recordResult updates breaker state from a call outcome.
func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// A failed probe reopens the circuit and restarts the cooldown.
		cb.probeInFlight = false
		cb.openedAt = cb.now()
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.failures = 0
		cb.transitionTo(CircuitClosed)
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}

	old := cb.state
	cb.state = state

	if cb.config.OnStateChange != nil {
		// Call the callback without holding the lock to prevent deadlocks.
		go cb.config.OnStateChange(old, state)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the circuit back to the closed state.
//
// # Description
//
// Clears failure counts and any in-flight probe bookkeeping. Use when the
// store is known to have been fixed externally (admin action, tests).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probeInFlight = false

	if old != CircuitClosed && cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, CircuitClosed)
	}
}
