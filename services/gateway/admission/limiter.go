// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admission gates cost-sensitive upstream AI calls behind a
// distributed rate limiter and a circuit breaker.
//
// # Description
//
// The limiter counts admitted requests per (action, identity) key in a
// shared store using one atomic increment per check, so a fleet of gateway
// instances enforces a single global limit. Every store round trip is
// wrapped by a process-local circuit breaker: when the store misbehaves,
// the breaker trips and checks resolve locally without touching it.
//
// # Degraded Mode
//
// What happens while the breaker is open (or a store call fails) depends on
// the failClosed flag of the check:
//
//   - failClosed=true: the request is denied. Used for actions that spend
//     money on the upstream AI API; if the safety mechanism is down, we
//     refuse rather than risk unmetered spend.
//   - failClosed=false: the request is allowed. Used for low-risk actions
//     that should not be blocked by an infrastructure hiccup.
//
// Either way the result carries CircuitOpen=true so the transport layer can
// distinguish a real limit hit (429) from degraded infrastructure (503).
//
// # Error Handling
//
// Check never returns an error. Store timeouts and connection failures are
// absorbed into the breaker's failure counting and surface only as the
// structured Result.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/observability"
)

// Result is the outcome of a single admission check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Limit is the configured ceiling for the window, echoed back for
	// response headers.
	Limit int64 `json:"limit"`

	// Remaining is how many requests are left in the window, clamped at 0.
	Remaining int64 `json:"remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// CircuitOpen reports that the decision was made in degraded mode,
	// without a successful store round trip.
	CircuitOpen bool `json:"circuit_open"`
}

// LimiterConfig configures the admission limiter.
type LimiterConfig struct {
	// StoreTimeout bounds each store round trip. A timeout counts as a
	// store failure. Default: 500ms.
	StoreTimeout time.Duration

	// Breaker configures the store circuit breaker.
	Breaker BreakerConfig
}

// DefaultLimiterConfig returns production defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		StoreTimeout: 500 * time.Millisecond,
		Breaker:      DefaultBreakerConfig(),
	}
}

// Limiter is the distributed rate limiter.
//
// # Thread Safety
//
// Safe for concurrent use. One Limiter per backing store per process; the
// composition root in main owns the instance.
type Limiter struct {
	store        CounterStore
	breaker      *CircuitBreaker
	storeTimeout time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewLimiter constructs a Limiter over the given store.
//
// # Inputs
//
//   - store: Shared counter store. Must not be nil.
//   - config: Limiter configuration. Zero values get defaults.
//   - metrics: Gateway metrics. May be nil (tests).
//   - logger: Structured logger. Nil falls back to slog.Default().
//
// # Outputs
//
//   - *Limiter: Ready-to-use limiter with its breaker wired to logs and
//     metrics.
func NewLimiter(store CounterStore, config LimiterConfig, metrics *observability.Metrics, logger *slog.Logger) *Limiter {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	lim := &Limiter{
		store:        store,
		storeTimeout: config.StoreTimeout,
		metrics:      metrics,
		logger:       logger,
	}

	breakerConfig := config.Breaker
	breakerConfig.OnStateChange = func(from, to CircuitState) {
		lim.logger.Warn("rate limit store breaker state change",
			"from", from.String(), "to", to.String())
		lim.metrics.RecordBreakerTransition(from.String(), to.String())
		lim.metrics.SetBreakerState(int(to))
	}
	lim.breaker = NewCircuitBreaker(breakerConfig)
	return lim
}

// Breaker exposes the breaker for the health surface.
func (l *Limiter) Breaker() *CircuitBreaker {
	return l.breaker
}

// Check performs one admission decision for key.
//
// # Description
//
// Atomically increments the window counter for key and compares it against
// limit. The first request of a window starts it; the window resets when
// its TTL expires in the store. The increment-and-read is a single atomic
// store operation, so concurrent checks from any number of gateway
// instances never admit more than limit requests per window.
//
// # Inputs
//
//   - ctx: Request context. The store call runs under ctx bounded by the
//     configured StoreTimeout.
//   - key: Non-empty "{action}:{identity}" pair, e.g. "review-code:user_123".
//   - limit: Maximum admitted requests per window. Must be > 0.
//   - window: Window length. Must be > 0.
//   - failClosed: Degraded-mode policy, see the package doc.
//
// # Outputs
//
//   - Result: Always a complete decision; never an error.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration, failClosed bool) Result {
	var (
		count int64
		ttl   time.Duration
	)

	err := l.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
		defer cancel()

		var incrErr error
		count, ttl, incrErr = l.store.Incr(callCtx, key, window)
		return incrErr
	})
	if err != nil {
		return l.degraded(key, limit, window, failClosed, err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}

	if !result.Allowed {
		l.logger.Info("rate limit exceeded",
			"key", key, "count", count, "limit", limit,
			"reset_in", ttl.String())
		l.metrics.RecordAdmissionDecision(decisionLabel(key), "denied")
	} else {
		l.metrics.RecordAdmissionDecision(decisionLabel(key), "allowed")
	}
	return result
}

// degraded resolves a check locally when the store was not consulted
// successfully. The breaker has already recorded the failure.
func (l *Limiter) degraded(key string, limit int64, window time.Duration, failClosed bool, err error) Result {
	allowed := !failClosed

	outcome := "degraded_allowed"
	if !allowed {
		outcome = "degraded_denied"
	}
	l.logger.Warn("rate limit check degraded",
		"key", key, "fail_closed", failClosed, "error", err)
	l.metrics.RecordAdmissionDecision(decisionLabel(key), outcome)

	return Result{
		Allowed:     allowed,
		Limit:       limit,
		Remaining:   0,
		ResetAt:     time.Now().Add(window),
		CircuitOpen: true,
	}
}

// decisionLabel reduces a "{action}:{identity}" key to its action for
// metric labels, keeping cardinality bounded.
func decisionLabel(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// Key composes the canonical "{action}:{identity}" limiter key.
func Key(action, identity string) string {
	return fmt.Sprintf("%s:%s", action, identity)
}
