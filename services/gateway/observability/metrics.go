// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the two resilience components and the upstream AI calls:
//   - Admission decisions (by action and outcome, including degraded mode)
//   - Circuit breaker state and transitions
//   - Retry queue depth, retries, and discards
//   - LLM request counts and latency
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting on deny rates and breaker trips.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all gateway metrics.
const metricsNamespace = "coderev"

// Subsystem for admission-control metrics.
const gatewaySubsystem = "gateway"

// Metrics holds all Prometheus metrics for the gateway service.
//
// # Description
//
// Initialize once at startup via InitMetrics(). A nil *Metrics is valid:
// every recording method is a no-op on a nil receiver, so unit tests can
// construct components without touching the default registry.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// AdmissionDecisionsTotal counts admission checks.
	// Labels: action (review-code, ...), outcome (allowed, denied,
	// degraded_allowed, degraded_denied)
	AdmissionDecisionsTotal *prometheus.CounterVec

	// BreakerTransitionsTotal counts circuit breaker state transitions.
	// Labels: from, to (CLOSED, OPEN, HALF_OPEN)
	BreakerTransitionsTotal *prometheus.CounterVec

	// BreakerState reports the current breaker state as a number
	// (0=CLOSED, 1=OPEN, 2=HALF_OPEN).
	BreakerState prometheus.Gauge

	// QueueDepth tracks the number of items held by the retry queue.
	QueueDepth prometheus.Gauge

	// QueueRetriesTotal counts retry attempts performed by the queue.
	// Labels: outcome (success, failure)
	QueueRetriesTotal *prometheus.CounterVec

	// QueueDiscardsTotal counts items dropped after exhausting retries.
	QueueDiscardsTotal prometheus.Counter

	// LLMRequestsTotal counts upstream AI calls.
	// Labels: action, status (success, error)
	LLMRequestsTotal *prometheus.CounterVec

	// LLMDurationSeconds measures upstream AI call latency.
	// Labels: action
	LLMDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics creates and registers all gateway metrics.
//
// # Description
//
// Should be called exactly once at application startup. Panics if called
// twice (duplicate registration on the default registry).
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		AdmissionDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "admission_decisions_total",
				Help:      "Admission check decisions by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),

		BreakerState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "breaker_state",
				Help:      "Current breaker state (0=CLOSED, 1=OPEN, 2=HALF_OPEN)",
			},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "history_queue_depth",
				Help:      "Items currently held by the history retry queue",
			},
		),

		QueueRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "history_queue_retries_total",
				Help:      "Retry attempts performed by the history queue",
			},
			[]string{"outcome"},
		),

		QueueDiscardsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "history_queue_discards_total",
				Help:      "History items dropped after exhausting retries",
			},
		),

		LLMRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "llm_requests_total",
				Help:      "Upstream AI calls by action and status",
			},
			[]string{"action", "status"},
		),

		LLMDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "llm_duration_seconds",
				Help:      "Upstream AI call latency",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"action"},
		),
	}
	return DefaultMetrics
}

// RecordAdmissionDecision counts one admission decision.
func (m *Metrics) RecordAdmissionDecision(action, outcome string) {
	if m == nil {
		return
	}
	m.AdmissionDecisionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordBreakerTransition counts one breaker state transition.
func (m *Metrics) RecordBreakerTransition(from, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetBreakerState records the current breaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// SetQueueDepth records the current retry queue size.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordQueueRetry counts one retry attempt.
func (m *Metrics) RecordQueueRetry(outcome string) {
	if m == nil {
		return
	}
	m.QueueRetriesTotal.WithLabelValues(outcome).Inc()
}

// RecordQueueDiscard counts one dropped item.
func (m *Metrics) RecordQueueDiscard() {
	if m == nil {
		return
	}
	m.QueueDiscardsTotal.Inc()
}

// RecordLLMRequest counts one upstream AI call and its latency.
func (m *Metrics) RecordLLMRequest(action, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(action, status).Inc()
	m.LLMDurationSeconds.WithLabelValues(action).Observe(duration.Seconds())
}
