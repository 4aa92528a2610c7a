// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/admission"
)

// HealthCheck serves GET /health. Liveness only.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReadiness serves GET /readyz.
//
// # Description
//
// Reports the degraded-status view of the two resilience components:
// the rate limit store breaker state and the history retry queue stats.
// The service stays ready while degraded (requests are still being
// resolved, just under the degraded policy); the payload tells operators
// and probes what is actually going on.
func HandleReadiness(limiter *admission.Limiter, queue *HistoryQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := limiter.Breaker().State()
		stats := queue.Stats()

		status := "ok"
		if state != admission.CircuitClosed {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status": status,
			"rate_limit_store": gin.H{
				"breaker_state": state.String(),
				"failures":      limiter.Breaker().Failures(),
			},
			"history_queue": gin.H{
				"queue_size":          stats.QueueSize,
				"items_pending_retry": stats.ItemsPendingRetry,
				"oldest_retry_age_ms": stats.OldestRetryAge.Milliseconds(),
			},
		})
	}
}
