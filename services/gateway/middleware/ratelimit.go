// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/admission"
)

// LimitPolicy configures rate limiting for one action.
type LimitPolicy struct {
	// Action names the operation being limited, e.g. "review-code".
	// Combined with the caller identity into the limiter key.
	Action string

	// Limit is the maximum admitted requests per window.
	Limit int64

	// Window is the limit window length.
	Window time.Duration

	// FailClosed denies requests when the limiter store is unavailable.
	// Set for actions that spend money on the upstream AI API.
	FailClosed bool
}

// RateLimit gates a route group behind the admission limiter.
//
// # Description
//
// Every request is checked against the shared limiter under the key
// "{action}:{identity}". The standard X-RateLimit-Limit / -Remaining /
// -Reset headers are set on every response, allowed or not. Denials map to:
//
//   - 429 Too Many Requests: the caller exhausted the window.
//   - 503 Service Unavailable: the decision was made in degraded mode
//     (circuit open or store failure) under a fail-closed policy.
//
// # Inputs
//
//   - limiter: Shared admission limiter. Must not be nil.
//   - policy: Per-action limit configuration.
func RateLimit(limiter *admission.Limiter, policy LimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := admission.Key(policy.Action, Identity(c))
		result := limiter.Check(c.Request.Context(), key, policy.Limit, policy.Window, policy.FailClosed)

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if result.Allowed {
			c.Next()
			return
		}

		if result.CircuitOpen {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "rate limiting temporarily unavailable, request refused",
			})
			return
		}

		retryAfter := time.Until(result.ResetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":    "rate limit exceeded",
			"reset_at": result.ResetAt.UTC().Format(time.RFC3339),
		})
	}
}
