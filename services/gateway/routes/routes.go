// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/admission"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/handlers"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/middleware"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/observability"
	"github.com/vizionik25/CodeRevAI-sub000/services/historystore"
	"github.com/vizionik25/CodeRevAI-sub000/services/llm"
)

// Policies bundles the per-action rate limit configuration.
type Policies struct {
	Review   middleware.LimitPolicy
	Refactor middleware.LimitPolicy
	Diff     middleware.LimitPolicy
	History  middleware.LimitPolicy
}

// SetupRoutes wires all gateway endpoints.
func SetupRoutes(router *gin.Engine, client llm.ReviewClient, store historystore.Store,
	queue *handlers.HistoryQueue, limiter *admission.Limiter,
	metrics *observability.Metrics, auth middleware.AuthProvider, policies Policies) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/readyz", handlers.HandleReadiness(limiter, queue))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(auth))
	{
		v1.POST("/review",
			middleware.RateLimit(limiter, policies.Review),
			handlers.HandleReview(client, store, queue, metrics))
		v1.POST("/refactor",
			middleware.RateLimit(limiter, policies.Refactor),
			handlers.HandleRefactor(client, store, queue, metrics))
		v1.POST("/diff/review",
			middleware.RateLimit(limiter, policies.Diff),
			handlers.HandleDiffReview(client, store, queue, metrics))
		v1.GET("/history",
			middleware.RateLimit(limiter, policies.History),
			handlers.HandleListHistory(store))
	}
}
