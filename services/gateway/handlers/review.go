// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints.
//
// Every cost-sensitive endpoint sits behind the rate-limit middleware; by
// the time a handler runs, the request has already been admitted. Handlers
// call the upstream AI collaborator, then write a history record
// best-effort: a failed write is handed to the retry queue and surfaced
// only as an advisory "queued" flag in the response.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/datatypes"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/historyqueue"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/middleware"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/observability"
	"github.com/vizionik25/CodeRevAI-sub000/services/historystore"
	"github.com/vizionik25/CodeRevAI-sub000/services/llm"
)

var gatewayTracer = otel.Tracer("coderev.gateway.handlers")

// HistoryQueue is the retry queue specialized to history items.
type HistoryQueue = historyqueue.Queue[historystore.Item]

// HandleReview serves POST /v1/review.
func HandleReview(client llm.ReviewClient, store historystore.Store, queue *HistoryQueue, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := gatewayTracer.Start(c.Request.Context(), "HandleReview")
		defer span.End()

		var req datatypes.ReviewRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the review request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		review, err := client.Review(ctx, req.Code, req.Language, req.Instructions, llm.GenerationParams{})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordLLMRequest("review-code", "error", time.Since(start))
			slog.Error("ReviewClient.Review failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.RecordLLMRequest("review-code", "success", time.Since(start))

		ownerID := middleware.Identity(c)
		item := historystore.Item{
			ID:       uuid.NewString(),
			Action:   "review-code",
			Language: req.Language,
			Prompt:   req.Code,
			Response: review,
		}
		queued := recordHistory(ctx, store, queue, ownerID, item)

		c.JSON(http.StatusOK, datatypes.ReviewResponse{
			RequestID: item.ID,
			Review:    review,
			Queued:    queued,
		})
	}
}

// HandleRefactor serves POST /v1/refactor.
func HandleRefactor(client llm.ReviewClient, store historystore.Store, queue *HistoryQueue, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := gatewayTracer.Start(c.Request.Context(), "HandleRefactor")
		defer span.End()

		var req datatypes.RefactorRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the refactor request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		suggestion, err := client.Refactor(ctx, req.Code, req.Language, req.Goal, llm.GenerationParams{})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordLLMRequest("refactor-code", "error", time.Since(start))
			slog.Error("ReviewClient.Refactor failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.RecordLLMRequest("refactor-code", "success", time.Since(start))

		ownerID := middleware.Identity(c)
		item := historystore.Item{
			ID:       uuid.NewString(),
			Action:   "refactor-code",
			Language: req.Language,
			Prompt:   req.Code,
			Response: suggestion,
		}
		queued := recordHistory(ctx, store, queue, ownerID, item)

		c.JSON(http.StatusOK, datatypes.ReviewResponse{
			RequestID: item.ID,
			Review:    suggestion,
			Queued:    queued,
		})
	}
}

// recordHistory writes the history item synchronously and falls back to the
// retry queue on failure. Returns true when the item was queued.
//
// The primary operation already succeeded at this point; nothing here may
// fail the request.
func recordHistory(ctx context.Context, store historystore.Store, queue *HistoryQueue, ownerID string, item historystore.Item) bool {
	if err := store.AddHistoryItem(ctx, ownerID, item); err != nil {
		slog.Warn("synchronous history write failed, queueing for retry",
			"owner_id", ownerID, "item_id", item.ID, "error", err)
		queue.Enqueue(ownerID, item)
		return true
	}
	return false
}
