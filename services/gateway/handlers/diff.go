// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sourcegraph/go-diff/diff"
	"go.opentelemetry.io/otel/codes"

	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/datatypes"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/middleware"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/observability"
	"github.com/vizionik25/CodeRevAI-sub000/services/historystore"
	"github.com/vizionik25/CodeRevAI-sub000/services/llm"
)

// HandleDiffReview serves POST /v1/diff/review.
//
// # Description
//
// Parses the submitted unified diff and prepends a change summary to the
// prompt, so the model sees the shape of the change before the hunks. A
// patch that does not parse is rejected up front rather than burning an
// LLM call on garbage.
func HandleDiffReview(client llm.ReviewClient, store historystore.Store, queue *HistoryQueue, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := gatewayTracer.Start(c.Request.Context(), "HandleDiffReview")
		defer span.End()

		var req datatypes.DiffReviewRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the diff review request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		summary, err := summarizePatch(req.Patch)
		if err != nil {
			slog.Warn("Rejected unparseable patch", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "patch is not a valid unified diff"})
			return
		}

		instructions := summary
		if req.Instructions != "" {
			instructions = req.Instructions + "\n\n" + summary
		}

		start := time.Now()
		review, err := client.Review(ctx, req.Patch, "diff", instructions, llm.GenerationParams{})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordLLMRequest("review-diff", "error", time.Since(start))
			slog.Error("ReviewClient.Review failed for diff", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.RecordLLMRequest("review-diff", "success", time.Since(start))

		ownerID := middleware.Identity(c)
		item := historystore.Item{
			ID:       uuid.NewString(),
			Action:   "review-diff",
			Language: "diff",
			Prompt:   req.Patch,
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

// summarizePatch renders a one-line-per-file change summary from a unified
// diff, e.g. "services/foo.go: +12 -3 (2 hunks)".
func summarizePatch(patch string) (string, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return "", fmt.Errorf("parse unified diff: %w", err)
	}
	if len(fileDiffs) == 0 {
		return "", fmt.Errorf("patch contains no file diffs")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The patch touches %d file(s):\n", len(fileDiffs))
	for _, fd := range fileDiffs {
		stat := fd.Stat()
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
		}
		fmt.Fprintf(&b, "- %s: +%d -%d (%d hunks)\n",
			strings.TrimPrefix(name, "b/"), stat.Added+stat.Changed, stat.Deleted+stat.Changed, len(fd.Hunks))
	}
	return b.String(), nil
}
