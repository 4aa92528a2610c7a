// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/middleware"
	"github.com/vizionik25/CodeRevAI-sub000/services/historystore"
)

// HandleListHistory serves GET /v1/history.
//
// Returns the caller's most recent history items, newest first. The limit
// query parameter caps the page size (default 50, max 200).
func HandleListHistory(store historystore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := gatewayTracer.Start(c.Request.Context(), "HandleListHistory")
		defer span.End()

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}
		if limit > 200 {
			limit = 200
		}

		ownerID := middleware.Identity(c)
		items, err := store.ListHistory(ctx, ownerID, limit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("ListHistory failed", "owner_id", ownerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
	}
}
