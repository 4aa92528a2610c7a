// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates it using the configured AuthProvider, and stores the
// resulting AuthInfo in the Gin context for the rate limiter and handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       RateLimit middleware (keys limits by AuthInfo.UserID)
//
// # Open Source Behavior
//
// With NopAuthProvider (default), all requests resolve to "local-user".
// This keeps the service usable without any identity infrastructure;
// production deployments plug in a real provider.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// authInfoKey is the context key for storing AuthInfo.
const authInfoKey = "coderev_auth_info"

// AuthInfo identifies the authenticated caller.
type AuthInfo struct {
	// UserID is the stable identity used in rate limit keys and history
	// ownership.
	UserID string

	// Plan is the caller's billing plan, when the provider knows it.
	Plan string
}

// AuthProvider validates bearer tokens.
//
// Session validation itself is out of scope here; the gateway only needs a
// stable UserID to key limits and history by.
type AuthProvider interface {
	// Validate resolves a bearer token to an identity.
	// An empty token is valid for providers that allow anonymous access.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// ErrInvalidToken is returned by providers for unusable tokens.
var ErrInvalidToken = errors.New("invalid auth token")

// NopAuthProvider authenticates every request as "local-user".
type NopAuthProvider struct{}

// Validate implements AuthProvider.
func (NopAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Plan: "local"}, nil
}

// SetAuthInfo stores the authenticated user info in the Gin context.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// Returns nil if the request did not pass through AuthMiddleware.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, ok := v.(*AuthInfo)
	if !ok {
		return nil
	}
	return info
}

// Identity returns the limiter identity for the current request:
// the authenticated UserID, or the client IP for anonymous callers.
func Identity(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil && info.UserID != "" {
		return info.UserID
	}
	return c.ClientIP()
}

// AuthMiddleware validates the request and stores AuthInfo in the context.
//
// # Inputs
//
//   - provider: Token validator. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware that responds 401 on invalid tokens.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))

		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing credentials",
			})
			return
		}

		SetAuthInfo(c, info)
		c.Next()
	}
}

// extractBearerToken pulls the token out of "Bearer <token>".
// Returns "" when the header is absent or malformed.
func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
