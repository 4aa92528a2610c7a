// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/admission"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/historyqueue"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/middleware"
	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/routes"
)

// Config holds all gateway settings, loaded from the environment.
//
// Every field has a production default; the service starts with an empty
// environment except for the OpenAI credentials.
type Config struct {
	// Port the HTTP server listens on. GATEWAY_PORT.
	Port string `validate:"required,numeric"`

	// RedisURL is the shared rate limit store. REDIS_URL.
	// Empty selects the process-local memory store (dev mode): limits
	// still apply per instance but are not shared across a fleet.
	RedisURL string

	// HistoryPath is the BadgerDB directory for history records.
	// HISTORY_PATH. Empty selects in-memory history (dev mode).
	HistoryPath string

	// ReviewLimit is admitted review-code requests per minute per user.
	ReviewLimit int64 `validate:"gt=0"`

	// RefactorLimit is admitted refactor-code requests per minute per user.
	RefactorLimit int64 `validate:"gt=0"`

	// DiffLimit is admitted review-diff requests per minute per user.
	DiffLimit int64 `validate:"gt=0"`

	// HistoryLimit is admitted get-history requests per minute per user.
	HistoryLimit int64 `validate:"gt=0"`

	// BreakerThreshold is consecutive store failures before the circuit
	// opens. RATE_LIMIT_BREAKER_THRESHOLD.
	BreakerThreshold int `validate:"gt=0"`

	// BreakerCooldown is how long the circuit stays open.
	// RATE_LIMIT_BREAKER_COOLDOWN.
	BreakerCooldown time.Duration `validate:"gt=0"`

	// StoreTimeout bounds each rate limit store round trip.
	// RATE_LIMIT_STORE_TIMEOUT.
	StoreTimeout time.Duration `validate:"gt=0"`

	// Queue carries the retry queue timing constants.
	Queue historyqueue.Options
}

var configValidate = validator.New()

// LoadConfig reads the environment and applies defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:             envString("GATEWAY_PORT", "12310"),
		RedisURL:         os.Getenv("REDIS_URL"),
		HistoryPath:      os.Getenv("HISTORY_PATH"),
		ReviewLimit:      envInt64("REVIEW_LIMIT_PER_MINUTE", 20),
		RefactorLimit:    envInt64("REFACTOR_LIMIT_PER_MINUTE", 10),
		DiffLimit:        envInt64("DIFF_LIMIT_PER_MINUTE", 20),
		HistoryLimit:     envInt64("HISTORY_LIMIT_PER_MINUTE", 120),
		BreakerThreshold: int(envInt64("RATE_LIMIT_BREAKER_THRESHOLD", 5)),
		BreakerCooldown:  envDuration("RATE_LIMIT_BREAKER_COOLDOWN", 30*time.Second),
		StoreTimeout:     envDuration("RATE_LIMIT_STORE_TIMEOUT", 500*time.Millisecond),
		Queue: historyqueue.Options{
			BaseDelay:  envDuration("HISTORY_QUEUE_BASE_DELAY", 5*time.Second),
			MaxDelay:   envDuration("HISTORY_QUEUE_MAX_DELAY", 60*time.Second),
			MaxRetries: int(envInt64("HISTORY_QUEUE_MAX_RETRIES", 3)),
			Interval:   envDuration("HISTORY_QUEUE_INTERVAL", 10*time.Second),
		},
	}

	if err := configValidate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid gateway config: %w", err)
	}
	return cfg, nil
}

// LimiterConfig maps the breaker settings onto the admission package.
func (c Config) LimiterConfig() admission.LimiterConfig {
	return admission.LimiterConfig{
		StoreTimeout: c.StoreTimeout,
		Breaker: admission.BreakerConfig{
			FailureThreshold: c.BreakerThreshold,
			OpenTimeout:      c.BreakerCooldown,
		},
	}
}

// Policies maps the per-action limits onto the middleware.
//
// The LLM-backed actions fail closed: if the limit store is unreachable we
// refuse to spend money unmetered. History listing fails open; it costs
// nothing upstream.
func (c Config) Policies() routes.Policies {
	const window = time.Minute
	return routes.Policies{
		Review: middleware.LimitPolicy{
			Action: "review-code", Limit: c.ReviewLimit, Window: window, FailClosed: true,
		},
		Refactor: middleware.LimitPolicy{
			Action: "refactor-code", Limit: c.RefactorLimit, Window: window, FailClosed: true,
		},
		Diff: middleware.LimitPolicy{
			Action: "review-diff", Limit: c.DiffLimit, Window: window, FailClosed: true,
		},
		History: middleware.LimitPolicy{
			Action: "get-history", Limit: c.HistoryLimit, Window: window, FailClosed: false,
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("ignoring unparseable env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring unparseable env var", "key", key, "value", raw)
		return fallback
	}
	return v
}
