// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrStoreUnavailable wraps connection and timeout errors from the shared
// counter store. Callers never see it directly; the limiter folds it into
// the circuit breaker failure path.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// CounterStore is the shared key-value store behind the rate limiter.
//
// # Description
//
// Incr atomically creates-or-increments the counter for key within the
// current window. The first increment of a window must also set the key's
// TTL to the window length, and the whole operation must be atomic so that
// concurrent gateway instances never tear the read-modify-write.
//
// # Outputs
//
//   - count: The counter value after this increment.
//   - ttl: Time remaining until the window resets.
//   - error: Non-nil only for store-level failures (never for limit hits).
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// =============================================================================
// Redis Store
// =============================================================================

// incrScript increments the counter and stamps the window TTL in one atomic
// round trip. The PTTL re-check covers keys that survived without an expiry
// (e.g. after a partial Redis restore): they get a fresh window instead of
// leaking forever.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is the production CounterStore backed by a shared Redis.
//
// # Thread Safety
//
// Safe for concurrent use; go-redis manages its own connection pool.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a RedisStore from a connection URL.
//
// # Inputs
//
//   - url: Redis URL, e.g. "redis://localhost:6379/0".
//
// # Outputs
//
//   - *RedisStore: Ready-to-use store.
//   - error: Non-nil if the URL does not parse or the initial ping fails.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("connected to rate limit store", "addr", opt.Addr)
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr implements CounterStore via the atomic Lua script.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected script reply %T", ErrStoreUnavailable, res)
	}
	count, okCount := vals[0].(int64)
	ttlMs, okTTL := vals[1].(int64)
	if !okCount || !okTTL {
		return 0, 0, fmt.Errorf("%w: unexpected script reply values", ErrStoreUnavailable)
	}
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// =============================================================================
// Memory Store
// =============================================================================

// MemoryStore is a process-local CounterStore.
//
// # Description
//
// Used by tests and by dev mode when no REDIS_URL is configured. Counters
// are fixed windows anchored at the truncated wall-clock time, so two
// MemoryStores on the same host agree on window boundaries, but counts are
// not shared across processes.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// Incr implements CounterStore with a fixed window per key.
func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if window <= 0 {
		window = time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	start := now.Truncate(window)
	w := s.windows[key]
	if w == nil || !w.start.Equal(start) {
		w = &memoryWindow{start: start}
		s.windows[key] = w
	}
	w.count++

	ttl := start.Add(window).Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return w.count, ttl, nil
}
