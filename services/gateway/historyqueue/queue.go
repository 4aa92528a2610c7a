// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package historyqueue buffers failed history-store writes and retries them
// in the background with exponential backoff.
//
// # Description
//
// When the synchronous write of a history record fails, the request handler
// hands the record to this queue and responds to the user anyway; a history
// outage never blocks or fails the primary operation. A single background
// pass retries due items on a fixed tick, doubling the delay after each
// failure up to a cap, and drops an item for good once it has exhausted its
// retries.
//
// The queue is process-local and in-memory. Items are lost on restart by
// design: history records are an audit convenience, never the primary
// user-facing result.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Processing passes are
// single-flight; a tick that fires while the previous pass is still running
// is skipped, so no item is ever written twice concurrently.
package historyqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vizionik25/CodeRevAI-sub000/services/gateway/observability"
)

// WriteFunc persists one history record.
//
// A nil return removes the item from the queue. Any error is treated as a
// recoverable failure and drives backoff. Panics are recovered and treated
// the same way; they never escape the processing loop.
type WriteFunc[T any] func(ctx context.Context, ownerID string, payload T) error

// Options configures queue timing.
//
// All durations come from the observed production constants; override them
// only in tests.
type Options struct {
	// BaseDelay is the wait before the first retry and the base of the
	// backoff curve. Default: 5s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Default: 60s.
	MaxDelay time.Duration

	// MaxRetries is how many retry attempts an item gets before being
	// dropped. Default: 3.
	MaxRetries int

	// Interval is the background processing tick. Default: 10s.
	Interval time.Duration
}

// DefaultOptions returns the production timing constants.
func DefaultOptions() Options {
	return Options{
		BaseDelay:  5 * time.Second,
		MaxDelay:   60 * time.Second,
		MaxRetries: 3,
		Interval:   10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaults.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaults.MaxDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaults.MaxRetries
	}
	if o.Interval <= 0 {
		o.Interval = defaults.Interval
	}
	return o
}

// Stats is a read-only snapshot of queue state for the health surface.
type Stats struct {
	// QueueSize is the total number of buffered items.
	QueueSize int `json:"queue_size"`

	// ItemsPendingRetry is how many items are due for a retry right now.
	ItemsPendingRetry int `json:"items_pending_retry"`

	// OldestRetryAge is how long the oldest buffered item has been waiting
	// since it was enqueued. Zero when the queue is empty.
	OldestRetryAge time.Duration `json:"oldest_retry_age"`
}

type queuedItem[T any] struct {
	ownerID     string
	payload     T
	retries     int
	nextRetryAt time.Time
	enqueuedAt  time.Time
}

// Queue is the in-memory retry queue.
//
// Construct with New, then Start to begin background processing and Stop
// on shutdown. Enqueue is fire-and-forget and never fails.
type Queue[T any] struct {
	mu    sync.Mutex
	items []*queuedItem[T]

	write   WriteFunc[T]
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger

	// now is swapped for a fake clock in tests.
	now func() time.Time

	processing atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once
	started    atomic.Bool
	wg         sync.WaitGroup
}

// New constructs a queue around the injected write function.
//
// # Inputs
//
//   - write: Persistence function invoked for each retry. Must not be nil.
//   - opts: Timing options. Zero values get defaults.
//   - metrics: Gateway metrics. May be nil (tests).
//   - logger: Structured logger. Nil falls back to slog.Default().
func New[T any](write WriteFunc[T], opts Options, metrics *observability.Metrics, logger *slog.Logger) *Queue[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue[T]{
		write:   write,
		opts:    opts.withDefaults(),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background processing goroutine.
//
// Calling Start more than once is a no-op.
func (q *Queue[T]) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.processPending(ctx)
			}
		}
	}()
}

// Stop halts background processing and waits for any in-flight pass.
//
// In-flight writes are allowed to complete or fail naturally; buffered
// items are abandoned (they would not survive the process exit anyway).
// Safe to call multiple times.
func (q *Queue[T]) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	q.wg.Wait()
}

// Enqueue buffers a failed write for background retry.
//
// # Description
//
// Non-blocking and infallible: the item is appended with zero retries and
// its first attempt scheduled BaseDelay from now.
func (q *Queue[T]) Enqueue(ownerID string, payload T) {
	now := q.now()
	item := &queuedItem[T]{
		ownerID:     ownerID,
		payload:     payload,
		nextRetryAt: now.Add(q.opts.BaseDelay),
		enqueuedAt:  now,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	q.logger.Info("history write queued for retry",
		"owner_id", ownerID, "queue_size", depth)
}

// Stats returns a read-only snapshot of queue state.
func (q *Queue[T]) Stats() Stats {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{QueueSize: len(q.items)}
	var oldest time.Time
	for _, item := range q.items {
		if !item.nextRetryAt.After(now) {
			stats.ItemsPendingRetry++
		}
		if oldest.IsZero() || item.enqueuedAt.Before(oldest) {
			oldest = item.enqueuedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestRetryAge = now.Sub(oldest)
	}
	return stats
}

// Clear discards all buffered items immediately.
//
// Used on shutdown and for test reset. Idempotent; clearing an empty queue
// is a no-op.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	discarded := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.metrics.SetQueueDepth(0)
	if discarded > 0 {
		q.logger.Info("history queue cleared", "discarded", discarded)
	}
}

// processPending runs one retry pass over all due items.
//
// Single-flight: if a previous pass is still running this call returns
// immediately. Items are written sequentially; there is no parallelism
// inside a pass, which keeps the no-duplicate-write guarantee trivial.
func (q *Queue[T]) processPending(ctx context.Context) {
	if !q.processing.CompareAndSwap(false, true) {
		return
	}
	defer q.processing.Store(false)

	now := q.now()

	q.mu.Lock()
	due := make([]*queuedItem[T], 0, len(q.items))
	for _, item := range q.items {
		if !item.nextRetryAt.After(now) {
			due = append(due, item)
		}
	}
	q.mu.Unlock()

	for _, item := range due {
		err := q.attempt(ctx, item)
		if err == nil {
			q.remove(item)
			q.metrics.RecordQueueRetry("success")
			q.logger.Info("history write retry succeeded",
				"owner_id", item.ownerID, "attempts", item.retries+1)
			continue
		}
		q.metrics.RecordQueueRetry("failure")
		q.reschedule(item, err)
	}
}

// attempt invokes the write function with panic containment.
func (q *Queue[T]) attempt(ctx context.Context, item *queuedItem[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write function panicked: %v", r)
		}
	}()
	return q.write(ctx, item.ownerID, item.payload)
}

// reschedule applies backoff to a failed item or drops it at max retries.
func (q *Queue[T]) reschedule(item *queuedItem[T], cause error) {
	q.mu.Lock()

	idx := q.indexOf(item)
	if idx < 0 {
		// Cleared while the write was in flight.
		q.mu.Unlock()
		return
	}

	item.retries++
	if item.retries >= q.opts.MaxRetries {
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		depth := len(q.items)
		q.mu.Unlock()

		q.metrics.SetQueueDepth(depth)
		q.metrics.RecordQueueDiscard()
		q.logger.Error("history write dropped after max retries",
			"owner_id", item.ownerID, "retries", item.retries, "error", cause)
		return
	}

	delay := q.opts.BaseDelay << item.retries
	if delay > q.opts.MaxDelay {
		delay = q.opts.MaxDelay
	}
	item.nextRetryAt = q.now().Add(delay)
	q.mu.Unlock()

	q.logger.Warn("history write retry failed",
		"owner_id", item.ownerID, "retries", item.retries,
		"next_retry_in", delay.String(), "error", cause)
}

// remove deletes item from the buffer if it is still present.
func (q *Queue[T]) remove(item *queuedItem[T]) {
	q.mu.Lock()
	idx := q.indexOf(item)
	if idx >= 0 {
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	}
	depth := len(q.items)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
}

// indexOf locates item by identity. Caller holds q.mu.
func (q *Queue[T]) indexOf(item *queuedItem[T]) int {
	for i, it := range q.items {
		if it == item {
			return i
		}
	}
	return -1
}
