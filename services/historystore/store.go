// Copyright (C) 2025 CodeRevAI (vizionik25@coderevai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package historystore persists per-user activity records.
//
// # Description
//
// Each successful review/refactor call appends a history Item keyed by
// owner. The store is secondary persistence: the request path writes to it
// best-effort and hands failures to the retry queue, so implementations
// should be cheap to call and honest about errors.
//
// The default implementation embeds BadgerDB for local low-latency storage,
// with an in-memory mode for tests.
package historystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Item is one history record.
type Item struct {
	// ID is a generated unique identifier.
	ID string `json:"id"`

	// OwnerID is the user the record belongs to.
	OwnerID string `json:"owner_id"`

	// Action is what was performed: review-code, refactor-code, review-diff.
	Action string `json:"action"`

	// Language is the language hint from the request, if any.
	Language string `json:"language,omitempty"`

	// Prompt is the code or diff that was submitted.
	Prompt string `json:"prompt"`

	// Response is the model output.
	Response string `json:"response"`

	// CreatedAt is when the record was produced.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the secondary persistence contract consumed by the gateway.
//
// AddHistoryItem returns nil on success; any error is recoverable from the
// caller's point of view and may be retried later with the same item.
type Store interface {
	AddHistoryItem(ctx context.Context, ownerID string, item Item) error
	ListHistory(ctx context.Context, ownerID string, limit int) ([]Item, error)
	Close() error
}

// =============================================================================
// Badger Store
// =============================================================================

// Config holds configuration for the Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing and dev mode.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: false; history records tolerate a lost tail on crash.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB logging is disabled.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the embedded history database.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type BadgerStore struct {
	db *badger.DB
}

// Open creates and opens a Badger-backed store.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *BadgerStore: The opened store. Caller must Close() when done.
//   - error: Non-nil if the path is missing or the database cannot open.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent history store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// historyKey builds "history/{owner}/{inverse-timestamp}/{id}". The inverse
// timestamp makes a forward prefix scan yield newest records first.
func historyKey(ownerID, id string, createdAt time.Time) []byte {
	inverse := uint64(1<<63) - uint64(createdAt.UnixNano())
	return []byte(fmt.Sprintf("history/%s/%020d/%s", ownerID, inverse, id))
}

func historyPrefix(ownerID string) []byte {
	return []byte(fmt.Sprintf("history/%s/", ownerID))
}

// AddHistoryItem appends one record for ownerID.
//
// Fills in ID and CreatedAt when the caller left them zero.
func (s *BadgerStore) AddHistoryItem(ctx context.Context, ownerID string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.OwnerID = ownerID

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal history item: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(ownerID, item.ID, item.CreatedAt), data)
	})
	if err != nil {
		return fmt.Errorf("write history item: %w", err)
	}
	return nil
}

// ListHistory returns up to limit records for ownerID, newest first.
func (s *BadgerStore) ListHistory(ctx context.Context, ownerID string, limit int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	items := make([]Item, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = historyPrefix(ownerID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(items) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var item Item
				if err := json.Unmarshal(val, &item); err != nil {
					return fmt.Errorf("decode history item: %w", err)
				}
				items = append(items, item)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return items, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
