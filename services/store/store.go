// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/codeheal/services/healing"
)

const keyPrefix = "session:"

var (
	// ErrNotFound indicates no session exists with the requested id.
	ErrNotFound = errors.New("session not found")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("store closed")
)

// SessionStore persists final session results.
//
// Thread Safety: Safe for concurrent use.
type SessionStore struct {
	db     *badger.DB
	cfg    Config
	gc     *gcRunner
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens a store.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*SessionStore - The store. Caller must call Close.
//	error - Non-nil if the database cannot be opened
func Open(cfg Config) (*SessionStore, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &SessionStore{db: db, cfg: cfg, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// Save stores a result under its session id, replacing any earlier value.
func (s *SessionStore) Save(ctx context.Context, r *healing.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.SessionID == "" {
		return errors.New("result must have a session id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", r.SessionID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(r.SessionID), data)
		if s.cfg.TTL > 0 {
			entry = entry.WithTTL(s.cfg.TTL)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return s.wrap(fmt.Errorf("save session %s: %w", r.SessionID, err))
	}

	s.logger.Debug("Session stored",
		slog.String("session_id", r.SessionID),
		slog.Bool("success", r.Success),
	)
	return nil
}

// Get returns the stored result for id, or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*healing.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out healing.Result
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return &out, nil
}

// List returns up to limit results, newest first. limit <= 0 returns all.
func (s *SessionStore) List(ctx context.Context, limit int) ([]*healing.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*healing.Result
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r healing.Result
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				s.logger.Warn("Skipping unreadable session",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close stops garbage collection and closes the database. Safe to call
// more than once.
func (s *SessionStore) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *SessionStore) wrap(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}
