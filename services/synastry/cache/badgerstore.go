// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"golang.org/x/time/rate"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
	"github.com/eclipticlabs/ecliptic/services/synastry/storage/badger"
)

// BadgerStore is the embedded-KV alternative to FileStore for hosts
// where a cache directory full of small files is a poor fit. Entries
// are written with badger's native TTL, so expiry needs no mtime
// bookkeeping; Sweep just reclaims value-log space.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	log    *logging.Logger
	closed atomic.Bool
}

// NewBadgerStore wraps an open managed database. ttl <= 0 stores
// entries without expiry. The store takes ownership of db; Close
// closes it.
func NewBadgerStore(db *badger.DB, ttl time.Duration, log *logging.Logger) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("cache: badger db is nil")
	}
	if log == nil {
		log = logging.Nop()
	}
	return &BadgerStore{db: db, ttl: ttl, log: log}, nil
}

func storeKey(key hash.CacheKey) []byte {
	return []byte(key.String())
}

// Get returns the blob for key. Expired entries are filtered by badger
// itself; read failures degrade to absent with a warning.
func (s *BadgerStore) Get(key hash.CacheKey) ([]byte, bool) {
	if s.closed.Load() {
		return nil, false
	}

	var blob []byte
	err := s.db.WithReadTxn(context.Background(), func(txn *badgerdb.Txn) error {
		item, err := txn.Get(storeKey(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			s.log.Warn("badger cache read failed", "key", key.String(), "error", err)
		}
		return nil, false
	}
	return blob, true
}

// Put writes the blob under key, stamped with the store TTL.
func (s *BadgerStore) Put(key hash.CacheKey, blob []byte) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	err := s.db.WithTxn(context.Background(), func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry(storeKey(key), blob)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger cache put: %w", err)
	}
	return nil
}

// Delete removes the entry for key. Absent keys are not an error.
func (s *BadgerStore) Delete(key hash.CacheKey) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	err := s.db.WithTxn(context.Background(), func(txn *badgerdb.Txn) error {
		return txn.Delete(storeKey(key))
	})
	if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return fmt.Errorf("badger cache delete: %w", err)
	}
	return nil
}

// Clear drops every entry.
func (s *BadgerStore) Clear() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("badger cache clear: %w", err)
	}
	return nil
}

// Len counts live entries. Badger's iterator already skips
// TTL-expired keys.
func (s *BadgerStore) Len() (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	count := 0
	err := s.db.WithReadTxn(context.Background(), func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger cache len: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Sweep runs one value-log GC pass. TTL expiry already hides stale
// entries from readers, so there is nothing to scan or count; the
// limiter is ignored.
func (s *BadgerStore) Sweep(ctx context.Context, _ *rate.Limiter) (SweepResult, error) {
	if s.closed.Load() {
		return SweepResult{}, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return SweepResult{}, err
	}
	if err := s.db.GCNow(); err != nil {
		return SweepResult{Errors: 1}, err
	}
	return SweepResult{}, nil
}
