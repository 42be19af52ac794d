// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the tiered aspect-matrix cache.
//
// Two tiers: a bounded in-memory LRU (Memory) in front of an optional
// persistent Store (flat files or BadgerDB). Reads fall through memory
// to the store and promote what they find; writes go to both. The
// persistent tier is strictly best-effort: every failure there degrades
// to a miss or a log line, never to a caller-visible error.
//
//	Hot (RAM, LRU)  →  Warm (FileStore | BadgerStore)
//
// Keys are hash.CacheKey values, so two charts with identical positions
// and identical aspect parameters share an entry regardless of where
// the request came from.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
	"github.com/eclipticlabs/ecliptic/services/synastry/telemetry"
)

// ComputeFunc produces a matrix on a cache miss. The context belongs
// to the caller that won the singleflight slot; callers sharing the
// result observe its outcome.
type ComputeFunc func(ctx context.Context) (*chart.AspectMatrix, error)

// Option configures the tiered cache.
type Option func(*Tiered)

// WithMetrics attaches telemetry instruments. A nil Metrics is a
// no-op, so callers can pass whatever they have.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Tiered) { t.metrics = m }
}

// WithWatcher registers the directory watcher so puts and promotions
// keep its filename index current.
func WithWatcher(w *Watcher) Option {
	return func(t *Tiered) { t.watcher = w }
}

// Tiered is the cache façade used by the engine and batch paths.
//
// Thread Safety: safe for concurrent use. Promotion from the
// persistent tier is not atomic with the lookup; two goroutines may
// both promote the same entry, which is benign (last write wins).
type Tiered struct {
	mem     *Memory
	store   Store
	log     *logging.Logger
	metrics *telemetry.Metrics
	watcher *Watcher
	flight  singleflight.Group

	hits       atomic.Int64
	misses     atomic.Int64
	promotions atomic.Int64
}

// Stats aggregates counters across both tiers.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
	Entries    int     `json:"entries"`
	Bytes      int64   `json:"bytes"`
	Promotions int64   `json:"promotions"`
}

// New builds a tiered cache. mem may be nil (a default Memory tier is
// created); store may be nil for memory-only operation; log may be nil.
func New(mem *Memory, store Store, log *logging.Logger, opts ...Option) *Tiered {
	if mem == nil {
		mem = NewMemory()
	}
	if log == nil {
		log = logging.Nop()
	}
	t := &Tiered{mem: mem, store: store, log: log}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get looks key up in memory, then in the persistent tier. Persistent
// hits are decoded, promoted into memory, and returned. A corrupt
// persistent entry is deleted best-effort and treated as a miss.
func (t *Tiered) Get(key hash.CacheKey) (*chart.AspectMatrix, bool) {
	if m, ok := t.mem.Get(key); ok {
		t.hits.Add(1)
		t.metrics.CacheHit(context.Background(), "memory")
		return m, true
	}

	if t.store != nil {
		if blob, ok := t.store.Get(key); ok {
			var m chart.AspectMatrix
			if err := json.Unmarshal(blob, &m); err != nil {
				t.log.Warn("persistent cache entry corrupt, dropping",
					"key", key.String(), "error", err)
				_ = t.store.Delete(key)
			} else {
				t.mem.Put(key, &m)
				if t.watcher != nil {
					t.watcher.Track(key)
				}
				t.hits.Add(1)
				t.promotions.Add(1)
				t.metrics.CacheHit(context.Background(), "persistent")
				return &m, true
			}
		}
	}

	t.misses.Add(1)
	t.metrics.CacheMiss(context.Background())
	return nil, false
}

// Put writes the matrix to memory and, when configured, to the
// persistent tier. Persistent failures are logged, never returned;
// the memory tier already has the value.
func (t *Tiered) Put(key hash.CacheKey, matrix *chart.AspectMatrix) {
	if matrix == nil {
		return
	}
	t.mem.Put(key, matrix)

	if t.store == nil {
		return
	}
	blob, err := json.Marshal(matrix)
	if err != nil {
		t.log.Warn("cache entry encode failed", "key", key.String(), "error", err)
		return
	}
	if err := t.store.Put(key, blob); err != nil {
		t.log.Warn("persistent cache write failed", "key", key.String(), "error", err)
		return
	}
	if t.watcher != nil {
		t.watcher.Track(key)
	}
}

// GetOrCompute returns the cached matrix or computes it once.
// Concurrent callers with the same key share a single computation via
// singleflight; losers receive the winner's result (or error) without
// recomputing and without touching the hit/miss counters twice.
func (t *Tiered) GetOrCompute(ctx context.Context, key hash.CacheKey, fn ComputeFunc) (*chart.AspectMatrix, error) {
	if fn == nil {
		return nil, ErrNilCompute
	}

	if m, ok := t.Get(key); ok {
		return m, nil
	}

	v, err, _ := t.flight.Do(key.String(), func() (interface{}, error) {
		// Re-check without counters: a previous flight for this key
		// may have landed between our miss and this slot.
		if m, ok := t.peek(key); ok {
			return m, nil
		}
		m, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, ErrNilMatrix
		}
		t.Put(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*chart.AspectMatrix), nil
}

// peek checks the memory tier without recency refresh or counter
// updates. Singleflight re-check only.
func (t *Tiered) peek(key hash.CacheKey) (*chart.AspectMatrix, bool) {
	t.mem.mu.RLock()
	defer t.mem.mu.RUnlock()
	if elem, ok := t.mem.entries[key]; ok {
		return elem.Value.(*memoryEntry).value, true
	}
	return nil, false
}

// Clear empties both tiers and resets every counter. A Get immediately
// after Clear records a miss.
//
// The persistent tier is cleared first: if it fails, memory entries and
// counters are left untouched, so a later Get cannot promote-and-hit
// surviving disk entries against freshly zeroed counters.
func (t *Tiered) Clear() error {
	if t.store != nil {
		if err := t.store.Clear(); err != nil {
			return err
		}
	}

	t.mem.Clear()
	t.hits.Store(0)
	t.misses.Store(0)
	t.promotions.Store(0)
	if t.watcher != nil {
		t.watcher.Reset()
	}
	return nil
}

// Stats returns aggregated counters. Entries, Bytes, and Evictions
// describe the memory tier; Hits and Misses span both.
func (t *Tiered) Stats() Stats {
	hits := t.hits.Load()
	misses := t.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	mem := t.mem.Stats()
	return Stats{
		Hits:       hits,
		Misses:     misses,
		Evictions:  mem.Evictions,
		HitRate:    rate,
		Entries:    mem.Entries,
		Bytes:      mem.Bytes,
		Promotions: t.promotions.Load(),
	}
}

// MemoryTier exposes the hot tier for components that manage it
// directly (the directory watcher evicts promoted entries through it).
func (t *Tiered) MemoryTier() *Memory {
	return t.mem
}

// Close closes the persistent tier, if any.
func (t *Tiered) Close() error {
	if t.store != nil {
		return t.store.Close()
	}
	return nil
}
