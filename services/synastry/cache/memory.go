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
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
)

// Defaults for the memory tier. 64 MiB of matrices is roughly 20k
// cached pairs at typical table sizes, far beyond a single batch.
const (
	DefaultMaxItems = 1024
	DefaultMaxBytes = 64 << 20
)

// MemoryOption configures the memory tier.
type MemoryOption func(*Memory)

// WithMaxItems bounds the entry count. n <= 0 means unbounded.
func WithMaxItems(n int) MemoryOption {
	return func(m *Memory) { m.maxItems = n }
}

// WithMaxBytes bounds the estimated resident size. n <= 0 means
// unbounded.
func WithMaxBytes(n int64) MemoryOption {
	return func(m *Memory) { m.maxBytes = n }
}

// memoryEntry is the payload stored in each LRU list element.
type memoryEntry struct {
	key            hash.CacheKey
	value          *chart.AspectMatrix
	estimatedBytes int64
	lastAccess     time.Time
}

// Memory is the hot tier: an LRU map of computed aspect matrices
// bounded by both entry count and estimated bytes. Exceeding either
// bound evicts least-recently-accessed entries until both hold again.
//
// Thread Safety:
//
//	Safe for concurrent use. Get takes the write lock because a hit
//	moves the entry to the front of the recency list.
type Memory struct {
	mu       sync.RWMutex
	entries  map[hash.CacheKey]*list.Element
	lru      *list.List // front = most recently accessed
	maxItems int
	maxBytes int64
	curBytes int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// MemoryStats is a snapshot of the memory tier's counters.
type MemoryStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
}

// NewMemory creates a memory tier with the default bounds unless
// overridden by options.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:  make(map[hash.CacheKey]*list.Element),
		lru:      list.New(),
		maxItems: DefaultMaxItems,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached matrix for key and refreshes its recency.
func (m *Memory) Get(key hash.CacheKey) (*chart.AspectMatrix, bool) {
	m.mu.Lock()
	elem, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		m.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	entry.lastAccess = time.Now()
	m.lru.MoveToFront(elem)
	value := entry.value
	m.mu.Unlock()

	m.hits.Add(1)
	return value, true
}

// Put stores the matrix under key, refreshing recency if the key is
// already present, then evicts from the cold end until both bounds
// hold. An entry larger than the byte bound does not stick.
func (m *Memory) Put(key hash.CacheKey, matrix *chart.AspectMatrix) {
	if matrix == nil {
		return
	}
	size := matrix.EstimatedBytes()

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		m.curBytes += size - entry.estimatedBytes
		entry.value = matrix
		entry.estimatedBytes = size
		entry.lastAccess = time.Now()
		m.lru.MoveToFront(elem)
	} else {
		entry := &memoryEntry{
			key:            key,
			value:          matrix,
			estimatedBytes: size,
			lastAccess:     time.Now(),
		}
		m.entries[key] = m.lru.PushFront(entry)
		m.curBytes += size
	}

	m.evictLocked()
}

// Delete removes the entry for key, reporting whether it was present.
// Used by the directory watcher to drop promotions whose backing file
// disappeared.
func (m *Memory) Delete(key hash.CacheKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return false
	}
	m.removeLocked(elem)
	return true
}

// Clear empties the tier and resets all counters.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.entries = make(map[hash.CacheKey]*list.Element)
	m.lru.Init()
	m.curBytes = 0
	m.mu.Unlock()

	m.hits.Store(0)
	m.misses.Store(0)
	m.evictions.Store(0)
}

// Len reports the number of resident entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Bytes reports the estimated resident size.
func (m *Memory) Bytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.curBytes
}

// Stats returns a snapshot of the tier's counters.
func (m *Memory) Stats() MemoryStats {
	m.mu.RLock()
	entries := len(m.entries)
	bytes := m.curBytes
	m.mu.RUnlock()

	return MemoryStats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Entries:   entries,
		Bytes:     bytes,
	}
}

// evictLocked drops entries from the back of the recency list until
// both bounds are satisfied. Caller must hold the write lock.
func (m *Memory) evictLocked() {
	for m.overLimitLocked() {
		back := m.lru.Back()
		if back == nil {
			return
		}
		m.removeLocked(back)
		m.evictions.Add(1)
	}
}

func (m *Memory) overLimitLocked() bool {
	if m.maxItems > 0 && len(m.entries) > m.maxItems {
		return true
	}
	if m.maxBytes > 0 && m.curBytes > m.maxBytes {
		return true
	}
	return false
}

// removeLocked unlinks an element from both the list and the map.
// Caller must hold the write lock.
func (m *Memory) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	m.lru.Remove(elem)
	delete(m.entries, entry.key)
	m.curBytes -= entry.estimatedBytes
}
