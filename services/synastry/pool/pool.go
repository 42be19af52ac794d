// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool provides a bounded pool of reusable float64 scratch
// buffers for chunked aspect computation.
//
// Buckets are keyed by buffer length; each bucket's free-list is capped
// so the pool can never grow without bound. Checkout always succeeds:
// an empty free-list just means a fresh allocation. Buffers are zeroed
// on checkout, so borrowers always start from clean state regardless of
// what the previous borrower wrote.
//
// Ownership: a checked-out buffer belongs exclusively to the borrower
// until Return, at which point it belongs to the pool again. Touching a
// buffer after Return is a use-after-return bug; use With for scope-
// guaranteed borrowing.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a keyed pool of zeroed float64 buffers. The zero value is not
// usable; construct with New. All methods are safe for concurrent use,
// and all are nil-safe: a nil *Pool degrades to plain allocation, which
// lets callers disable pooling without branching.
type Pool struct {
	maxPerBucket int

	mu      sync.Mutex
	buckets map[int][][]float64

	allocations atomic.Int64
	reuses      atomic.Int64
	returns     atomic.Int64
	drops       atomic.Int64
	bytesSaved  atomic.Int64
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	// Allocations counts checkouts served by fresh allocation.
	Allocations int64 `json:"allocations"`

	// Reuses counts checkouts served from a free-list.
	Reuses int64 `json:"reuses"`

	// Returns counts buffers accepted back into a free-list.
	Returns int64 `json:"returns"`

	// Drops counts buffers rejected because their bucket was full.
	Drops int64 `json:"drops"`

	// BytesSaved estimates allocation traffic avoided by reuse
	// (8 bytes per element per reused checkout).
	BytesSaved int64 `json:"bytes_saved"`
}

// New creates a Pool whose buckets retain at most maxPerBucket free
// buffers each. maxPerBucket <= 0 disables retention: checkouts still
// work but every Return drops.
func New(maxPerBucket int) *Pool {
	return &Pool{
		maxPerBucket: maxPerBucket,
		buckets:      make(map[int][][]float64),
	}
}

// Checkout hands out a zeroed buffer of the given length. It never
// fails; when the bucket's free-list is empty (or the pool is nil) a
// fresh buffer is allocated.
func (p *Pool) Checkout(length int) []float64 {
	buf, _ := p.CheckoutReused(length)
	return buf
}

// CheckoutReused is Checkout plus a report of whether the buffer came
// off the free-list rather than from a fresh allocation, for callers
// that instrument reuse.
func (p *Pool) CheckoutReused(length int) ([]float64, bool) {
	if length <= 0 {
		return []float64{}, false
	}
	if p == nil {
		return make([]float64, length), false
	}

	p.mu.Lock()
	free := p.buckets[length]
	if n := len(free); n > 0 {
		buf := free[n-1]
		p.buckets[length] = free[:n-1]
		p.mu.Unlock()

		p.reuses.Add(1)
		p.bytesSaved.Add(int64(length) * 8)
		clear(buf)
		return buf, true
	}
	p.mu.Unlock()

	p.allocations.Add(1)
	return make([]float64, length), false
}

// Return gives a buffer back to its bucket. It reports whether the
// buffer was retained; a full bucket (or nil pool, or empty buffer)
// drops it for the garbage collector instead. The caller must not use
// the buffer afterwards either way.
func (p *Pool) Return(buf []float64) bool {
	if p == nil || len(buf) == 0 {
		return false
	}

	p.mu.Lock()
	free := p.buckets[len(buf)]
	if len(free) >= p.maxPerBucket {
		p.mu.Unlock()
		p.drops.Add(1)
		return false
	}
	p.buckets[len(buf)] = append(free, buf)
	p.mu.Unlock()

	p.returns.Add(1)
	return true
}

// With checks out a buffer, runs fn with it, and guarantees Return on
// every exit path, including panics inside fn. fn must not retain the
// buffer beyond its own scope.
func (p *Pool) With(length int, fn func(buf []float64) error) error {
	buf := p.Checkout(length)
	defer p.Return(buf)
	return fn(buf)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Allocations: p.allocations.Load(),
		Reuses:      p.reuses.Load(),
		Returns:     p.returns.Load(),
		Drops:       p.drops.Load(),
		BytesSaved:  p.bytesSaved.Load(),
	}
}

// Len reports the number of free buffers currently held in the bucket
// for the given length. Intended for tests and diagnostics.
func (p *Pool) Len(length int) int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets[length])
}
