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

	"golang.org/x/time/rate"

	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
)

// Store is the persistent tier behind the in-memory cache. Values are
// opaque blobs; the tiered façade owns encoding. Implementations must
// be safe for concurrent use.
//
// Read-path failures are handled inside the implementation: a Get that
// cannot be served for any reason reports absent, it never errors. The
// cache stays available when its storage degrades; the cost of a false
// miss is one recomputation.
type Store interface {
	// Get returns the blob for key, or absent. Stale and unreadable
	// entries are both absent.
	Get(key hash.CacheKey) ([]byte, bool)

	// Put writes the blob for key, overwriting any previous value.
	Put(key hash.CacheKey, blob []byte) error

	// Delete removes the entry for key. Deleting an absent key is not
	// an error.
	Delete(key hash.CacheKey) error

	// Clear removes every entry.
	Clear() error

	// Len reports the number of live entries.
	Len() (int, error)

	// Close releases resources. The store is unusable afterwards.
	Close() error
}

// SweepResult summarizes one maintenance pass over a store.
type SweepResult struct {
	// Scanned is the number of entries examined.
	Scanned int `json:"scanned"`

	// Removed is the number of expired entries deleted.
	Removed int `json:"removed"`

	// Errors is the number of entries that could not be processed.
	Errors int `json:"errors"`
}

// Sweepable is implemented by stores that support explicit expiry
// maintenance. The limiter, when non-nil, throttles deletions so a
// large sweep does not monopolize disk I/O; implementations for which
// throttling is meaningless ignore it.
type Sweepable interface {
	Sweep(ctx context.Context, limit *rate.Limiter) (SweepResult, error)
}
