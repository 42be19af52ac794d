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

import "errors"

var (
	// ErrStoreClosed is returned by store writes after Close.
	ErrStoreClosed = errors.New("cache: store is closed")

	// ErrNilCompute is returned by GetOrCompute when fn is nil.
	ErrNilCompute = errors.New("cache: compute function is nil")

	// ErrNilMatrix is returned when a compute function produces a nil
	// matrix without an error.
	ErrNilMatrix = errors.New("cache: compute function returned nil matrix")

	// ErrNoPersistentTier is returned by maintenance operations when
	// no sweepable persistent tier is configured.
	ErrNoPersistentTier = errors.New("cache: no persistent tier configured")
)
