// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chart

import "errors"

var (
	// ErrUnknownBody is returned when a position map names a body
	// outside the canonical set.
	ErrUnknownBody = errors.New("unknown body name")

	// ErrInvalidDefinition is returned when an aspect definition fails
	// validation (angle outside [0,180], non-positive orb, bad class).
	ErrInvalidDefinition = errors.New("invalid aspect definition")

	// ErrEmptyTable is returned when an aspect table is constructed
	// with no definitions.
	ErrEmptyTable = errors.New("aspect table has no definitions")

	// ErrMatrixShape is returned when matrix construction or decoding
	// encounters a grid that is not BodyCount x BodyCount.
	ErrMatrixShape = errors.New("aspect matrix has wrong shape")
)
