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

import (
	"fmt"
	"sort"
	"strings"
)

// PositionSet maps canonical bodies to ecliptic longitude in degrees.
//
// Values are conventionally in [0,360) but callers are not required to
// normalize; the engine's separation math is modulo-360 either way.
// A PositionSet is ephemeral per-request data owned by its creator.
type PositionSet map[Body]float64

// Longitude returns the longitude for b, or 0.0 when b is absent.
// Absence never fails: the matrix contract guarantees a full grid.
func (ps PositionSet) Longitude(b Body) float64 {
	return ps[b]
}

// Has reports whether b carries an explicit position.
func (ps PositionSet) Has(b Body) bool {
	_, ok := ps[b]
	return ok
}

// Clone returns an independent copy.
func (ps PositionSet) Clone() PositionSet {
	out := make(PositionSet, len(ps))
	for b, lon := range ps {
		out[b] = lon
	}
	return out
}

// ParsePositions converts the string-keyed boundary form (JSON input,
// CLI files) into a typed PositionSet.
//
// Unknown body names are rejected rather than silently dropped; the
// error lists every offender so callers can fix their input in one
// round trip.
func ParsePositions(raw map[string]float64) (PositionSet, error) {
	ps := make(PositionSet, len(raw))
	var unknown []string
	for name, lon := range raw {
		b, err := ParseBody(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		ps[b] = lon
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownBody, strings.Join(unknown, ", "))
	}
	return ps, nil
}

// Names returns the string-keyed form for serialization boundaries.
func (ps PositionSet) Names() map[string]float64 {
	out := make(map[string]float64, len(ps))
	for b, lon := range ps {
		out[b.String()] = lon
	}
	return out
}
