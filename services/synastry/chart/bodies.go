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

import "fmt"

// Body identifies one celestial body from the closed canonical set.
//
// The set is fixed at compile time; aspect matrices are always sized by
// this list, never by the bodies present in a particular chart. Missing
// bodies contribute longitude 0.0 rather than shrinking the matrix.
type Body int

const (
	BodySun Body = iota
	BodyMoon
	BodyMercury
	BodyVenus
	BodyMars
	BodyJupiter
	BodySaturn
	BodyUranus
	BodyNeptune
	BodyPluto
	BodyNorthNode
	BodyChiron

	bodyCount // sentinel, keep last
)

// BodyCount is the number of canonical bodies; aspect matrices are
// BodyCount x BodyCount.
const BodyCount = int(bodyCount)

var bodyNames = [bodyCount]string{
	BodySun:       "sun",
	BodyMoon:      "moon",
	BodyMercury:   "mercury",
	BodyVenus:     "venus",
	BodyMars:      "mars",
	BodyJupiter:   "jupiter",
	BodySaturn:    "saturn",
	BodyUranus:    "uranus",
	BodyNeptune:   "neptune",
	BodyPluto:     "pluto",
	BodyNorthNode: "north_node",
	BodyChiron:    "chiron",
}

var bodyByName = func() map[string]Body {
	m := make(map[string]Body, bodyCount)
	for b, name := range bodyNames {
		m[name] = Body(b)
	}
	return m
}()

// Bodies returns the canonical body list in matrix order. The returned
// slice is a fresh copy on every call.
func Bodies() []Body {
	out := make([]Body, BodyCount)
	for i := range out {
		out[i] = Body(i)
	}
	return out
}

// Valid reports whether b is a member of the canonical set.
func (b Body) Valid() bool {
	return b >= 0 && b < bodyCount
}

// String returns the lowercase wire name ("sun", "north_node", ...).
func (b Body) String() string {
	if !b.Valid() {
		return fmt.Sprintf("body(%d)", int(b))
	}
	return bodyNames[b]
}

// ParseBody maps a wire name to its Body. Names are the lowercase forms
// produced by String; anything else returns ErrUnknownBody.
func ParseBody(name string) (Body, error) {
	if b, ok := bodyByName[name]; ok {
		return b, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBody, name)
}
