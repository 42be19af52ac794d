// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine computes aspect matrices between position sets.
//
// The engine is a pure function over its immutable aspect table: no
// I/O, no mutable state, safe for concurrent use. Batch orchestration,
// caching, and pooling live in sibling packages; this one only does the
// geometry.
package engine

import (
	"math"

	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
)

// Engine classifies angular separations against an aspect table.
//
// Construct once per table and share; Compute never mutates receiver
// state. Definitions are copied out of the table at construction and
// iterated in ascending exact-angle order, so the first matching
// definition always has the lowest exact angle (tie-break policy for
// separations inside two overlapping orbs).
type Engine struct {
	defs []chart.AspectDefinition
}

// New returns an Engine over table. The table's definitions are copied;
// the engine never observes later table replacement by the caller.
func New(table *chart.AspectTable) *Engine {
	return &Engine{defs: table.Definitions()}
}

// Option adjusts a single Compute call.
type Option func(*computeOptions)

type computeOptions struct {
	orbOverride *float64
}

// WithOrbOverride replaces every definition's orb tolerance with deg
// for this call only. A NaN override matches nothing (fails closed).
func WithOrbOverride(deg float64) Option {
	return func(o *computeOptions) {
		o.orbOverride = &deg
	}
}

// Separation returns the minimal angular distance between two ecliptic
// longitudes in degrees, always in [0,180].
//
// The inputs need not be normalized; negative and >360 longitudes work
// through the modulo. NaN inputs propagate NaN, which no definition
// matches.
func Separation(lonA, lonB float64) float64 {
	sep := math.Mod(math.Abs(lonA-lonB), 360)
	return math.Min(sep, 360-sep)
}

// Compute builds the full aspect matrix between positions a (rows) and
// b (columns).
//
// Every canonical body pair gets a cell slot; bodies absent from either
// set contribute longitude 0.0, so the matrix shape never depends on
// input completeness. A pair's slot is populated when its separation
// falls strictly inside some definition's orb (first fit by ascending
// exact angle); otherwise it stays empty. Malformed input (NaN
// longitudes) yields empty slots, never an error or panic.
func (e *Engine) Compute(a, b chart.PositionSet, opts ...Option) *chart.AspectMatrix {
	var o computeOptions
	for _, opt := range opts {
		opt(&o)
	}

	cells := make([]*chart.AspectCell, chart.BodyCount*chart.BodyCount)
	for i := 0; i < chart.BodyCount; i++ {
		lonA := a.Longitude(chart.Body(i))
		for j := 0; j < chart.BodyCount; j++ {
			sep := Separation(lonA, b.Longitude(chart.Body(j)))
			cells[i*chart.BodyCount+j] = e.classify(sep, o.orbOverride)
		}
	}

	m, _ := chart.NewMatrix(cells) // shape is correct by construction
	return m
}

// ComputeInto behaves like Compute but stages separations in buf, a
// scratch buffer of length chart.BodyCount * chart.BodyCount (typically
// checked out of a pool). The buffer is used only for the duration of
// the call and never retained; a buffer of the wrong length falls back
// to the allocate-fresh path.
func (e *Engine) ComputeInto(buf []float64, a, b chart.PositionSet, opts ...Option) *chart.AspectMatrix {
	n := chart.BodyCount * chart.BodyCount
	if len(buf) != n {
		return e.Compute(a, b, opts...)
	}

	var o computeOptions
	for _, opt := range opts {
		opt(&o)
	}

	for i := 0; i < chart.BodyCount; i++ {
		lonA := a.Longitude(chart.Body(i))
		for j := 0; j < chart.BodyCount; j++ {
			buf[i*chart.BodyCount+j] = Separation(lonA, b.Longitude(chart.Body(j)))
		}
	}

	cells := make([]*chart.AspectCell, n)
	for idx, sep := range buf {
		cells[idx] = e.classify(sep, o.orbOverride)
	}

	m, _ := chart.NewMatrix(cells) // shape is correct by construction
	return m
}

// classify finds the first definition (ascending exact angle) whose orb
// strictly contains sep. NaN separations compare false everywhere and
// so fail closed.
func (e *Engine) classify(sep float64, orbOverride *float64) *chart.AspectCell {
	for _, def := range e.defs {
		orb := def.OrbTolerance
		if orbOverride != nil {
			orb = *orbOverride
		}
		delta := math.Abs(sep - def.ExactAngle)
		if delta < orb {
			return &chart.AspectCell{
				Aspect:         def.Name,
				Orb:            delta,
				Classification: def.Classification,
			}
		}
	}
	return nil
}
