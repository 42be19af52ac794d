// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hash

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
)

// TestPositions_Deterministic builds the same chart repeatedly through
// different insertion orders; the hash must never vary.
func TestPositions_Deterministic(t *testing.T) {
	build := func(order []chart.Body) chart.PositionSet {
		ps := make(chart.PositionSet, len(order))
		for _, b := range order {
			ps[b] = float64(int(b)) * 30.5
		}
		return ps
	}

	forward := build([]chart.Body{chart.BodySun, chart.BodyMoon, chart.BodyMars, chart.BodyPluto})
	reverse := build([]chart.Body{chart.BodyPluto, chart.BodyMars, chart.BodyMoon, chart.BodySun})

	want := Positions(forward)
	assert.Equal(t, want, Positions(reverse))
	for i := 0; i < 50; i++ {
		assert.Equal(t, want, Positions(build([]chart.Body{chart.BodyMars, chart.BodySun, chart.BodyPluto, chart.BodyMoon})))
	}
}

func TestPositions_MissingEqualsZero(t *testing.T) {
	// The engine treats a missing body as longitude 0.0, so the hash
	// must too: these two inputs produce identical matrices.
	explicit := chart.PositionSet{chart.BodySun: 0.0, chart.BodyMoon: 45}
	implicit := chart.PositionSet{chart.BodyMoon: 45}
	assert.Equal(t, Positions(explicit), Positions(implicit))
}

func TestPositions_NegativeZero(t *testing.T) {
	a := chart.PositionSet{chart.BodySun: 0.0}
	b := chart.PositionSet{chart.BodySun: math.Copysign(0, -1)}
	assert.Equal(t, Positions(a), Positions(b))
}

func TestPositions_DistinctData(t *testing.T) {
	a := chart.PositionSet{chart.BodySun: 10}
	b := chart.PositionSet{chart.BodySun: 10.0000001}
	assert.NotEqual(t, Positions(a), Positions(b))

	// Same longitude on a different body is a different chart.
	c := chart.PositionSet{chart.BodyMoon: 10}
	assert.NotEqual(t, Positions(a), Positions(c))
}

func TestParams_Sensitivity(t *testing.T) {
	major := chart.MajorAspects()
	extended := chart.ExtendedAspects()
	orb := 5.0

	base := Params(nil, major)
	assert.Equal(t, base, Params(nil, major), "repeated calls must agree")
	assert.NotEqual(t, base, Params(&orb, major), "override must change the hash")
	assert.NotEqual(t, base, Params(nil, extended), "table must change the hash")

	otherOrb := 6.0
	assert.NotEqual(t, Params(&orb, major), Params(&otherOrb, major))
}

func TestKey_Components(t *testing.T) {
	a := chart.PositionSet{chart.BodySun: 1}
	b := chart.PositionSet{chart.BodySun: 2}
	table := chart.MajorAspects()

	k1 := Key("synastry_matrix", a, b, nil, table)
	k2 := Key("synastry_matrix", a, b, nil, table)
	assert.Equal(t, k1, k2)

	// Swapping charts produces a different key: synastry is directional
	// (rows are A's bodies).
	k3 := Key("synastry_matrix", b, a, nil, table)
	assert.NotEqual(t, k1, k3)

	k4 := Key("natal_matrix", a, b, nil, table)
	assert.NotEqual(t, k1.String(), k4.String())
}

func TestCacheKey_String(t *testing.T) {
	k := CacheKey{Op: "synastry_matrix", A: 1, B: 2, Params: 0xabc}
	s := k.String()
	assert.True(t, strings.HasPrefix(s, "synastry_matrix:"))
	assert.Contains(t, s, "0000000000000001")
	assert.Contains(t, s, "0000000000000abc")
}

func TestCacheKey_Filename(t *testing.T) {
	k := Key("synastry_matrix", chart.PositionSet{chart.BodySun: 42}, chart.PositionSet{}, nil, chart.MajorAspects())

	name := k.Filename()
	assert.Equal(t, name, k.Filename(), "filename must be stable")
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}\.json$`), name)

	other := Key("synastry_matrix", chart.PositionSet{chart.BodySun: 43}, chart.PositionSet{}, nil, chart.MajorAspects())
	assert.NotEqual(t, name, other.Filename())
}
