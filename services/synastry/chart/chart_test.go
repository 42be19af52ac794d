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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBodies_CanonicalOrder verifies the closed body set and its order,
// which fixes matrix dimensions everywhere downstream.
func TestBodies_CanonicalOrder(t *testing.T) {
	bodies := Bodies()
	require.Len(t, bodies, BodyCount)
	assert.Equal(t, BodySun, bodies[0])
	assert.Equal(t, BodyChiron, bodies[BodyCount-1])

	// Round-trip every name.
	for _, b := range bodies {
		parsed, err := ParseBody(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}
}

func TestParseBody_Unknown(t *testing.T) {
	_, err := ParseBody("vulcan")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownBody)
}

func TestParsePositions(t *testing.T) {
	t.Run("valid input", func(t *testing.T) {
		ps, err := ParsePositions(map[string]float64{"sun": 15.5, "moon": 203.2})
		require.NoError(t, err)
		assert.Equal(t, 15.5, ps.Longitude(BodySun))
		assert.Equal(t, 203.2, ps.Longitude(BodyMoon))
		assert.True(t, ps.Has(BodySun))
	})

	t.Run("missing bodies default to zero", func(t *testing.T) {
		ps, err := ParsePositions(map[string]float64{"sun": 10})
		require.NoError(t, err)
		assert.False(t, ps.Has(BodyPluto))
		assert.Equal(t, 0.0, ps.Longitude(BodyPluto))
	})

	t.Run("unknown names listed in error", func(t *testing.T) {
		_, err := ParsePositions(map[string]float64{"sun": 1, "vulcan": 2, "ceres": 3})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownBody)
		assert.Contains(t, err.Error(), "ceres, vulcan") // sorted
	})
}

func TestPositionSet_Clone(t *testing.T) {
	orig := PositionSet{BodySun: 1.0}
	clone := orig.Clone()
	clone[BodySun] = 99.0
	assert.Equal(t, 1.0, orig.Longitude(BodySun))
}

// TestMajorAspects_TableShape verifies the default table: five
// Ptolemaic aspects, ascending exact angle, 8 degree orbs.
func TestMajorAspects_TableShape(t *testing.T) {
	table := MajorAspects()
	defs := table.Definitions()
	require.Len(t, defs, 5)

	wantNames := []string{"conjunction", "sextile", "square", "trine", "opposition"}
	wantAngles := []float64{0, 60, 90, 120, 180}
	for i, d := range defs {
		assert.Equal(t, wantNames[i], d.Name)
		assert.Equal(t, wantAngles[i], d.ExactAngle)
		assert.Equal(t, 8.0, d.OrbTolerance)
	}
}

func TestExtendedAspects_SortedAscending(t *testing.T) {
	defs := ExtendedAspects().Definitions()
	require.Len(t, defs, 10)
	for i := 1; i < len(defs); i++ {
		assert.LessOrEqual(t, defs[i-1].ExactAngle, defs[i].ExactAngle,
			"definitions must be ascending by exact angle")
	}
}

func TestNewAspectTable_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []AspectDefinition
	}{
		{"empty table", nil},
		{"angle above 180", []AspectDefinition{{Name: "x", ExactAngle: 181, OrbTolerance: 1, Classification: Neutral}}},
		{"negative angle", []AspectDefinition{{Name: "x", ExactAngle: -1, OrbTolerance: 1, Classification: Neutral}}},
		{"zero orb", []AspectDefinition{{Name: "x", ExactAngle: 90, OrbTolerance: 0, Classification: Neutral}}},
		{"bad class", []AspectDefinition{{Name: "x", ExactAngle: 90, OrbTolerance: 1, Classification: "spicy"}}},
		{"empty name", []AspectDefinition{{ExactAngle: 90, OrbTolerance: 1, Classification: Neutral}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAspectTable(tt.defs)
			assert.Error(t, err)
		})
	}
}

func TestNewAspectTable_SortsInput(t *testing.T) {
	table, err := NewAspectTable([]AspectDefinition{
		{Name: "opposition", ExactAngle: 180, OrbTolerance: 8, Classification: Challenging},
		{Name: "conjunction", ExactAngle: 0, OrbTolerance: 8, Classification: Neutral},
	})
	require.NoError(t, err)
	defs := table.Definitions()
	assert.Equal(t, "conjunction", defs[0].Name)
	assert.Equal(t, "opposition", defs[1].Name)
}

func TestAspectMatrix_JSONRoundTrip(t *testing.T) {
	cells := make([]*AspectCell, BodyCount*BodyCount)
	cells[0] = &AspectCell{Aspect: "conjunction", Orb: 5.0, Classification: Neutral}
	cells[int(BodySun)*BodyCount+int(BodyMoon)] = &AspectCell{Aspect: "sextile", Orb: 2.0, Classification: Harmonious}

	m, err := NewMatrix(cells)
	require.NoError(t, err)
	assert.Equal(t, 2, m.CellCount())

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"aspect":"conjunction"`)
	assert.Contains(t, string(data), `"type":"harmonious"`)
	assert.Contains(t, string(data), "null")

	var decoded AspectMatrix
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.CellCount())

	cell, ok := decoded.At(BodySun, BodyMoon)
	require.True(t, ok)
	assert.Equal(t, "sextile", cell.Aspect)
	assert.Equal(t, 2.0, cell.Orb)
	assert.Equal(t, Harmonious, cell.Classification)

	_, ok = decoded.At(BodyMars, BodyVenus)
	assert.False(t, ok)
}

func TestAspectMatrix_ShapeErrors(t *testing.T) {
	_, err := NewMatrix(make([]*AspectCell, 3))
	assert.ErrorIs(t, err, ErrMatrixShape)

	var m AspectMatrix
	err = json.Unmarshal([]byte(`[[null,null]]`), &m)
	assert.ErrorIs(t, err, ErrMatrixShape)
}

func TestAspectMatrix_EstimatedBytes(t *testing.T) {
	empty, err := NewMatrix(make([]*AspectCell, BodyCount*BodyCount))
	require.NoError(t, err)

	cells := make([]*AspectCell, BodyCount*BodyCount)
	cells[5] = &AspectCell{Aspect: "trine", Orb: 1.2, Classification: Harmonious}
	populated, err := NewMatrix(cells)
	require.NoError(t, err)

	assert.Greater(t, populated.EstimatedBytes(), empty.EstimatedBytes())
	assert.Greater(t, empty.EstimatedBytes(), int64(0))
}
