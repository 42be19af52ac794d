// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
)

// TestSeparation_Symmetry checks separation(a,b) == separation(b,a) and
// range membership across a grid of longitudes, including unnormalized
// ones.
func TestSeparation_Symmetry(t *testing.T) {
	longitudes := []float64{0, 10, 90, 179.5, 180, 270, 350, 359.9, 360, 545.25, -30}
	for _, a := range longitudes {
		for _, b := range longitudes {
			ab := Separation(a, b)
			ba := Separation(b, a)
			assert.Equal(t, ab, ba, "separation(%v,%v) asymmetric", a, b)
			assert.GreaterOrEqual(t, ab, 0.0)
			assert.LessOrEqual(t, ab, 180.0)
		}
	}
}

func TestSeparation_Wraparound(t *testing.T) {
	assert.Equal(t, 20.0, Separation(350, 10))
	assert.Equal(t, 20.0, Separation(10, 350))
	assert.Equal(t, 0.0, Separation(0, 360))
	assert.Equal(t, 180.0, Separation(0, 180))
	assert.Equal(t, 5.0, Separation(-2.5, 2.5))
}

func TestSeparation_NaN(t *testing.T) {
	assert.True(t, math.IsNaN(Separation(math.NaN(), 10)))
	assert.True(t, math.IsNaN(Separation(10, math.NaN())))
}

// TestCompute_Scenario exercises the canonical worked example: charts
// {sun:0, moon:60} and {sun:5, moon:58} under the default 8 degree orb.
func TestCompute_Scenario(t *testing.T) {
	eng := New(chart.MajorAspects())
	a := chart.PositionSet{chart.BodySun: 0, chart.BodyMoon: 60}
	b := chart.PositionSet{chart.BodySun: 5, chart.BodyMoon: 58}

	m := eng.Compute(a, b)

	sunSun, ok := m.At(chart.BodySun, chart.BodySun)
	require.True(t, ok)
	assert.Equal(t, "conjunction", sunSun.Aspect)
	assert.InDelta(t, 5.0, sunSun.Orb, 1e-9)

	// A.sun (0) to B.moon (58): separation 58, sextile with orb 2.
	sunMoon, ok := m.At(chart.BodySun, chart.BodyMoon)
	require.True(t, ok)
	assert.Equal(t, "sextile", sunMoon.Aspect)
	assert.InDelta(t, 2.0, sunMoon.Orb, 1e-9)
	assert.Equal(t, chart.Harmonious, sunMoon.Classification)

	// A.moon (60) to B.moon (58): separation 2, conjunction with orb 2.
	moonMoon, ok := m.At(chart.BodyMoon, chart.BodyMoon)
	require.True(t, ok)
	assert.Equal(t, "conjunction", moonMoon.Aspect)
	assert.InDelta(t, 2.0, moonMoon.Orb, 1e-9)

	// A.moon (60) to B.sun (5): separation 55, sextile with orb 5.
	moonSun, ok := m.At(chart.BodyMoon, chart.BodySun)
	require.True(t, ok)
	assert.Equal(t, "sextile", moonSun.Aspect)
	assert.InDelta(t, 5.0, moonSun.Orb, 1e-9)
}

// TestCompute_SingleAspectInvariant verifies at most one cell per pair
// with orb strictly inside its own definition's tolerance, across a
// spread of synthetic charts.
func TestCompute_SingleAspectInvariant(t *testing.T) {
	table := chart.ExtendedAspects()
	eng := New(table)
	defs := table.Definitions()
	orbByName := make(map[string]float64, len(defs))
	for _, d := range defs {
		orbByName[d.Name] = d.OrbTolerance
	}

	for seed := 0; seed < 8; seed++ {
		a := chart.PositionSet{}
		b := chart.PositionSet{}
		for i, body := range chart.Bodies() {
			a[body] = math.Mod(float64(seed*37+i*29), 360)
			b[body] = math.Mod(float64(seed*53+i*17)+0.5, 360)
		}
		m := eng.Compute(a, b)
		for _, r := range chart.Bodies() {
			for _, c := range chart.Bodies() {
				cell, ok := m.At(r, c)
				if !ok {
					continue
				}
				tol, known := orbByName[cell.Aspect]
				require.True(t, known, "cell names unknown aspect %q", cell.Aspect)
				assert.Less(t, cell.Orb, tol,
					"cell (%s,%s) orb %v not inside tolerance %v", r, c, cell.Orb, tol)
			}
		}
	}
}

// TestCompute_FirstFitLowerAngle checks the tie-break: a separation
// inside two overlapping orbs resolves to the lower exact angle.
func TestCompute_FirstFitLowerAngle(t *testing.T) {
	table, err := chart.NewAspectTable([]chart.AspectDefinition{
		{Name: "wide_low", ExactAngle: 50, OrbTolerance: 15, Classification: chart.Neutral},
		{Name: "wide_high", ExactAngle: 70, OrbTolerance: 15, Classification: chart.Neutral},
	})
	require.NoError(t, err)
	eng := New(table)

	// Separation 60 sits inside both orbs; lower exact angle must win.
	a := chart.PositionSet{chart.BodySun: 0}
	b := chart.PositionSet{chart.BodySun: 60}
	m := eng.Compute(a, b)

	cell, ok := m.At(chart.BodySun, chart.BodySun)
	require.True(t, ok)
	assert.Equal(t, "wide_low", cell.Aspect)
}

func TestCompute_MissingBodiesDefaultZero(t *testing.T) {
	eng := New(chart.MajorAspects())
	// Empty charts: every pair separates by 0 -> conjunction orb 0.
	m := eng.Compute(chart.PositionSet{}, chart.PositionSet{})

	assert.Equal(t, chart.BodyCount*chart.BodyCount, m.CellCount())
	cell, ok := m.At(chart.BodyPluto, chart.BodyChiron)
	require.True(t, ok)
	assert.Equal(t, "conjunction", cell.Aspect)
	assert.Equal(t, 0.0, cell.Orb)
}

func TestCompute_NaNFailsClosed(t *testing.T) {
	eng := New(chart.MajorAspects())
	a := chart.PositionSet{chart.BodySun: math.NaN()}
	b := chart.PositionSet{chart.BodySun: 10}

	m := eng.Compute(a, b)

	// Every cell involving the NaN row stays empty.
	for _, c := range chart.Bodies() {
		_, ok := m.At(chart.BodySun, c)
		assert.False(t, ok, "NaN separation must match no aspect (col %s)", c)
	}
	// Other rows are unaffected.
	_, ok := m.At(chart.BodyMoon, chart.BodyMoon)
	assert.True(t, ok)
}

func TestCompute_OrbOverride(t *testing.T) {
	eng := New(chart.MajorAspects())
	a := chart.PositionSet{chart.BodySun: 0}
	b := chart.PositionSet{chart.BodySun: 7}

	// Default orb 8: conjunction at separation 7.
	m := eng.Compute(a, b)
	_, ok := m.At(chart.BodySun, chart.BodySun)
	require.True(t, ok)

	// Tight override 5: nothing matches at separation 7.
	m = eng.Compute(a, b, WithOrbOverride(5))
	_, ok = m.At(chart.BodySun, chart.BodySun)
	assert.False(t, ok)

	// Boundary is exclusive: separation exactly equal to the override
	// does not match.
	m = eng.Compute(a, b, WithOrbOverride(7))
	_, ok = m.At(chart.BodySun, chart.BodySun)
	assert.False(t, ok)
}

func TestComputeInto_MatchesCompute(t *testing.T) {
	eng := New(chart.MajorAspects())
	a := chart.PositionSet{chart.BodySun: 12, chart.BodyMars: 100}
	b := chart.PositionSet{chart.BodyVenus: 72, chart.BodyMars: 190}

	direct := eng.Compute(a, b)

	buf := make([]float64, chart.BodyCount*chart.BodyCount)
	staged := eng.ComputeInto(buf, a, b)

	for _, r := range chart.Bodies() {
		for _, c := range chart.Bodies() {
			dc, dok := direct.At(r, c)
			sc, sok := staged.At(r, c)
			require.Equal(t, dok, sok, "presence mismatch at (%s,%s)", r, c)
			if dok {
				assert.Equal(t, dc, sc, "cell mismatch at (%s,%s)", r, c)
			}
		}
	}
}

func TestComputeInto_WrongLengthFallsBack(t *testing.T) {
	eng := New(chart.MajorAspects())
	m := eng.ComputeInto(make([]float64, 3), chart.PositionSet{}, chart.PositionSet{})
	require.NotNil(t, m)
	assert.Equal(t, chart.BodyCount*chart.BodyCount, m.CellCount())
}

// TestCompute_Concurrent runs many computations in parallel to catch
// accidental shared state; the engine must be read-only after New.
func TestCompute_Concurrent(t *testing.T) {
	eng := New(chart.MajorAspects())
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			a := chart.PositionSet{chart.BodySun: float64(g * 10)}
			b := chart.PositionSet{chart.BodySun: float64(g*10 + 3)}
			for i := 0; i < 100; i++ {
				m := eng.Compute(a, b)
				cell, ok := m.At(chart.BodySun, chart.BodySun)
				if !ok || cell.Aspect != "conjunction" {
					t.Errorf("goroutine %d: unexpected cell %+v ok=%v", g, cell, ok)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

func ExampleSeparation() {
	fmt.Println(Separation(350, 10))
	fmt.Println(Separation(0, 180))
	// Output:
	// 20
	// 180
}
