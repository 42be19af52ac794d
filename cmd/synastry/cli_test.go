// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
	"github.com/eclipticlabs/ecliptic/services/synastry/perf"
)

func TestSyntheticPairs_Deterministic(t *testing.T) {
	first := syntheticPairs(10, 7)
	second := syntheticPairs(10, 7)
	require.Len(t, first, 10)
	assert.Equal(t, first, second, "same seed must produce identical pairs")

	other := syntheticPairs(10, 8)
	assert.NotEqual(t, first, other, "different seeds must diverge")
}

func TestSyntheticPairs_CoverAllBodies(t *testing.T) {
	pairs := syntheticPairs(1, 1)
	for _, body := range chart.Bodies() {
		assert.True(t, pairs[0].A.Has(body))
		assert.True(t, pairs[0].B.Has(body))
	}
}

func TestLoadChart(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "a.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"sun": 12.5, "moon": 200}`), 0o600))

		ps, err := loadChart(path)
		require.NoError(t, err)
		assert.Equal(t, 12.5, ps.Longitude(chart.BodySun))
		assert.Equal(t, 200.0, ps.Longitude(chart.BodyMoon))
	})

	t.Run("unknown body", func(t *testing.T) {
		path := filepath.Join(dir, "b.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"vulcan": 1}`), 0o600))

		_, err := loadChart(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vulcan")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadChart(filepath.Join(dir, "nope.json"))
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(dir, "c.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"sun": `), 0o600))

		_, err := loadChart(path)
		require.Error(t, err)
	})
}

func TestNewExporter(t *testing.T) {
	var buf bytes.Buffer

	exp, err := newExporter("json", &buf)
	require.NoError(t, err)
	require.IsType(t, &perf.JSONExporter{}, exp)

	exp, err = newExporter("csv", &buf)
	require.NoError(t, err)
	require.IsType(t, &perf.CSVExporter{}, exp)

	_, err = newExporter("xml", &buf)
	require.Error(t, err)
}

func TestCollectSamples_OperationOrder(t *testing.T) {
	mon := perf.NewMonitor()
	for _, op := range []string{"zeta", "alpha", "alpha"} {
		require.NoError(t, mon.Time(op, 1, func(*perf.Span) error { return nil }))
	}

	samples := collectSamples(mon)
	require.Len(t, samples, 3)
	assert.Equal(t, "alpha", samples[0].Operation)
	assert.Equal(t, "alpha", samples[1].Operation)
	assert.Equal(t, "zeta", samples[2].Operation)
}

func TestCollectSamples_ExportsCleanly(t *testing.T) {
	mon := perf.NewMonitor()
	require.NoError(t, mon.Time("compute", 4, func(*perf.Span) error { return nil }))

	var buf bytes.Buffer
	exp, err := newExporter("csv", &buf)
	require.NoError(t, err)
	require.NoError(t, exp.Export(context.Background(), collectSamples(mon)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "header plus one row")
	assert.Contains(t, lines[1], "compute")
}
