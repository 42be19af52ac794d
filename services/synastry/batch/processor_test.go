// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/eclipticlabs/ecliptic/services/synastry/cache"
	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
	"github.com/eclipticlabs/ecliptic/services/synastry/engine"
	"github.com/eclipticlabs/ecliptic/services/synastry/perf"
	"github.com/eclipticlabs/ecliptic/services/synastry/pool"
	"github.com/eclipticlabs/ecliptic/services/synastry/telemetry"
)

// collectMetric drains the manual reader and returns the named instrument's
// data, failing the test when it was never recorded.
func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("instrument %q recorded no data", name)
	return metricdata.Metrics{}
}

func counterSum(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "instrument %q is not an int64 counter", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// countingComputer wraps a real engine and counts compute calls.
type countingComputer struct {
	inner Computer
	calls atomic.Int32
}

func (c *countingComputer) ComputeInto(buf []float64, a, b chart.PositionSet, opts ...engine.Option) *chart.AspectMatrix {
	c.calls.Add(1)
	return c.inner.ComputeInto(buf, a, b, opts...)
}

// faultyComputer fails deterministically at one call index.
type faultyComputer struct {
	inner    Computer
	failAt   int32
	mode     string // "panic" or "nil"
	observed atomic.Int32
}

func (c *faultyComputer) ComputeInto(buf []float64, a, b chart.PositionSet, opts ...engine.Option) *chart.AspectMatrix {
	n := c.observed.Add(1) - 1
	if n == c.failAt {
		switch c.mode {
		case "panic":
			panic("separation table corrupted")
		case "nil":
			return nil
		}
	}
	return c.inner.ComputeInto(buf, a, b, opts...)
}

// testPairs builds n pairs whose Sun separations are 0..n-1 degrees, so
// each result is identifiable by its Sun-Sun conjunction orb.
func testPairs(n int) []Pair {
	pairs := make([]Pair, n)
	for i := range pairs {
		pairs[i] = Pair{
			A: chart.PositionSet{chart.BodySun: float64(i)},
			B: chart.PositionSet{chart.BodySun: 0},
		}
	}
	return pairs
}

func newEngine() *engine.Engine {
	return engine.New(chart.MajorAspects())
}

func TestProcess_OrderPreserved(t *testing.T) {
	p := New(newEngine(), nil, nil, nil, nil, WithAspectTable(chart.MajorAspects()))

	// Separations 0..7 all land inside the 8 degree conjunction orb.
	pairs := testPairs(8)
	results, err := p.Process(context.Background(), pairs, Options{})
	require.NoError(t, err)
	require.Len(t, results, len(pairs))

	for i, m := range results {
		cell, ok := m.At(chart.BodySun, chart.BodySun)
		require.Truef(t, ok, "pair %d should have a Sun-Sun conjunction", i)
		assert.Equalf(t, float64(i), cell.Orb, "result %d must belong to pair %d", i, i)
	}
}

func TestProcess_ChunkingIsTransparent(t *testing.T) {
	pairs := testPairs(23)

	run := func(chunkSize int) []*chart.AspectMatrix {
		p := New(newEngine(), nil, nil, nil, nil)
		results, err := p.Process(context.Background(), pairs, Options{ChunkSize: chunkSize})
		require.NoError(t, err)
		return results
	}

	byOnes := run(1)
	bySeven := run(7)
	byPlenty := run(1000)

	require.Len(t, bySeven, len(byOnes))
	for i := range byOnes {
		assert.Equal(t, byOnes[i], bySeven[i])
		assert.Equal(t, byOnes[i], byPlenty[i])
	}
}

func TestProcess_ProgressAfterEachChunk(t *testing.T) {
	p := New(newEngine(), nil, nil, nil, nil)

	type call struct {
		percent     float64
		done, total int
	}
	var calls []call

	_, err := p.Process(context.Background(), testPairs(5), Options{
		ChunkSize: 2,
		Progress: func(percent float64, done, total int) {
			calls = append(calls, call{percent, done, total})
		},
	})
	require.NoError(t, err)

	require.Len(t, calls, 3)
	assert.Equal(t, call{40, 2, 5}, calls[0])
	assert.Equal(t, call{80, 4, 5}, calls[1])
	assert.Equal(t, call{100, 5, 5}, calls[2])
}

func TestProcess_SecondRunServedFromCache(t *testing.T) {
	counted := &countingComputer{inner: newEngine()}
	tiered := cache.New(nil, nil, nil)
	p := New(counted, tiered, nil, nil, nil, WithAspectTable(chart.MajorAspects()))

	pairs := testPairs(6)

	_, err := p.Process(context.Background(), pairs, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(6), counted.calls.Load())

	results, err := p.Process(context.Background(), pairs, Options{})
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, int32(6), counted.calls.Load(), "second run must not recompute")
	assert.GreaterOrEqual(t, tiered.Stats().Hits, int64(6))
}

func TestProcess_DuplicatePairsShareCacheWithinRun(t *testing.T) {
	counted := &countingComputer{inner: newEngine()}
	p := New(counted, cache.New(nil, nil, nil), nil, nil, nil)

	same := Pair{
		A: chart.PositionSet{chart.BodySun: 120},
		B: chart.PositionSet{chart.BodySun: 0},
	}
	_, err := p.Process(context.Background(), []Pair{same, same, same}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), counted.calls.Load())
}

func TestProcess_FailureAbortsWithPairError(t *testing.T) {
	for _, mode := range []string{"panic", "nil"} {
		t.Run(mode, func(t *testing.T) {
			faulty := &faultyComputer{inner: newEngine(), failAt: 3, mode: mode}
			p := New(faulty, nil, nil, nil, nil)

			results, err := p.Process(context.Background(), testPairs(10), Options{})
			require.Error(t, err)
			assert.Nil(t, results, "no partial results on abort")

			var pairErr *PairError
			require.ErrorAs(t, err, &pairErr)
			assert.Equal(t, 3, pairErr.Index)
			if mode == "nil" {
				assert.ErrorIs(t, err, ErrNilResult)
			} else {
				assert.Contains(t, err.Error(), "recovered")
			}
		})
	}
}

func TestProcess_FailureRecordsFailedSample(t *testing.T) {
	mon := perf.NewMonitor()
	faulty := &faultyComputer{inner: newEngine(), failAt: 0, mode: "panic"}
	p := New(faulty, nil, nil, mon, nil)

	_, err := p.Process(context.Background(), testPairs(2), Options{})
	require.Error(t, err)

	samples := mon.Samples("batch_process")
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Success)
}

func TestProcess_InvalidChunkSize(t *testing.T) {
	p := New(newEngine(), nil, nil, nil, nil)

	_, err := p.Process(context.Background(), testPairs(2), Options{ChunkSize: -1})
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	// Zero adopts the default and succeeds.
	results, err := p.Process(context.Background(), testPairs(2), Options{ChunkSize: 0})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestProcess_EmptyInput(t *testing.T) {
	p := New(newEngine(), nil, nil, nil, nil)

	progressed := false
	results, err := p.Process(context.Background(), nil, Options{
		Progress: func(float64, int, int) { progressed = true },
	})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.False(t, progressed, "no chunks means no progress callbacks")
}

func TestProcess_OrbOverrideSeparatesCacheKeys(t *testing.T) {
	counted := &countingComputer{inner: newEngine()}
	p := New(counted, cache.New(nil, nil, nil), nil, nil, nil, WithAspectTable(chart.MajorAspects()))

	// Sun separation of 5 degrees: conjunct under the default 8 degree
	// orb, nothing under a 1 degree override.
	pair := Pair{
		A: chart.PositionSet{chart.BodySun: 5},
		B: chart.PositionSet{chart.BodySun: 0},
	}

	loose, err := p.Process(context.Background(), []Pair{pair}, Options{})
	require.NoError(t, err)
	_, ok := loose[0].At(chart.BodySun, chart.BodySun)
	assert.True(t, ok)

	tight := 1.0
	strict, err := p.Process(context.Background(), []Pair{pair}, Options{OrbOverride: &tight})
	require.NoError(t, err)
	_, ok = strict[0].At(chart.BodySun, chart.BodySun)
	assert.False(t, ok, "override must not be served the loose-orb cache entry")

	assert.Equal(t, int32(2), counted.calls.Load(), "different orbs are different keys")
}

func TestProcess_PoolRoundTrips(t *testing.T) {
	buffers := pool.New(4)
	p := New(newEngine(), nil, buffers, nil, nil)

	_, err := p.Process(context.Background(), testPairs(10), Options{ChunkSize: 3})
	require.NoError(t, err)

	stats := buffers.Stats()
	assert.Equal(t, int64(10), stats.Allocations+stats.Reuses)
	assert.Equal(t, int64(10), stats.Returns+stats.Drops)
	assert.Positive(t, stats.Reuses, "sequential pairs must reuse scratch buffers")
}

func TestProcess_MissPathRecordsPoolReuses(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := telemetry.NewMetrics(provider.Meter("batch_test"))
	require.NoError(t, err)

	buffers := pool.New(4)
	p := New(newEngine(), nil, buffers, nil, nil, WithMetrics(metrics))

	_, err = p.Process(context.Background(), testPairs(10), Options{ChunkSize: 3})
	require.NoError(t, err)

	stats := buffers.Stats()
	require.Positive(t, stats.Reuses)
	reuses := counterSum(t, collectMetric(t, reader, "synastry_pool_reuses_total"))
	assert.Equal(t, stats.Reuses, reuses, "every free-list checkout must record a reuse")
}

func TestProcess_ForceGCAndMonitorSample(t *testing.T) {
	mon := perf.NewMonitor()
	p := New(newEngine(), nil, nil, mon, nil)

	pairs := testPairs(4)
	_, err := p.Process(context.Background(), pairs, Options{ChunkSize: 2, ForceGC: true})
	require.NoError(t, err)

	samples := mon.Samples("batch_process")
	require.Len(t, samples, 1)
	s := samples[0]
	assert.True(t, s.Success)
	assert.Equal(t, 4, s.Calculations)
	assert.Equal(t, 0.0, s.Metrics["cache_hits"])
	assert.Equal(t, 2.0, s.Metrics["chunk_size"])
}
