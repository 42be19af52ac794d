// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined instruments for the synastry engine.
// All metrics use the "synastry_" prefix.
//
// Hot paths call the helper methods (CacheHit, PoolReuse, ...), which
// are nil-safe: a nil *Metrics records nothing, so components accept
// one unconditionally and work the same with telemetry disabled.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// AspectsComputedTotal counts pair matrices computed (cache misses
	// that went through the engine).
	AspectsComputedTotal metric.Int64Counter

	// CacheHitsTotal counts cache hits by tier (memory, persistent).
	CacheHitsTotal metric.Int64Counter

	// CacheMissesTotal counts lookups both tiers missed.
	CacheMissesTotal metric.Int64Counter

	// PoolReusesTotal counts scratch buffers served from the pool
	// free-lists instead of fresh allocations.
	PoolReusesTotal metric.Int64Counter

	// ComputeDuration records single-pair compute duration in seconds.
	ComputeDuration metric.Float64Histogram

	// ChunkDuration records batch chunk duration in seconds.
	ChunkDuration metric.Float64Histogram
}

// NewMetrics registers all instruments with the provided meter.
//
// Example:
//
//	meter := otel.Meter("synastry")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AspectsComputedTotal, err = meter.Int64Counter(
		"synastry_aspects_computed_total",
		metric.WithDescription("Total aspect matrices computed"),
		metric.WithUnit("{matrix}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create aspects_computed_total: %w", err)
	}

	m.CacheHitsTotal, err = meter.Int64Counter(
		"synastry_cache_hits_total",
		metric.WithDescription("Total cache hits by tier"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_hits_total: %w", err)
	}

	m.CacheMissesTotal, err = meter.Int64Counter(
		"synastry_cache_misses_total",
		metric.WithDescription("Total cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_misses_total: %w", err)
	}

	m.PoolReusesTotal, err = meter.Int64Counter(
		"synastry_pool_reuses_total",
		metric.WithDescription("Total pooled buffer reuses"),
		metric.WithUnit("{reuse}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pool_reuses_total: %w", err)
	}

	m.ComputeDuration, err = meter.Float64Histogram(
		"synastry_compute_duration_seconds",
		metric.WithDescription("Single-pair aspect computation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05),
	)
	if err != nil {
		return nil, fmt.Errorf("create compute_duration: %w", err)
	}

	m.ChunkDuration, err = meter.Float64Histogram(
		"synastry_batch_chunk_duration_seconds",
		metric.WithDescription("Batch chunk duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create chunk_duration: %w", err)
	}

	return m, nil
}

// AspectsComputed adds n computed matrices.
func (m *Metrics) AspectsComputed(ctx context.Context, n int64) {
	if m == nil || m.AspectsComputedTotal == nil {
		return
	}
	m.AspectsComputedTotal.Add(ctx, n)
}

// CacheHit records a hit on the given tier.
func (m *Metrics) CacheHit(ctx context.Context, tier string) {
	if m == nil || m.CacheHitsTotal == nil {
		return
	}
	m.CacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// CacheMiss records a full miss.
func (m *Metrics) CacheMiss(ctx context.Context) {
	if m == nil || m.CacheMissesTotal == nil {
		return
	}
	m.CacheMissesTotal.Add(ctx, 1)
}

// PoolReuse records one pooled-buffer reuse.
func (m *Metrics) PoolReuse(ctx context.Context) {
	if m == nil || m.PoolReusesTotal == nil {
		return
	}
	m.PoolReusesTotal.Add(ctx, 1)
}

// ObserveCompute records one single-pair computation's duration.
func (m *Metrics) ObserveCompute(ctx context.Context, seconds float64) {
	if m == nil || m.ComputeDuration == nil {
		return
	}
	m.ComputeDuration.Record(ctx, seconds)
}

// ObserveChunk records one batch chunk's duration.
func (m *Metrics) ObserveChunk(ctx context.Context, seconds float64) {
	if m == nil || m.ChunkDuration == nil {
		return
	}
	m.ChunkDuration.Record(ctx, seconds)
}
