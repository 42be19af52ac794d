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
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eclipticlabs/ecliptic/pkg/ux"
	"github.com/eclipticlabs/ecliptic/services/synastry/batch"
	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
)

// syntheticPairs builds n deterministic chart pairs from seed. Every
// canonical body gets a longitude, so the engine's full matrix path is
// exercised.
func syntheticPairs(n int, seed int64) []batch.Pair {
	rng := rand.New(rand.NewSource(seed))
	pairs := make([]batch.Pair, n)
	for i := range pairs {
		a := make(chart.PositionSet, chart.BodyCount)
		b := make(chart.PositionSet, chart.BodyCount)
		for _, body := range chart.Bodies() {
			a[body] = rng.Float64() * 360
			b[body] = rng.Float64() * 360
		}
		pairs[i] = batch.Pair{A: a, B: b}
	}
	return pairs
}

// runBench runs the synthetic batch twice: a cold pass that fills the
// cache and a warm pass served from it, then prints the stats both
// passes produced.
func runBench(cmd *cobra.Command, args []string) error {
	if benchPairs < 1 {
		return fmt.Errorf("--pairs must be >= 1, got %d", benchPairs)
	}

	// The batch itself runs to completion; the signal context bounds
	// only setup and the inter-pass gap.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cfg, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	chunkSize := benchChunkSize
	if chunkSize == 0 {
		chunkSize = cfg.ChunkSize
	}

	pairs := syntheticPairs(benchPairs, benchSeed)
	ux.Title(fmt.Sprintf("Benchmark: %d pairs, chunks of %d, seed %d",
		benchPairs, chunkSize, benchSeed))

	for _, pass := range []string{"cold", "warm"} {
		if err := ctx.Err(); err != nil {
			return err
		}

		spin := ux.NewProgressSpinner(fmt.Sprintf("%s pass", pass), benchPairs)
		spin.Start()

		started := time.Now()
		_, err := svc.Process(ctx, pairs, batch.Options{
			ChunkSize: benchChunkSize,
			ForceGC:   benchForceGC,
			Progress: func(percent float64, done, total int) {
				spin.SetProgress(done)
			},
		})
		elapsed := time.Since(started)
		if err != nil {
			spin.StopWithError(fmt.Sprintf("%s pass failed", pass))
			return err
		}
		spin.StopWithSuccess(fmt.Sprintf("%s pass: %d pairs in %s (%.0f pairs/s)",
			pass, benchPairs, elapsed.Round(time.Millisecond),
			float64(benchPairs)/elapsed.Seconds()))
	}

	if stats, ok := svc.CacheStats(); ok {
		ux.Title("Cache")
		ux.KeyValue("hits", stats.Hits)
		ux.KeyValue("misses", stats.Misses)
		ux.KeyValue("hit_rate", fmt.Sprintf("%.1f%%", stats.HitRate*100))
		ux.KeyValue("evictions", stats.Evictions)
		ux.KeyValue("entries", stats.Entries)
		ux.KeyValue("bytes", stats.Bytes)
		ux.KeyValue("promotions", stats.Promotions)
	}

	if stats, ok := svc.PoolStats(); ok {
		ux.Title("Pool")
		ux.KeyValue("allocations", stats.Allocations)
		ux.KeyValue("reuses", stats.Reuses)
		ux.KeyValue("returns", stats.Returns)
		ux.KeyValue("drops", stats.Drops)
		ux.KeyValue("bytes_saved", stats.BytesSaved)
	}

	ux.Title("Operations")
	for _, r := range svc.Reports() {
		ux.KeyValue(r.Operation, fmt.Sprintf("n=%d p50=%s p95=%s p99=%s trend=%s",
			r.Count, r.P50, r.P95, r.P99, r.Trend))
	}

	if reg, ok := svc.DetectRegression("batch_process", 2.0); ok {
		ux.Warning(fmt.Sprintf("regression: %s %s %.0f -> %.0f (threshold %.1fx)",
			reg.Operation, reg.Metric, reg.Baseline, reg.Recent, reg.Factor))
	}
	return nil
}
