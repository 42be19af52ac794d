// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch runs synastry computations over many chart pairs in
// bounded chunks, reusing the cache and buffer pool between pairs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
	"github.com/eclipticlabs/ecliptic/services/synastry/cache"
	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
	"github.com/eclipticlabs/ecliptic/services/synastry/engine"
	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
	"github.com/eclipticlabs/ecliptic/services/synastry/perf"
	"github.com/eclipticlabs/ecliptic/services/synastry/pool"
	"github.com/eclipticlabs/ecliptic/services/synastry/telemetry"
)

// DefaultChunkSize bounds how many pairs are processed between GC and
// progress checkpoints when neither the processor nor the run options
// say otherwise.
const DefaultChunkSize = 500

var (
	// ErrInvalidChunkSize indicates Options.ChunkSize was negative.
	ErrInvalidChunkSize = errors.New("batch: chunk size must be >= 1")

	// ErrNilResult indicates the computer returned a nil matrix, which
	// only a broken Computer implementation does.
	ErrNilResult = errors.New("batch: computer returned nil matrix")
)

// Pair is one synastry computation request.
type Pair struct {
	A chart.PositionSet `json:"a"`
	B chart.PositionSet `json:"b"`
}

// Progress is invoked synchronously on the processing goroutine after
// each completed chunk. percent is in [0,100].
type Progress func(percent float64, done, total int)

// Options adjust one Process run.
type Options struct {
	// ChunkSize caps pairs per chunk. 0 adopts the processor default;
	// negative values are rejected with ErrInvalidChunkSize.
	ChunkSize int

	// OrbOverride replaces every aspect definition's orb for this run.
	OrbOverride *float64

	// ForceGC runs runtime.GC after every chunk. Slow, but pins peak
	// heap for memory-constrained hosts.
	ForceGC bool

	// Progress, when non-nil, receives a callback after each chunk.
	Progress Progress
}

// PairError names the pair that aborted a batch.
type PairError struct {
	// Index is the position of the failed pair in the input slice.
	Index int

	// Err is the underlying failure.
	Err error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("pair %d: %v", e.Index, e.Err)
}

func (e *PairError) Unwrap() error {
	return e.Err
}

// Computer is the compute surface the processor drives. *engine.Engine
// satisfies it; tests inject failing implementations.
type Computer interface {
	ComputeInto(buf []float64, a, b chart.PositionSet, opts ...engine.Option) *chart.AspectMatrix
}

// Option configures a Processor.
type Option func(*Processor)

// WithDefaultChunkSize sets the chunk size used when a run passes 0.
// Values below 1 keep DefaultChunkSize.
func WithDefaultChunkSize(n int) Option {
	return func(p *Processor) {
		if n >= 1 {
			p.defaultChunkSize = n
		}
	}
}

// WithAspectTable sets the table cache keys are derived from. It must
// match the table the Computer classifies with; otherwise runs with
// different tables would share cache entries.
func WithAspectTable(t *chart.AspectTable) Option {
	return func(p *Processor) { p.table = t }
}

// WithMetrics attaches telemetry instruments. Nil is a no-op.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// Processor executes batches of pair computations.
//
// Thread Safety: safe for concurrent Process calls; all mutable state
// is per-run.
type Processor struct {
	eng     Computer
	cache   *cache.Tiered
	pool    *pool.Pool
	mon     *perf.Monitor
	log     *logging.Logger
	metrics *telemetry.Metrics
	table   *chart.AspectTable

	defaultChunkSize int
}

// New wires a processor. cache, pool, and mon may each be nil: nil
// cache computes every pair, nil pool allocates fresh scratch, nil mon
// records nothing.
func New(eng Computer, cache *cache.Tiered, pool *pool.Pool, mon *perf.Monitor, log *logging.Logger, opts ...Option) *Processor {
	if log == nil {
		log = logging.Nop()
	}
	p := &Processor{
		eng:              eng,
		cache:            cache,
		pool:             pool,
		mon:              mon,
		log:              log,
		defaultChunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process computes a matrix per pair, in input order.
//
// Pairs are processed in consecutive chunks; chunk n completes fully
// before chunk n+1 starts. The first failing pair aborts the whole run
// with an error wrapping *PairError; no partial results are returned.
// Computer panics are recovered into the same shape. Cache and pool
// failures never abort, they only degrade.
//
// ctx carries the trace span; processing itself is not cancellable
// between pairs.
func (p *Processor) Process(ctx context.Context, pairs []Pair, opts Options) ([]*chart.AspectMatrix, error) {
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, opts.ChunkSize)
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = p.defaultChunkSize
	}

	ctx, span := telemetry.StartSpan(ctx, "ecliptic/batch", "batch.process")
	defer span.End()

	batchID := uuid.New().String()
	log := p.log.With("batch_id", batchID)

	total := len(pairs)
	log.Info("batch started", "pairs", total, "chunk_size", chunkSize, "force_gc", opts.ForceGC)

	var perfSpan *perf.Span
	if p.mon != nil {
		perfSpan = p.mon.Track("batch_process", total)
	}

	results := make([]*chart.AspectMatrix, 0, total)
	cacheHits := 0
	started := time.Now()

	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		chunkStart := time.Now()

		for i := start; i < end; i++ {
			matrix, fromCache, err := p.computePair(ctx, i, pairs[i], opts.OrbOverride)
			if err != nil {
				wrapped := fmt.Errorf("batch %s aborted: %w", batchID, err)
				log.Error("batch aborted", "pair_index", i, "error", err)
				telemetry.RecordError(span, wrapped)
				if perfSpan != nil {
					perfSpan.End(wrapped)
				}
				return nil, wrapped
			}
			if fromCache {
				cacheHits++
			}
			results = append(results, matrix)
		}

		if opts.ForceGC {
			runtime.GC()
		}

		p.metrics.ObserveChunk(ctx, time.Since(chunkStart).Seconds())
		log.Debug("chunk completed", "from", start, "to", end-1,
			"duration", time.Since(chunkStart).String())

		if opts.Progress != nil {
			opts.Progress(float64(end)/float64(total)*100, end, total)
		}
	}

	if perfSpan != nil {
		perfSpan.SetMetric("cache_hits", float64(cacheHits))
		perfSpan.SetMetric("chunk_size", float64(chunkSize))
		perfSpan.End(nil)
	}
	telemetry.SetSpanOK(span)
	log.Info("batch completed",
		"pairs", total,
		"cache_hits", cacheHits,
		"duration", time.Since(started).String())

	return results, nil
}

// computePair resolves one pair through cache, pool, and computer.
// Panics inside the computer surface as a *PairError.
func (p *Processor) computePair(ctx context.Context, index int, pair Pair, orb *float64) (matrix *chart.AspectMatrix, fromCache bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matrix, fromCache = nil, false
			err = &PairError{Index: index, Err: fmt.Errorf("recovered: %v", r)}
		}
	}()

	key := hash.Key(hash.OpSynastryMatrix, pair.A, pair.B, orb, p.table)

	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			return cached, true, nil
		}
	}

	var engineOpts []engine.Option
	if orb != nil {
		engineOpts = append(engineOpts, engine.WithOrbOverride(*orb))
	}

	// Nil pools hand out fresh slices, so this path never branches on
	// pooling being enabled.
	buf, reused := p.pool.CheckoutReused(chart.BodyCount * chart.BodyCount)
	defer p.pool.Return(buf)
	if reused {
		p.metrics.PoolReuse(ctx)
	}

	matrix = p.eng.ComputeInto(buf, pair.A, pair.B, engineOpts...)
	if matrix == nil {
		return nil, false, &PairError{Index: index, Err: ErrNilResult}
	}
	p.metrics.AspectsComputed(ctx, 1)

	if p.cache != nil {
		p.cache.Put(key, matrix)
	}
	return matrix, false, nil
}
