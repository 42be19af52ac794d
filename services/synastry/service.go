// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synastry wires the aspect engine, tiered cache, memory pool,
// batch processor, and performance monitor into one explicitly
// constructed service. There are no package-level singletons: every
// dependency is built by New and owned by the returned Service, which
// makes isolated tests a matter of passing a different Config or
// option.
package synastry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
	"github.com/eclipticlabs/ecliptic/services/synastry/batch"
	"github.com/eclipticlabs/ecliptic/services/synastry/cache"
	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
	"github.com/eclipticlabs/ecliptic/services/synastry/config"
	"github.com/eclipticlabs/ecliptic/services/synastry/engine"
	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
	"github.com/eclipticlabs/ecliptic/services/synastry/perf"
	"github.com/eclipticlabs/ecliptic/services/synastry/pool"
	storagebadger "github.com/eclipticlabs/ecliptic/services/synastry/storage/badger"
	"github.com/eclipticlabs/ecliptic/services/synastry/telemetry"
)

// sweepDeletesPerSec throttles sweeper deletions so a large expired
// backlog does not monopolize disk I/O.
const sweepDeletesPerSec = 200.0

// Option adjusts service construction. Options exist for the pieces
// tests need to substitute; everything else comes from Config.
type Option func(*buildOptions)

type buildOptions struct {
	logger  *logging.Logger
	table   *chart.AspectTable
	store   cache.Store
	metrics *telemetry.Metrics
}

// WithLogger substitutes the logger instead of building one from
// Config.Logging. The caller retains ownership; Close will not close
// an injected logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *buildOptions) { o.logger = log }
}

// WithAspectTable substitutes the aspect definition table, overriding
// the major/extended preset selection from Config.
func WithAspectTable(t *chart.AspectTable) Option {
	return func(o *buildOptions) { o.table = t }
}

// WithStore substitutes the persistent cache tier, overriding the
// file/badger backend selection from Config. The service takes
// ownership and closes it.
func WithStore(s cache.Store) Option {
	return func(o *buildOptions) { o.store = s }
}

// WithMetrics attaches telemetry instruments to the cache and batch
// layers. Nil leaves them uninstrumented.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *buildOptions) { o.metrics = m }
}

// Service is the assembled synastry computation core.
//
// Thread Safety: Compute and Process are safe for concurrent use, as
// are the stats accessors. Close is idempotent.
type Service struct {
	cfg     config.Config
	log     *logging.Logger
	ownsLog bool

	table     *chart.AspectTable
	eng       *engine.Engine
	pool      *pool.Pool
	tiered    *cache.Tiered
	watcher   *cache.Watcher
	sweeper   *cache.Sweeper
	sweepable cache.Sweepable
	mon       *perf.Monitor
	proc      *batch.Processor
	metrics   *telemetry.Metrics

	closeOnce sync.Once
	closeErr  error
}

// New builds a service from cfg.
//
// Description:
//
//	Validates cfg, then constructs the logger, aspect table, engine,
//	pool, cache tiers (file or badger backend), sweeper, optional
//	directory watcher, performance monitor, and batch processor, in
//	dependency order. Construction is all-or-nothing: a failure closes
//	everything already built before returning.
//
// Inputs:
//
//	cfg - Validated or unvalidated configuration; New validates.
//	opts - Test substitutions (logger, table, store, metrics).
//
// Outputs:
//
//	*Service - Ready to use. Call Close when done.
//	error - Non-nil if cfg is invalid or a backend fails to open.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("synastry: %w", err)
	}

	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	s := &Service{cfg: cfg, metrics: bo.metrics}

	if bo.logger != nil {
		s.log = bo.logger
	} else {
		s.log = logging.New(cfg.Logging)
		s.ownsLog = true
	}

	s.table = bo.table
	if s.table == nil {
		if cfg.ExtendedAspects {
			s.table = chart.ExtendedAspects()
		} else {
			s.table = chart.MajorAspects()
		}
	}
	s.eng = engine.New(s.table)

	if cfg.EnableMemoryPooling {
		s.pool = pool.New(cfg.MaxBuffersPerBucket)
	}

	if cfg.EnableCaching {
		if err := s.buildCache(cfg, bo); err != nil {
			s.teardown()
			return nil, err
		}
	}

	s.mon = perf.NewMonitor(
		perf.WithRetention(cfg.RetentionWindow.Std()),
		perf.WithLogger(s.log),
	)

	s.proc = batch.New(s.eng, s.tiered, s.pool, s.mon, s.log,
		batch.WithDefaultChunkSize(cfg.ChunkSize),
		batch.WithAspectTable(s.table),
		batch.WithMetrics(s.metrics),
	)

	s.log.Info("synastry service ready",
		"caching", cfg.EnableCaching,
		"pooling", cfg.EnableMemoryPooling,
		"persistent_backend", persistentBackendName(cfg, bo),
		"extended_aspects", cfg.ExtendedAspects)
	return s, nil
}

func persistentBackendName(cfg config.Config, bo buildOptions) string {
	switch {
	case !cfg.EnableCaching:
		return "disabled"
	case bo.store != nil:
		return "injected"
	case cfg.PersistentCacheDir == "":
		return "none"
	default:
		return cfg.PersistentBackend
	}
}

// buildCache assembles the memory tier, persistent tier, watcher, and
// sweeper per cfg.
func (s *Service) buildCache(cfg config.Config, bo buildOptions) error {
	mem := cache.NewMemory(
		cache.WithMaxItems(cfg.MemoryCacheMaxItems),
		cache.WithMaxBytes(cfg.MemoryCacheMaxBytes),
	)

	store := bo.store
	if store == nil && cfg.PersistentCacheDir != "" {
		var err error
		store, err = s.openStore(cfg)
		if err != nil {
			return fmt.Errorf("synastry: open persistent tier: %w", err)
		}
	}

	cacheOpts := []cache.Option{cache.WithMetrics(s.metrics)}

	if cfg.WatchPersistentDir && cfg.PersistentCacheDir != "" && bo.store == nil {
		w, err := cache.NewWatcher(cfg.PersistentCacheDir, mem, s.log)
		if err != nil {
			// The watcher is an optimization; a host without inotify
			// capacity still gets a correct cache.
			s.log.Warn("cache dir watcher unavailable", "error", err)
		} else {
			s.watcher = w
			cacheOpts = append(cacheOpts, cache.WithWatcher(w))
		}
	}

	s.tiered = cache.New(mem, store, s.log, cacheOpts...)

	if sw, ok := store.(cache.Sweepable); ok {
		s.sweepable = sw
		if cfg.SweepInterval > 0 {
			sweeper, err := cache.NewSweeper(sw, cfg.SweepInterval.Std(), sweepDeletesPerSec, s.log)
			if err != nil {
				return fmt.Errorf("synastry: build sweeper: %w", err)
			}
			s.sweeper = sweeper
			sweeper.Start()
		}
	}
	return nil
}

// openStore opens the configured persistent backend.
func (s *Service) openStore(cfg config.Config) (cache.Store, error) {
	maxAge := cfg.PersistentCacheMaxAge.Std()
	switch cfg.PersistentBackend {
	case config.BackendBadger:
		bcfg := storagebadger.DefaultConfig()
		bcfg.Path = cfg.PersistentCacheDir
		bcfg.Logger = s.log.Slog()
		db, err := storagebadger.OpenDB(bcfg)
		if err != nil {
			return nil, err
		}
		return cache.NewBadgerStore(db, maxAge, s.log)
	default:
		return cache.NewFileStore(cfg.PersistentCacheDir, maxAge, s.log)
	}
}

// Compute runs the single-pair path: cache consult, engine on miss,
// monitor sample either way. Concurrent identical misses are deduped
// by the cache's singleflight group.
func (s *Service) Compute(ctx context.Context, a, b chart.PositionSet) (*chart.AspectMatrix, error) {
	var matrix *chart.AspectMatrix

	err := s.mon.Time("synastry_compute", chart.BodyCount*chart.BodyCount, func(span *perf.Span) error {
		compute := func(ctx context.Context) (*chart.AspectMatrix, error) {
			var engineOpts []engine.Option
			if s.cfg.OrbOverride != nil {
				engineOpts = append(engineOpts, engine.WithOrbOverride(*s.cfg.OrbOverride))
			}
			buf, reused := s.pool.CheckoutReused(chart.BodyCount * chart.BodyCount)
			defer s.pool.Return(buf)
			if reused {
				s.metrics.PoolReuse(ctx)
			}

			started := time.Now()
			m := s.eng.ComputeInto(buf, a, b, engineOpts...)
			s.metrics.ObserveCompute(ctx, time.Since(started).Seconds())
			s.metrics.AspectsComputed(ctx, 1)
			return m, nil
		}

		if s.tiered == nil {
			m, err := compute(ctx)
			matrix = m
			return err
		}

		key := hash.Key(hash.OpSynastryMatrix, a, b, s.cfg.OrbOverride, s.table)
		m, err := s.tiered.GetOrCompute(ctx, key, compute)
		if err != nil {
			return err
		}
		matrix = m
		span.SetMetric("cells", float64(m.CellCount()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matrix, nil
}

// Process runs a batch through the processor. A nil Options.OrbOverride
// inherits the config-level override so single-pair and batch paths
// share cache entries.
func (s *Service) Process(ctx context.Context, pairs []batch.Pair, opts batch.Options) ([]*chart.AspectMatrix, error) {
	if opts.OrbOverride == nil {
		opts.OrbOverride = s.cfg.OrbOverride
	}
	return s.proc.Process(ctx, pairs, opts)
}

// CacheStats reports tiered-cache counters; ok is false when caching
// is disabled.
func (s *Service) CacheStats() (cache.Stats, bool) {
	if s.tiered == nil {
		return cache.Stats{}, false
	}
	return s.tiered.Stats(), true
}

// PoolStats reports buffer-pool counters; ok is false when pooling is
// disabled.
func (s *Service) PoolStats() (pool.Stats, bool) {
	if s.pool == nil {
		return pool.Stats{}, false
	}
	return s.pool.Stats(), true
}

// Monitor exposes the performance monitor for report generation and
// sample export.
func (s *Service) Monitor() *perf.Monitor {
	return s.mon
}

// Reports returns a performance report per tracked operation.
func (s *Service) Reports() []*perf.Report {
	return s.mon.ReportAll()
}

// DetectRegression compares recent samples of the named operation
// against its frozen baseline.
func (s *Service) DetectRegression(name string, factor float64) (*perf.Regression, bool) {
	return s.mon.DetectRegression(name, factor)
}

// SweepNow runs one expiry pass over the persistent tier. It works
// whether or not the background sweeper is enabled.
func (s *Service) SweepNow(ctx context.Context) (cache.SweepResult, error) {
	switch {
	case s.sweeper != nil:
		return s.sweeper.RunOnce(ctx)
	case s.sweepable != nil:
		return s.sweepable.Sweep(ctx, nil)
	default:
		return cache.SweepResult{}, cache.ErrNoPersistentTier
	}
}

// ClearCache empties both cache tiers and resets their counters.
func (s *Service) ClearCache() error {
	if s.tiered == nil {
		return nil
	}
	return s.tiered.Clear()
}

// Close stops background work and releases every owned resource. Safe
// to call more than once; later calls return the first error.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.teardown()
	})
	return s.closeErr
}

func (s *Service) teardown() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.watcher != nil {
		record(s.watcher.Close())
	}
	if s.tiered != nil {
		record(s.tiered.Close())
	}
	if s.log != nil {
		s.log.Info("synastry service closed")
		if s.ownsLog {
			record(s.log.Close())
		}
	}
	return firstErr
}
