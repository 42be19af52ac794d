// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
)

var (
	// sweepRemovedTotal counts expired entries deleted by sweeps
	sweepRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synastry_cache_sweep_files_removed_total",
		Help: "Total expired cache entries removed by sweeps",
	})

	// sweepErrorsTotal counts entries a sweep failed to process
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synastry_cache_sweep_errors_total",
		Help: "Total cache sweep entry failures",
	})

	// sweepDuration tracks wall time per sweep pass
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "synastry_cache_sweep_duration_seconds",
		Help:    "Cache sweep duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
	})
)

// Sweeper periodically expires the persistent tier. The work itself
// lives in the store's Sweep method; the sweeper owns the schedule,
// the deletion throttle, and the metrics.
type Sweeper struct {
	store    Sweepable
	interval time.Duration
	limit    *rate.Limiter
	log      *logging.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper over store. deletesPerSec > 0 throttles
// deletions to that rate; <= 0 leaves them unthrottled.
//
// Call Start to begin the periodic loop and Stop to halt it; RunOnce
// works without Start for one-shot maintenance.
func NewSweeper(store Sweepable, interval time.Duration, deletesPerSec float64, log *logging.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("cache: sweeper store is nil")
	}
	if interval <= 0 {
		return nil, errors.New("cache: sweep interval must be positive")
	}
	if log == nil {
		log = logging.Nop()
	}

	var limit *rate.Limiter
	if deletesPerSec > 0 {
		burst := int(deletesPerSec)
		if burst < 1 {
			burst = 1
		}
		limit = rate.NewLimiter(rate.Limit(deletesPerSec), burst)
	}

	return &Sweeper{
		store:    store,
		interval: interval,
		limit:    limit,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the periodic sweep goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
// Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

// RunOnce performs a single sweep pass, recording metrics and logging
// the outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	res, err := s.store.Sweep(ctx, s.limit)
	elapsed := time.Since(start)

	sweepDuration.Observe(elapsed.Seconds())
	sweepRemovedTotal.Add(float64(res.Removed))
	sweepErrorsTotal.Add(float64(res.Errors))

	if err != nil {
		sweepErrorsTotal.Inc()
		s.log.Warn("cache sweep failed",
			"error", err,
			"scanned", res.Scanned,
			"removed", res.Removed,
			"duration", elapsed.String())
		return res, err
	}

	s.log.Debug("cache sweep completed",
		"scanned", res.Scanned,
		"removed", res.Removed,
		"errors", res.Errors,
		"duration", elapsed.String())
	return res, nil
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_, _ = s.RunOnce(context.Background())
		}
	}
}
