// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package perf measures operation latency and memory cost, keeps a
// rolling sample window per operation, and flags regressions against a
// frozen baseline.
//
// The monitor is deliberately self-contained: no background goroutines,
// no external stores. Samples older than the retention window are
// purged lazily whenever a new sample lands, and exporters (export.go)
// ship snapshots wherever they need to go.
package perf

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
)

var (
	// ErrUnknownOperation indicates no samples exist for the requested
	// operation name.
	ErrUnknownOperation = errors.New("perf: unknown operation")
)

const (
	// DefaultRetention is how long samples are kept when WithRetention
	// is not given.
	DefaultRetention = time.Hour

	// baselineWindow is how many successful samples feed the baseline
	// before it freezes.
	baselineWindow = 5

	// recentWindow is how many trailing successful samples regression
	// detection averages over.
	recentWindow = 10

	// trendWindow is how many trailing samples the trend verdict sees.
	trendWindow = 20

	// trendBand is the relative half-width around "no change" that
	// still counts as stable.
	trendBand = 0.10
)

// Sample is one recorded measurement. Immutable once recorded.
type Sample struct {
	Operation    string             `json:"operation"`
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
	MemoryDelta  int64              `json:"memory_delta"`
	Calculations int                `json:"calculations"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Success      bool               `json:"success"`
	Error        string             `json:"error,omitempty"`
}

// Regression is a structured verdict from DetectRegression.
type Regression struct {
	// Operation is the offending operation name.
	Operation string `json:"operation"`

	// Metric names what regressed: "duration" or "memory".
	Metric string `json:"metric"`

	// Baseline is the frozen baseline mean (nanoseconds for duration,
	// bytes for memory).
	Baseline float64 `json:"baseline"`

	// Recent is the trailing-window mean in the same unit.
	Recent float64 `json:"recent"`

	// Factor is the threshold multiplier that was exceeded.
	Factor float64 `json:"factor"`
}

// Report summarizes one operation's recorded samples.
type Report struct {
	Operation   string        `json:"operation"`
	Count       int           `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`

	// Trend is "improving", "stable", or "degrading", comparing mean
	// duration of the first versus second half of the most recent
	// trendWindow samples.
	Trend string `json:"trend"`
}

// baseline accumulates the first baselineWindow successful samples via
// incremental weighted averaging, then freezes.
type baseline struct {
	durationNs float64
	memBytes   float64
	count      int
}

func (b *baseline) frozen() bool {
	return b.count >= baselineWindow
}

func (b *baseline) add(s Sample) {
	if b.frozen() {
		return
	}
	b.count++
	n := float64(b.count)
	b.durationNs += (float64(s.Duration) - b.durationNs) / n
	b.memBytes += (math.Abs(float64(s.MemoryDelta)) - b.memBytes) / n
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRetention sets how long samples are kept. d <= 0 keeps the
// default.
func WithRetention(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock injects the time source. Tests use this to make durations
// and retention deterministic.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor records operation samples and answers report and regression
// queries over them.
//
// Thread Safety: safe for concurrent use.
type Monitor struct {
	retention time.Duration
	log       *logging.Logger
	now       func() time.Time

	mu        sync.Mutex
	samples   map[string][]Sample
	baselines map[string]*baseline
}

// NewMonitor builds a monitor with the given options.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		retention: DefaultRetention,
		log:       logging.Nop(),
		now:       time.Now,
		samples:   make(map[string][]Sample),
		baselines: make(map[string]*baseline),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Span is one in-flight measurement. Obtain via Track, finish with End.
// Not safe for concurrent use; a span belongs to one goroutine.
type Span struct {
	monitor      *Monitor
	operation    string
	startedAt    time.Time
	heapBefore   uint64
	calculations int
	metrics      map[string]float64
	ended        bool
}

// Track starts measuring one operation run. calcs records how many
// elementary calculations the run performs (pair comparisons for the
// engine, pairs for a batch), so throughput can be derived later.
func (m *Monitor) Track(name string, calcs int) *Span {
	return &Span{
		monitor:      m,
		operation:    name,
		startedAt:    m.now(),
		heapBefore:   heapAlloc(),
		calculations: calcs,
	}
}

// SetMetric attaches a free-form metric to the sample. No-op after End.
func (s *Span) SetMetric(key string, value float64) {
	if s.ended {
		return
	}
	if s.metrics == nil {
		s.metrics = make(map[string]float64)
	}
	s.metrics[key] = value
}

// End records the sample. err == nil marks success. Calling End more
// than once records nothing the second time.
func (s *Span) End(err error) {
	if s.ended {
		return
	}
	s.ended = true

	sample := Sample{
		Operation:    s.operation,
		StartedAt:    s.startedAt,
		Duration:     s.monitor.now().Sub(s.startedAt),
		MemoryDelta:  int64(heapAlloc()) - int64(s.heapBefore),
		Calculations: s.calculations,
		Metrics:      s.metrics,
		Success:      err == nil,
	}
	if err != nil {
		sample.Error = err.Error()
	}
	s.monitor.record(sample)
}

// Time runs fn under a span and guarantees End on every path, panics
// included (the panic is recorded as a failed sample, then re-raised).
func (m *Monitor) Time(name string, calcs int, fn func(*Span) error) (err error) {
	span := m.Track(name, calcs)
	defer func() {
		if r := recover(); r != nil {
			span.End(fmt.Errorf("recovered: %v", r))
			panic(r)
		}
		span.End(err)
	}()
	return fn(span)
}

// record appends the sample, purges anything past retention, and feeds
// the baseline while it is still accumulating.
func (m *Monitor) record(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.retention)
	kept := m.samples[s.Operation][:0]
	for _, old := range m.samples[s.Operation] {
		if old.StartedAt.After(cutoff) {
			kept = append(kept, old)
		}
	}
	m.samples[s.Operation] = append(kept, s)

	if s.Success {
		b := m.baselines[s.Operation]
		if b == nil {
			b = &baseline{}
			m.baselines[s.Operation] = b
		}
		b.add(s)
	}

	m.log.Debug("performance sample recorded",
		"operation", s.Operation,
		"duration", s.Duration.String(),
		"memory_delta", s.MemoryDelta,
		"success", s.Success)
}

// DetectRegression compares the trailing successful samples of name
// against its frozen baseline. Either mean duration or mean absolute
// memory delta exceeding baseline*factor trips the verdict; duration is
// checked first. Detection stays off (ok=false) until the baseline has
// frozen, so early noisy runs cannot judge themselves.
func (m *Monitor) DetectRegression(name string, factor float64) (*Regression, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.baselines[name]
	if b == nil || !b.frozen() || factor <= 0 {
		return nil, false
	}

	var durSum, memSum float64
	n := 0
	all := m.samples[name]
	for i := len(all) - 1; i >= 0 && n < recentWindow; i-- {
		if !all[i].Success {
			continue
		}
		durSum += float64(all[i].Duration)
		memSum += math.Abs(float64(all[i].MemoryDelta))
		n++
	}
	if n == 0 {
		return nil, false
	}

	recentDur := durSum / float64(n)
	recentMem := memSum / float64(n)

	if b.durationNs > 0 && recentDur > b.durationNs*factor {
		return &Regression{
			Operation: name,
			Metric:    "duration",
			Baseline:  b.durationNs,
			Recent:    recentDur,
			Factor:    factor,
		}, true
	}
	if b.memBytes > 0 && recentMem > b.memBytes*factor {
		return &Regression{
			Operation: name,
			Metric:    "memory",
			Baseline:  b.memBytes,
			Recent:    recentMem,
			Factor:    factor,
		}, true
	}
	return nil, false
}

// Report summarizes one operation. ErrUnknownOperation when nothing was
// recorded under name (or everything aged out).
func (m *Monitor) Report(name string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.samples[name]
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return buildReport(name, samples), nil
}

// ReportAll returns a report per known operation, sorted by name.
func (m *Monitor) ReportAll() []*Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.samples))
	for name, samples := range m.samples {
		if len(samples) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	reports := make([]*Report, 0, len(names))
	for _, name := range names {
		reports = append(reports, buildReport(name, m.samples[name]))
	}
	return reports
}

// Samples returns a snapshot copy of the operation's samples, oldest
// first. Exporters consume this.
func (m *Monitor) Samples(name string) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Sample, len(m.samples[name]))
	copy(out, m.samples[name])
	return out
}

// Operations returns the known operation names, sorted.
func (m *Monitor) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.samples))
	for name, samples := range m.samples {
		if len(samples) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func buildReport(name string, samples []Sample) *Report {
	durations := make([]time.Duration, 0, len(samples))
	succeeded := 0
	for _, s := range samples {
		durations = append(durations, s.Duration)
		if s.Success {
			succeeded++
		}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Report{
		Operation:   name,
		Count:       len(samples),
		SuccessRate: float64(succeeded) / float64(len(samples)),
		P50:         percentile(sorted, 0.50),
		P95:         percentile(sorted, 0.95),
		P99:         percentile(sorted, 0.99),
		Trend:       trend(durations),
	}
}

// percentile interpolates linearly over sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}

	fraction := index - float64(lower)
	return time.Duration(float64(sorted[lower])*(1-fraction) + float64(sorted[upper])*fraction)
}

// trend compares mean duration across the halves of the most recent
// trendWindow samples. Inside the +-trendBand band the verdict is
// "stable"; above it "degrading"; below it "improving".
func trend(durations []time.Duration) string {
	if len(durations) < 2 {
		return "stable"
	}

	window := durations
	if len(window) > trendWindow {
		window = window[len(window)-trendWindow:]
	}

	half := len(window) / 2
	first := mean(window[:half])
	second := mean(window[half:])
	if first == 0 {
		return "stable"
	}

	switch change := (second - first) / first; {
	case change > trendBand:
		return "degrading"
	case change < -trendBand:
		return "improving"
	default:
		return "stable"
	}
}

func mean(durations []time.Duration) float64 {
	if len(durations) == 0 {
		return 0
	}
	var sum float64
	for _, d := range durations {
		sum += float64(d)
	}
	return sum / float64(len(durations))
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
