// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perf

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Exporter ships a snapshot of samples somewhere. Implementations must
// tolerate empty slices.
type Exporter interface {
	Export(ctx context.Context, samples []Sample) error
}

// exportRecord is the flattened wire form shared by the JSON and CSV
// exporters. Kept separate from Sample so the disk format can stay
// stable if Sample grows fields.
type exportRecord struct {
	Timestamp        string             `json:"timestamp"`
	Operation        string             `json:"operation"`
	DurationMs       float64            `json:"duration_ms"`
	MemoryDeltaBytes int64              `json:"memory_delta_bytes"`
	Calculations     int                `json:"calculations"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	Success          bool               `json:"success"`
	Error            string             `json:"error,omitempty"`
}

func toRecord(s Sample) exportRecord {
	return exportRecord{
		Timestamp:        s.StartedAt.UTC().Format(time.RFC3339Nano),
		Operation:        s.Operation,
		DurationMs:       float64(s.Duration) / float64(time.Millisecond),
		MemoryDeltaBytes: s.MemoryDelta,
		Calculations:     s.Calculations,
		Metrics:          s.Metrics,
		Success:          s.Success,
		Error:            s.Error,
	}
}

// JSONExporter writes one JSON array per Export call.
type JSONExporter struct {
	W      io.Writer
	Pretty bool
}

// Export encodes the samples. A nil writer is an error.
func (e *JSONExporter) Export(_ context.Context, samples []Sample) error {
	if e.W == nil {
		return errors.New("perf: json exporter writer is nil")
	}

	records := make([]exportRecord, 0, len(samples))
	for _, s := range samples {
		records = append(records, toRecord(s))
	}

	var (
		data []byte
		err  error
	)
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}
	data = append(data, '\n')

	if _, err := e.W.Write(data); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return nil
}

// CSVExporter writes a header plus one row per sample.
type CSVExporter struct {
	W io.Writer
}

var csvHeader = []string{
	"timestamp", "operation", "duration_ms", "memory_delta_bytes",
	"calculations", "success", "error",
}

// Export writes the samples as CSV. A nil writer is an error.
func (e *CSVExporter) Export(_ context.Context, samples []Sample) error {
	if e.W == nil {
		return errors.New("perf: csv exporter writer is nil")
	}

	w := csv.NewWriter(e.W)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range samples {
		r := toRecord(s)
		row := []string{
			r.Timestamp,
			r.Operation,
			strconv.FormatFloat(r.DurationMs, 'f', -1, 64),
			strconv.FormatInt(r.MemoryDeltaBytes, 10),
			strconv.Itoa(r.Calculations),
			strconv.FormatBool(r.Success),
			r.Error,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// InfluxConfig carries InfluxDB connection settings. The token is only
// held here transiently; NewInfluxExporter seals it into an enclave.
type InfluxConfig struct {
	URL    string `json:"url" yaml:"url"`
	Token  string `json:"token" yaml:"token"`
	Org    string `json:"org" yaml:"org"`
	Bucket string `json:"bucket" yaml:"bucket"`
}

// Enabled reports whether the config points at a reachable instance.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Token != ""
}

// InfluxExporter writes one point per sample to InfluxDB, measurement
// "synastry_perf". The auth token lives in a memguard enclave and is
// only opened for the lifetime of one Export call's client.
type InfluxExporter struct {
	url    string
	org    string
	bucket string
	token  *memguard.Enclave
}

// NewInfluxExporter validates cfg and seals the token.
func NewInfluxExporter(cfg InfluxConfig) (*InfluxExporter, error) {
	if cfg.URL == "" {
		return nil, errors.New("perf: influx url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("perf: influx token is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("perf: influx org and bucket are required")
	}

	return &InfluxExporter{
		url:    cfg.URL,
		org:    cfg.Org,
		bucket: cfg.Bucket,
		token:  memguard.NewEnclave([]byte(cfg.Token)),
	}, nil
}

// Export writes the samples. The client is constructed per call so the
// opened token buffer stays alive only as long as the write does.
func (e *InfluxExporter) Export(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	// The token buffer must outlive the client: the client holds the
	// string view into locked memory, not a copy.
	buf, err := e.token.Open()
	if err != nil {
		return fmt.Errorf("open influx token enclave: %w", err)
	}
	defer buf.Destroy()

	client := influxdb2.NewClient(e.url, buf.String())
	defer client.Close()

	points := make([]*write.Point, 0, len(samples))
	for _, s := range samples {
		p := influxdb2.NewPoint(
			"synastry_perf",
			map[string]string{
				"operation": s.Operation,
				"success":   strconv.FormatBool(s.Success),
			},
			map[string]interface{}{
				"duration_ms":        float64(s.Duration) / float64(time.Millisecond),
				"memory_delta_bytes": s.MemoryDelta,
				"calculations":       s.Calculations,
			},
			s.StartedAt,
		)
		points = append(points, p)
	}

	writeAPI := client.WriteAPIBlocking(e.org, e.bucket)
	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write influx points: %w", err)
	}
	return nil
}
