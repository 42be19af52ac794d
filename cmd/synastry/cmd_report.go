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
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/eclipticlabs/ecliptic/pkg/ux"
	"github.com/eclipticlabs/ecliptic/services/synastry/batch"
	"github.com/eclipticlabs/ecliptic/services/synastry/perf"
)

// reportSeed keeps report workloads comparable across runs and hosts.
const reportSeed = 42

// collectSamples flattens every operation's samples, oldest first
// within each operation, operations in name order.
func collectSamples(mon *perf.Monitor) []perf.Sample {
	ops := mon.Operations()
	sort.Strings(ops)

	var samples []perf.Sample
	for _, op := range ops {
		samples = append(samples, mon.Samples(op)...)
	}
	return samples
}

// newExporter selects the exporter for format writing to w.
func newExporter(format string, w io.Writer) (perf.Exporter, error) {
	switch format {
	case "json":
		return &perf.JSONExporter{W: w, Pretty: true}, nil
	case "csv":
		return &perf.CSVExporter{W: w}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want json or csv)", format)
	}
}

// runReport runs a deterministic workload and exports its samples.
func runReport(cmd *cobra.Command, args []string) error {
	if reportPairs < 1 {
		return fmt.Errorf("--pairs must be >= 1, got %d", reportPairs)
	}

	svc, cfg, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	pairs := syntheticPairs(reportPairs, reportSeed)
	if _, err := svc.Process(cmd.Context(), pairs, batch.Options{}); err != nil {
		return err
	}

	samples := collectSamples(svc.Monitor())

	out := io.Writer(os.Stdout)
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", reportOut, err)
		}
		defer f.Close()
		out = f
	}

	exporter, err := newExporter(reportFormat, out)
	if err != nil {
		return err
	}
	if err := exporter.Export(cmd.Context(), samples); err != nil {
		return err
	}

	if cfg.Influx.Enabled() {
		influx, err := perf.NewInfluxExporter(cfg.Influx)
		if err != nil {
			return err
		}
		if err := influx.Export(cmd.Context(), samples); err != nil {
			// Best effort: the local export already succeeded.
			ux.Warning(fmt.Sprintf("influx export failed: %v", err))
		} else {
			ux.Success(fmt.Sprintf("pushed %d samples to %s", len(samples), cfg.Influx.URL))
		}
	}

	if reportOut != "" {
		ux.Success(fmt.Sprintf("wrote %d samples to %s", len(samples), reportOut))
	}
	return nil
}
