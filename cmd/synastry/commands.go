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
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/eclipticlabs/ecliptic/pkg/ux"
	"github.com/eclipticlabs/ecliptic/services/synastry"
	"github.com/eclipticlabs/ecliptic/services/synastry/config"
)

// --- Global flags ---
var (
	configPath string
	plainMode  bool

	// compute flags
	chartAPath string
	chartBPath string
	computeOrb float64
	prettyJSON bool

	// bench flags
	benchPairs     int
	benchChunkSize int
	benchSeed      int64
	benchForceGC   bool

	// report flags
	reportPairs  int
	reportFormat string
	reportOut    string

	rootCmd = &cobra.Command{
		Use:   "synastry",
		Short: "Operate the Ecliptic synastry aspect engine",
		Long: `Synastry computes angular relationships between two charts'
celestial-body positions, with a tiered result cache, a bounded
buffer pool, and built-in performance regression tracking.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ux.SetPlain(plainMode || !isatty.IsTerminal(os.Stdout.Fd()))
		},
	}

	computeCmd = &cobra.Command{
		Use:   "compute",
		Short: "Compute the aspect matrix for one chart pair",
		RunE:  runCompute, // Defined in cmd_compute.go
	}

	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic batch and print cache, pool, and timing stats",
		RunE:  runBench, // Defined in cmd_bench.go
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale entries from the persistent cache tier",
		RunE:  runSweep, // Defined in cmd_sweep.go
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Run a workload and export its performance samples",
		Long: `Report runs a deterministic synthetic workload through the engine and
dumps the recorded performance samples as JSON or CSV, one record per
operation invocation. Intended for CI capture and offline regression
comparison.`,
		RunE: runReport, // Defined in cmd_report.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the synastry CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("synastry %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().BoolVar(&plainMode, "plain", false, "Disable styled output")

	computeCmd.Flags().StringVar(&chartAPath, "chart-a", "", "JSON file with chart A positions ({\"sun\": 12.5, ...})")
	computeCmd.Flags().StringVar(&chartBPath, "chart-b", "", "JSON file with chart B positions")
	computeCmd.Flags().Float64Var(&computeOrb, "orb", 0, "Orb override in degrees (0 uses the table orbs)")
	computeCmd.Flags().BoolVar(&prettyJSON, "pretty", false, "Indent the matrix JSON output")
	_ = computeCmd.MarkFlagRequired("chart-a")
	_ = computeCmd.MarkFlagRequired("chart-b")

	benchCmd.Flags().IntVar(&benchPairs, "pairs", 1000, "Number of synthetic chart pairs")
	benchCmd.Flags().IntVar(&benchChunkSize, "chunk-size", 0, "Pairs per chunk (0 uses the configured default)")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "RNG seed for the synthetic charts")
	benchCmd.Flags().BoolVar(&benchForceGC, "force-gc", false, "Run the garbage collector after every chunk")

	reportCmd.Flags().IntVar(&reportPairs, "pairs", 200, "Synthetic pairs to run before exporting")
	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "Export format: json or csv")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "Output file (default stdout)")

	rootCmd.AddCommand(computeCmd, benchCmd, sweepCmd, reportCmd, versionCmd)
}

// buildService loads the configuration, applies any command-level
// mutations, and assembles a service. The caller owns the returned
// service and must Close it.
func buildService(mutate ...func(*config.Config)) (*synastry.Service, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, err
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	// CLI invocations log to stderr only when asked; styled output is
	// the primary surface.
	cfg.Logging.Quiet = os.Getenv("ECLIPTIC_LOG_LEVEL") == ""

	svc, err := synastry.New(cfg)
	if err != nil {
		return nil, cfg, err
	}
	return svc, cfg, nil
}
