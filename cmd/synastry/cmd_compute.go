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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eclipticlabs/ecliptic/pkg/ux"
	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
	"github.com/eclipticlabs/ecliptic/services/synastry/config"
)

// loadChart reads a {"body": degrees} JSON file into a typed position
// set. Unknown body names are an error, not a silent drop.
func loadChart(path string) (chart.PositionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chart %s: %w", path, err)
	}
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse chart %s: %w", path, err)
	}
	ps, err := chart.ParsePositions(raw)
	if err != nil {
		return nil, fmt.Errorf("chart %s: %w", path, err)
	}
	return ps, nil
}

// runCompute executes the single-pair path and prints the matrix.
func runCompute(cmd *cobra.Command, args []string) error {
	a, err := loadChart(chartAPath)
	if err != nil {
		return err
	}
	b, err := loadChart(chartBPath)
	if err != nil {
		return err
	}

	svc, _, err := buildService(func(cfg *config.Config) {
		if cmd.Flags().Changed("orb") {
			orb := computeOrb
			cfg.OrbOverride = &orb
		}
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	matrix, err := svc.Compute(cmd.Context(), a, b)
	if err != nil {
		return err
	}

	if ux.Plain() {
		return printMatrixJSON(matrix)
	}
	printMatrixTable(matrix)
	return nil
}

func printMatrixJSON(matrix *chart.AspectMatrix) error {
	enc := json.NewEncoder(os.Stdout)
	if prettyJSON {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(matrix)
}

// printMatrixTable lists matched cells as styled rows; the full 12x12
// grid is mostly empty and unreadable in a terminal.
func printMatrixTable(matrix *chart.AspectMatrix) {
	ux.Title("Aspect matrix")
	count := 0
	for _, row := range chart.Bodies() {
		for _, col := range chart.Bodies() {
			cell, ok := matrix.At(row, col)
			if !ok {
				continue
			}
			count++
			fmt.Printf("  %s %s-%s: %s (orb %.2f, %s)\n",
				ux.IconStar.Render(), row, col, cell.Aspect, cell.Orb, cell.Classification)
		}
	}
	if count == 0 {
		ux.Info("no aspects within orb")
		return
	}
	ux.KeyValue("aspects", count)
}
