// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command synastry is the operational CLI for the Ecliptic synastry
// engine: one-shot pair computation, synthetic benchmarks, cache
// maintenance, and performance-sample export.
//
// Usage:
//
//	synastry compute --chart-a alice.json --chart-b bob.json
//	synastry bench --pairs 5000 --chunk-size 250
//	synastry sweep --config ecliptic.yaml
//	synastry report --pairs 200 --format csv --out samples.csv
package main

import (
	"os"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
