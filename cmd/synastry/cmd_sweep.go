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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eclipticlabs/ecliptic/pkg/ux"
	"github.com/eclipticlabs/ecliptic/services/synastry/cache"
)

// runSweep runs one expiry pass over the configured persistent tier.
func runSweep(cmd *cobra.Command, args []string) error {
	svc, cfg, err := buildService()
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.SweepNow(cmd.Context())
	if errors.Is(err, cache.ErrNoPersistentTier) {
		return fmt.Errorf("no persistent cache tier configured; set persistent_cache_dir (config) or ECLIPTIC_CACHE_DIR")
	}
	if err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("sweep of %s complete", cfg.PersistentCacheDir))
	ux.KeyValue("scanned", res.Scanned)
	ux.KeyValue("removed", res.Removed)
	ux.KeyValue("errors", res.Errors)
	return nil
}
