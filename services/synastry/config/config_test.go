// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.True(t, cfg.EnableCaching)
	assert.Equal(t, BackendFile, cfg.PersistentBackend)
	assert.Equal(t, 24*time.Hour, cfg.PersistentCacheMaxAge.Std())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().ChunkSize, cfg.ChunkSize)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecliptic.yaml")
	content := `
chunk_size: 50
memory_cache_max_items: 16
persistent_cache_dir: /tmp/ecliptic-cache
persistent_cache_max_age: 48h
sweep_interval: 30m
orb_override: 6.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.ChunkSize)
	assert.Equal(t, 16, cfg.MemoryCacheMaxItems)
	assert.Equal(t, "/tmp/ecliptic-cache", cfg.PersistentCacheDir)
	assert.Equal(t, 48*time.Hour, cfg.PersistentCacheMaxAge.Std())
	assert.Equal(t, 30*time.Minute, cfg.SweepInterval.Std())
	require.NotNil(t, cfg.OrbOverride)
	assert.Equal(t, 6.5, *cfg.OrbOverride)
	// Unset fields keep defaults.
	assert.True(t, cfg.EnableMemoryPooling)
}

func TestLoad_JSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecliptic.json")
	content := `{"chunk_size": 25, "retention_window": "15m"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.ChunkSize)
	assert.Equal(t, 15*time.Minute, cfg.RetentionWindow.Std())
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: {nope"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecliptic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: 50\n"), 0o600))

	t.Setenv("ECLIPTIC_CHUNK_SIZE", "75")
	t.Setenv("ECLIPTIC_CACHE_MAX_AGE", "90m")
	t.Setenv("ECLIPTIC_ENABLE_POOLING", "false")
	t.Setenv("ECLIPTIC_EXTENDED_ASPECTS", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.ChunkSize)
	assert.Equal(t, 90*time.Minute, cfg.PersistentCacheMaxAge.Std())
	assert.False(t, cfg.EnableMemoryPooling)
	assert.True(t, cfg.ExtendedAspects)
}

func TestValidate_Failures(t *testing.T) {
	orbHigh := 200.0
	orbZero := 0.0

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"tiny byte bound", func(c *Config) { c.MemoryCacheMaxBytes = 100 }},
		{"orb too large", func(c *Config) { c.OrbOverride = &orbHigh }},
		{"orb zero", func(c *Config) { c.OrbOverride = &orbZero }},
		{"unknown backend", func(c *Config) { c.PersistentBackend = "redis" }},
		{"watch with badger", func(c *Config) {
			c.PersistentBackend = BackendBadger
			c.WatchPersistentDir = true
		}},
		{"dir without max age", func(c *Config) {
			c.PersistentCacheDir = "/tmp/x"
			c.PersistentCacheMaxAge = 0
		}},
		{"negative retention", func(c *Config) { c.RetentionWindow = Duration(-time.Minute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_RejectsBareNumbers(t *testing.T) {
	var d Duration
	require.Error(t, yaml.Unmarshal([]byte("3600"), &d), "unitless durations are ambiguous")
	require.NoError(t, yaml.Unmarshal([]byte(`"1h"`), &d))
	assert.Equal(t, time.Hour, d.Std())
}

func TestDuration_RoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, "1m30s\n", string(out))

	var back Duration
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, d, back)
}
