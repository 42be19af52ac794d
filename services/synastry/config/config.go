// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the synastry service configuration.
//
// Resolution order is defaults, then an optional YAML file (JSON
// accepted as a fallback), then ECLIPTIC_* environment variables, then
// validation. Durations are typed: config files and env vars spell
// them as Go duration strings ("24h", "90s"), never as bare numbers
// with an implied unit.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
	"github.com/eclipticlabs/ecliptic/services/synastry/perf"
	"github.com/eclipticlabs/ecliptic/services/synastry/telemetry"
)

// Persistent tier backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Duration wraps time.Duration so YAML and JSON files can write
// "24h"-style strings. Integers are rejected: a bare number carries no
// unit, which is exactly the ambiguity this type exists to remove.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses a duration string scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the canonical duration string.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// UnmarshalJSON parses a quoted duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"24h\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON writes the canonical duration string.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// Config is the full synastry service configuration.
//
// Thread Safety: safe to read concurrently; not safe to modify after
// the service is constructed.
type Config struct {
	// ChunkSize caps pairs per batch chunk.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size" validate:"gte=1,lte=100000"`

	// EnableMemoryPooling reuses scratch buffers across cache misses.
	EnableMemoryPooling bool `json:"enable_memory_pooling" yaml:"enable_memory_pooling"`

	// EnableCaching turns the tiered result cache on.
	EnableCaching bool `json:"enable_caching" yaml:"enable_caching"`

	// MemoryCacheMaxItems bounds the memory tier by entry count.
	MemoryCacheMaxItems int `json:"memory_cache_max_items" yaml:"memory_cache_max_items" validate:"gte=1"`

	// MemoryCacheMaxBytes bounds the memory tier by estimated bytes.
	MemoryCacheMaxBytes int64 `json:"memory_cache_max_bytes" yaml:"memory_cache_max_bytes" validate:"gte=1024"`

	// PersistentCacheDir enables the persistent tier when set. For the
	// file backend it holds one blob per key; for badger it is the DB
	// path. Empty disables the tier.
	PersistentCacheDir string `json:"persistent_cache_dir" yaml:"persistent_cache_dir"`

	// PersistentCacheMaxAge is the TTL for persistent entries.
	PersistentCacheMaxAge Duration `json:"persistent_cache_max_age" yaml:"persistent_cache_max_age"`

	// PersistentBackend selects the persistent tier implementation.
	PersistentBackend string `json:"persistent_backend" yaml:"persistent_backend" validate:"oneof=file badger"`

	// WatchPersistentDir evicts memory-tier entries when their backing
	// file is removed externally. File backend only.
	WatchPersistentDir bool `json:"watch_persistent_dir" yaml:"watch_persistent_dir"`

	// SweepInterval is the cadence of the expired-entry sweeper.
	// Zero disables background sweeping; SweepNow still works.
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// MaxBuffersPerBucket bounds each pool free-list. Zero disables
	// retention (every Return drops the buffer).
	MaxBuffersPerBucket int `json:"max_buffers_per_bucket" yaml:"max_buffers_per_bucket" validate:"gte=0"`

	// OrbOverride, when set, replaces every aspect definition's orb.
	OrbOverride *float64 `json:"orb_override,omitempty" yaml:"orb_override,omitempty"`

	// ExtendedAspects adds the five minor aspects to the table.
	ExtendedAspects bool `json:"extended_aspects" yaml:"extended_aspects"`

	// RetentionWindow bounds how long performance samples are kept.
	RetentionWindow Duration `json:"retention_window" yaml:"retention_window"`

	// Logging configures the structured logger.
	Logging logging.Config `json:"logging" yaml:"logging"`

	// Telemetry configures OTel trace and metric export.
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`

	// Influx optionally mirrors performance samples to InfluxDB.
	Influx perf.InfluxConfig `json:"influx" yaml:"influx"`
}

// validate is the shared validator instance for config structs.
var validate = validator.New()

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		ChunkSize:             500,
		EnableMemoryPooling:   true,
		EnableCaching:         true,
		MemoryCacheMaxItems:   1024,
		MemoryCacheMaxBytes:   64 << 20,
		PersistentCacheMaxAge: Duration(24 * time.Hour),
		PersistentBackend:     BackendFile,
		SweepInterval:         Duration(time.Hour),
		MaxBuffersPerBucket:   8,
		RetentionWindow:       Duration(time.Hour),
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "synastry",
		},
		Telemetry: telemetry.Disabled(),
	}
}

// Load resolves the configuration: defaults, then the file at path
// (when non-empty and existing), then environment, then Validate.
//
// Inputs:
//
//	path - Optional YAML or JSON config file. A missing file is not an
//	       error; a malformed one is.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file is malformed or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// YAML first, JSON fallback.
	if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", yamlErr, jsonErr)
		}
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("ECLIPTIC_CHUNK_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = i
		}
	}
	if v := os.Getenv("ECLIPTIC_ENABLE_POOLING"); v != "" {
		cfg.EnableMemoryPooling = v == "true" || v == "1"
	}
	if v := os.Getenv("ECLIPTIC_ENABLE_CACHING"); v != "" {
		cfg.EnableCaching = v == "true" || v == "1"
	}
	if v := os.Getenv("ECLIPTIC_CACHE_MAX_ITEMS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.MemoryCacheMaxItems = i
		}
	}
	if v := os.Getenv("ECLIPTIC_CACHE_MAX_BYTES"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MemoryCacheMaxBytes = i
		}
	}
	if v := os.Getenv("ECLIPTIC_CACHE_DIR"); v != "" {
		cfg.PersistentCacheDir = v
	}
	if v := os.Getenv("ECLIPTIC_CACHE_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PersistentCacheMaxAge = Duration(d)
		}
	}
	if v := os.Getenv("ECLIPTIC_CACHE_BACKEND"); v != "" {
		cfg.PersistentBackend = v
	}
	if v := os.Getenv("ECLIPTIC_WATCH_CACHE_DIR"); v != "" {
		cfg.WatchPersistentDir = v == "true" || v == "1"
	}
	if v := os.Getenv("ECLIPTIC_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = Duration(d)
		}
	}
	if v := os.Getenv("ECLIPTIC_MAX_BUFFERS_PER_BUCKET"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.MaxBuffersPerBucket = i
		}
	}
	if v := os.Getenv("ECLIPTIC_ORB_OVERRIDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OrbOverride = &f
		}
	}
	if v := os.Getenv("ECLIPTIC_EXTENDED_ASPECTS"); v != "" {
		cfg.ExtendedAspects = v == "true" || v == "1"
	}
	if v := os.Getenv("ECLIPTIC_RETENTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetentionWindow = Duration(d)
		}
	}
	if v := os.Getenv("ECLIPTIC_LOG_LEVEL"); v != "" {
		if lvl, err := logging.ParseLevel(v); err == nil {
			cfg.Logging.Level = lvl
		}
	}
	if v := os.Getenv("ECLIPTIC_LOG_DIR"); v != "" {
		cfg.Logging.LogDir = v
	}
}

// Validate checks the configuration. Struct tags cover the numeric
// ranges; hand checks cover the cross-field rules tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.OrbOverride != nil {
		if o := *c.OrbOverride; o <= 0 || o >= 180 {
			return fmt.Errorf("orb_override must be in (0,180), got %v", o)
		}
	}
	if c.PersistentCacheDir != "" && c.PersistentCacheMaxAge <= 0 {
		return fmt.Errorf("persistent_cache_max_age must be > 0 when persistent_cache_dir is set")
	}
	if c.WatchPersistentDir && c.PersistentBackend != BackendFile {
		return fmt.Errorf("watch_persistent_dir requires the file backend, got %q", c.PersistentBackend)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must be >= 0, got %v", c.SweepInterval)
	}
	if c.RetentionWindow <= 0 {
		return fmt.Errorf("retention_window must be > 0, got %v", c.RetentionWindow)
	}
	return nil
}
