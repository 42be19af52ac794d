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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
)

// FileStore persists one JSON blob per cache key as a flat file under
// dir. Staleness is judged by file mtime against maxAge at read time;
// a stale file reports absent but stays on disk until a sweep removes
// it, so a sweep can run on a different schedule (or a different
// process) without changing read semantics.
//
// Writes are atomic: blob goes to a temp file in the same directory,
// then renames over the final name. Readers never observe a partial
// entry.
type FileStore struct {
	dir    string
	maxAge time.Duration
	log    *logging.Logger
	closed atomic.Bool
}

// NewFileStore creates the directory (0750) if needed and returns a
// store over it. maxAge <= 0 disables staleness: entries live until
// deleted.
func NewFileStore(dir string, maxAge time.Duration, log *logging.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("cache: file store directory is empty")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &FileStore{dir: dir, maxAge: maxAge, log: log}, nil
}

// Dir returns the directory the store persists into.
func (s *FileStore) Dir() string {
	return s.dir
}

// MaxAge returns the staleness horizon (0 = entries never expire).
func (s *FileStore) MaxAge() time.Duration {
	return s.maxAge
}

func (s *FileStore) path(key hash.CacheKey) string {
	return filepath.Join(s.dir, key.Filename())
}

// Get reads the blob for key. Missing, stale, or unreadable files all
// report absent; only unexpected failures are logged.
func (s *FileStore) Get(key hash.CacheKey) ([]byte, bool) {
	if s.closed.Load() {
		return nil, false
	}

	path := s.path(key)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("cache file stat failed", "path", path, "error", err)
		}
		return nil, false
	}

	if s.maxAge > 0 && time.Since(info.ModTime()) > s.maxAge {
		// Stale: report absent but leave the file for the sweeper.
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("cache file read failed", "path", path, "error", err)
		return nil, false
	}
	return data, true
}

// Put writes the blob atomically under key's filename.
func (s *FileStore) Put(key hash.CacheKey, blob []byte) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish cache file: %w", err)
	}
	return nil
}

// Delete removes the entry for key. Absent entries are not an error.
func (s *FileStore) Delete(key hash.CacheKey) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache file: %w", err)
	}
	return nil
}

// Clear removes every entry file. Foreign files in the directory are
// left alone.
func (s *FileStore) Clear() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	names, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read cache directory: %w", err)
	}

	var firstErr error
	for _, entry := range names {
		if entry.IsDir() || !isEntryFilename(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len counts live (non-stale) entry files.
func (s *FileStore) Len() (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	names, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	count := 0
	now := time.Now()
	for _, entry := range names {
		if entry.IsDir() || !isEntryFilename(entry.Name()) {
			continue
		}
		if s.maxAge > 0 {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) > s.maxAge {
				continue
			}
		}
		count++
	}
	return count, nil
}

// Close marks the store closed. There are no open handles to release;
// subsequent writes fail with ErrStoreClosed.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

// Sweep removes expired entry files, waiting on the limiter (when
// non-nil) before each deletion. Files younger than maxAge, foreign
// files, and directories are untouched. A maxAge of 0 makes the sweep
// a no-op scan.
func (s *FileStore) Sweep(ctx context.Context, limit *rate.Limiter) (SweepResult, error) {
	var res SweepResult

	if s.closed.Load() {
		return res, ErrStoreClosed
	}

	names, err := os.ReadDir(s.dir)
	if err != nil {
		return res, fmt.Errorf("read cache directory: %w", err)
	}

	now := time.Now()
	for _, entry := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if entry.IsDir() || !isEntryFilename(entry.Name()) {
			continue
		}
		res.Scanned++

		if s.maxAge <= 0 {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			res.Errors++
			continue
		}
		if now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}

		if limit != nil {
			if err := limit.Wait(ctx); err != nil {
				return res, err
			}
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // removed underneath us, fine
			}
			s.log.Warn("cache sweep delete failed", "path", path, "error", err)
			res.Errors++
			continue
		}
		res.Removed++
	}
	return res, nil
}

// isEntryFilename reports whether name matches the cache entry naming
// scheme (32 hex chars + ".json"). Keeps sweeps and the directory
// watcher from touching foreign files.
func isEntryFilename(name string) bool {
	const suffix = ".json"
	if len(name) != 32+len(suffix) || !strings.HasSuffix(name, suffix) {
		return false
	}
	for _, c := range name[:32] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
