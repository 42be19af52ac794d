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
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eclipticlabs/ecliptic/pkg/logging"
	"github.com/eclipticlabs/ecliptic/services/synastry/hash"
)

// watcherDebounce batches filesystem events so a sweep deleting
// thousands of files produces one eviction pass, not thousands.
const watcherDebounce = 100 * time.Millisecond

// Watcher invalidates promoted memory-tier entries when their backing
// files disappear from a shared FileStore directory. Without it, a
// sweep run by another process (or an operator's rm) leaves entries in
// RAM that no longer exist on disk, which matters for deployments that
// treat file deletion as cache invalidation.
//
// Only Remove and Rename events for entry-named files are acted on.
// Eviction needs the original CacheKey, which cannot be recovered from
// the filename digest, so callers register keys with Track as they put
// or promote entries.
type Watcher struct {
	dir string
	mem *Memory
	log *logging.Logger
	fsw *fsnotify.Watcher

	mu    sync.Mutex
	index map[string]hash.CacheKey // entry filename -> key

	removed  chan string
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher starts watching dir. The watcher runs immediately; Close
// releases the underlying filesystem watch.
func NewWatcher(dir string, mem *Memory, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		dir:     dir,
		mem:     mem,
		log:     log,
		fsw:     fsw,
		index:   make(map[string]hash.CacheKey),
		removed: make(chan string, 1024),
		done:    make(chan struct{}),
	}

	w.wg.Add(2)
	go w.processEvents()
	go w.debounceLoop()

	return w, nil
}

// Track registers a key whose entry file now exists, so a later
// removal event can be mapped back to it. Called on every persistent
// put and promotion.
func (w *Watcher) Track(key hash.CacheKey) {
	w.mu.Lock()
	w.index[key.Filename()] = key
	w.mu.Unlock()
}

// Reset drops the filename index. Called after Clear, when every
// tracked file is gone anyway.
func (w *Watcher) Reset() {
	w.mu.Lock()
	w.index = make(map[string]hash.CacheKey)
	w.mu.Unlock()
}

// Close stops both goroutines and releases the filesystem watch.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

// processEvents filters raw fsnotify events down to removals of entry
// files and feeds them to the debouncer. The channel send is
// non-blocking: under event floods eviction is best-effort, and a
// dropped event only costs one stale-but-harmless memory entry.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isEntryFilename(name) {
				continue
			}
			select {
			case w.removed <- name:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("cache directory watch error", "dir", w.dir, "error", err)
		}
	}
}

// debounceLoop batches removal names and evicts once the window
// closes.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	var batch []string
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			w.evict(batch)
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-w.done:
			flush()
			return
		case name := <-w.removed:
			batch = append(batch, name)
			if timer == nil {
				timer = time.NewTimer(watcherDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watcherDebounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// evict maps filenames back to keys and drops them from the memory
// tier. Names without an index entry were never promoted here; nothing
// to do for those.
func (w *Watcher) evict(names []string) {
	keys := make([]hash.CacheKey, 0, len(names))

	w.mu.Lock()
	for _, name := range names {
		if key, ok := w.index[name]; ok {
			keys = append(keys, key)
			delete(w.index, name)
		}
	}
	w.mu.Unlock()

	evicted := 0
	for _, key := range keys {
		if w.mem.Delete(key) {
			evicted++
		}
	}
	if evicted > 0 {
		w.log.Debug("evicted entries after external file removal",
			"dir", w.dir, "count", evicted)
	}
}
