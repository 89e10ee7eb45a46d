// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher reloads the config file when it changes on disk and hands the
// freshly validated result to the callback. Invalid intermediate states
// (an editor mid-save) are skipped silently; the previous config stays
// in effect.
type Watcher struct {
	path     string
	onReload func(*Config)
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	pending bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher starts watching the config file's directory. Watching the
// directory instead of the file survives the rename-over-save pattern
// most editors use.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
	}

	go w.processEvents()
	return w, nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// scheduleReload debounces a burst of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	if w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = true
	w.mu.Unlock()

	go func() {
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(ReloadDebounce):
		}

		w.mu.Lock()
		w.pending = false
		w.mu.Unlock()

		cfg, err := LoadFromPath(w.path)
		if err != nil {
			return
		}
		w.onReload(cfg)
	}()
}
