// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when WatcherOptions.Debounce is
// not positive.
const DefaultDebounce = 250 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long the tree must be quiet before a batch of changes
	// is reindexed.
	Debounce time.Duration

	// BufferSize is the capacity of the change channel. Default: 1000.
	BufferSize int

	// OnBatch, if set, is called after each batch with the paths handled
	// and the stats of every run. Called from the debounce goroutine.
	OnBatch func(paths []string, runs []RunStats)
}

// Watcher reindexes units as they change on disk.
//
// # Description
//
// Watches every directory under the indexer's root (minus excluded ones)
// and collects changed paths. When Debounce passes with no new change, the
// distinct paths are handed to Indexer.Reindex one by one. Editors that
// save through a temporary file produce a burst of events; the debounce
// turns that into one reindex per file.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use. Reindexing happens on a
// single goroutine.
type Watcher struct {
	ix       *Indexer
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onBatch  func([]string, []RunStats)
	logger   *slog.Logger

	changes  chan string
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a Watcher for ix. Call Start to begin watching.
func NewWatcher(ix *Indexer, opts WatcherOptions) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	return &Watcher{
		ix:       ix,
		watcher:  fw,
		debounce: opts.Debounce,
		onBatch:  opts.OnBatch,
		logger:   ix.logger.With(slog.String("component", "watcher")),
		changes:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start registers the directory tree and starts the event and debounce
// goroutines. Both exit when Stop is called or ctx is canceled.
//
// Calling Start on a running Watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.ix.root); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("watching workspace",
		slog.String("root", w.ix.root),
		slog.Duration("debounce", w.debounce))
	return nil
}

// Stop stops watching and waits for a reindex in progress to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		started := w.watching
		w.watching = false
		w.mu.Unlock()

		if started {
			<-w.stopped
		}
	})
}

// Done is closed when the debounce goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.stopped
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ix.excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// relevant reports whether a path event can affect the index. Directories
// and paths that no longer exist are relevant because they may hold units.
func (w *Watcher) relevant(path string) bool {
	unit, err := w.ix.unitFor(path)
	if err != nil {
		return false
	}
	if w.ix.isSource(unit) {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist) && filepath.Ext(path) == ""
	}
	return info.IsDir() && !w.ix.excluded(filepath.Base(path))
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.ix.excluded(info.Name()) {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("cannot watch new directory",
							slog.String("path", event.Name),
							slog.String("error", err.Error()))
					}
				}
			}
			if !w.relevant(event.Name) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				w.logger.Warn("change buffer full, dropping event", slog.String("path", event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer close(w.stopped)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		w.reindex(ctx, paths)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

func (w *Watcher) reindex(ctx context.Context, paths []string) {
	runs := make([]RunStats, 0, len(paths))
	for _, path := range paths {
		stats, err := w.ix.Reindex(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNotSource) {
				w.logger.Warn("reindex failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
			continue
		}
		runs = append(runs, stats)
	}
	if w.onBatch != nil {
		w.onBatch(paths, runs)
	}
}
