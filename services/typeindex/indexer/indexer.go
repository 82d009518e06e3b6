// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer keeps an alias index in step with a source tree.
//
// # Description
//
// The Indexer walks a workspace root, parses every source unit, and writes
// each unit's contribution to an index.AliasIndex. Parsing and building run
// concurrently with a bounded number of workers; all writes go through one
// writer goroutine. Units whose content hash did not change since the last
// run are skipped. The Watcher drives incremental runs from file system
// events.
//
// # Thread Safety
//
// Indexer is safe for concurrent use. Runs are serialized; Scope may be
// called at any time.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/aliasindex/services/typeindex/ast"
	"github.com/AleutianAI/aliasindex/services/typeindex/index"
)

var (
	// ErrOutsideRoot is returned for paths that do not resolve under the
	// workspace root.
	ErrOutsideRoot = errors.New("path is outside the workspace root")

	// ErrNotSource is returned when reindexing a file the indexer does not
	// treat as a source unit.
	ErrNotSource = errors.New("not a source unit")
)

// DefaultConcurrency is the worker count used when Config.Concurrency is
// not positive.
const DefaultConcurrency = 4

// UnitParser extracts the alias declarations of one unit.
//
// ast.RustParser implements UnitParser.
type UnitParser interface {
	Parse(ctx context.Context, content []byte, unit string) (*ast.ParseResult, error)
}

// Config configures an Indexer.
type Config struct {
	// Root is the workspace root. Units are slash paths relative to it.
	Root string

	// Extensions are the file extensions treated as units, e.g. ".rs".
	Extensions []string

	// ExcludeDirs are directory names skipped wherever they appear.
	ExcludeDirs []string

	// Concurrency bounds the parse and build workers.
	Concurrency int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RunStats summarizes one indexing run.
type RunStats struct {
	RunID       string        `json:"run_id"`
	Trigger     string        `json:"trigger"`
	Indexed     int           `json:"indexed"`
	Unchanged   int           `json:"unchanged"`
	Removed     int           `json:"removed"`
	Failed      int           `json:"failed"`
	Occurrences int           `json:"occurrences"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Indexer builds and maintains the alias index for one workspace.
type Indexer struct {
	root        string
	idx         *index.AliasIndex
	parser      UnitParser
	exts        map[string]struct{}
	exclude     map[string]struct{}
	concurrency int
	logger      *slog.Logger

	// runMu serializes runs so the index has exactly one writer.
	runMu sync.Mutex

	mu     sync.RWMutex
	hashes map[string]string
}

// New creates an Indexer writing into idx.
//
// Inputs:
//
//	idx    - The index to maintain. Must not be nil.
//	parser - Extracts declarations from unit content. Must not be nil.
//	cfg    - Root and walk settings. Root must be an existing directory.
//
// Outputs:
//
//	*Indexer - Ready to run. Nothing is indexed until IndexAll is called.
//	error    - Non-nil if the root is missing or not a directory.
func New(idx *index.AliasIndex, parser UnitParser, cfg Config) (*Indexer, error) {
	if idx == nil || parser == nil {
		return nil, errors.New("indexer: index and parser are required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	ix := &Indexer{
		root:        root,
		idx:         idx,
		parser:      parser,
		exts:        make(map[string]struct{}, len(cfg.Extensions)),
		exclude:     make(map[string]struct{}, len(cfg.ExcludeDirs)),
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		hashes:      make(map[string]string),
	}
	for _, ext := range cfg.Extensions {
		ix.exts[ext] = struct{}{}
	}
	for _, dir := range cfg.ExcludeDirs {
		ix.exclude[dir] = struct{}{}
	}
	if ix.concurrency <= 0 {
		ix.concurrency = DefaultConcurrency
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	return ix, nil
}

// Root returns the absolute workspace root.
func (ix *Indexer) Root() string {
	return ix.root
}

// Index returns the index this indexer writes to.
func (ix *Indexer) Index() *index.AliasIndex {
	return ix.idx
}

// Scope returns the units indexed by the last runs as a query scope.
//
// The returned set is a copy; later runs do not change it.
func (ix *Indexer) Scope() index.UnitSet {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := make(index.UnitSet, len(ix.hashes))
	for unit := range ix.hashes {
		set[unit] = struct{}{}
	}
	return set
}

// IndexAll brings the whole workspace up to date.
//
// Description:
//
//	Walks the root, rebuilds every unit whose content changed since the
//	last run, and removes the contribution of units that disappeared
//	(including units a previous process left in a persistent store).
//	A unit that cannot be parsed is counted as failed, its old
//	contribution is removed, and the run continues.
//
// Outputs:
//
//	RunStats - What the run did. Filled in as far as the run got.
//	error    - Context cancellation, walk failure, or a wrapped store error.
func (ix *Indexer) IndexAll(ctx context.Context) (RunStats, error) {
	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	units, err := ix.walk(ctx, ix.root)
	if err != nil {
		return RunStats{Trigger: "full"}, fmt.Errorf("walk %s: %w", ix.root, err)
	}
	known, err := ix.knownUnits(ctx)
	if err != nil {
		return RunStats{Trigger: "full"}, err
	}
	onDisk := index.NewUnitSet(units...)
	var gone []string
	for _, unit := range known {
		if !onDisk.Contains(unit) {
			gone = append(gone, unit)
		}
	}
	return ix.run(ctx, "full", units, gone)
}

// Reindex updates the units at path.
//
// Description:
//
//	An empty path runs IndexAll. A file is rebuilt if its content changed.
//	A directory is walked and its units rebuilt. A path that no longer
//	exists has its unit, and every unit below it, removed from the index.
//	Relative paths are resolved against the root.
//
// Outputs:
//
//	RunStats - What the run did.
//	error    - ErrOutsideRoot, ErrNotSource, context or store errors.
func (ix *Indexer) Reindex(ctx context.Context, path string) (RunStats, error) {
	if path == "" {
		return ix.IndexAll(ctx)
	}
	unit, err := ix.unitFor(path)
	if err != nil {
		return RunStats{Trigger: "path"}, err
	}

	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	abs := ix.abs(unit)
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		known, err := ix.knownUnits(ctx)
		if err != nil {
			return RunStats{Trigger: "path"}, err
		}
		return ix.run(ctx, "path", nil, underPath(known, unit))

	case err != nil:
		return RunStats{Trigger: "path"}, fmt.Errorf("stat %s: %w", abs, err)

	case info.IsDir():
		units, err := ix.walk(ctx, abs)
		if err != nil {
			return RunStats{Trigger: "path"}, fmt.Errorf("walk %s: %w", abs, err)
		}
		known, err := ix.knownUnits(ctx)
		if err != nil {
			return RunStats{Trigger: "path"}, err
		}
		onDisk := index.NewUnitSet(units...)
		var gone []string
		for _, u := range underPath(known, unit) {
			if !onDisk.Contains(u) {
				gone = append(gone, u)
			}
		}
		return ix.run(ctx, "path", units, gone)

	default:
		if !ix.isSource(unit) {
			return RunStats{Trigger: "path"}, fmt.Errorf("%w: %s", ErrNotSource, unit)
		}
		return ix.run(ctx, "path", []string{unit}, nil)
	}
}

// built is one unit's result, passed from a worker to the writer.
type built struct {
	unit      string
	hash      string
	batch     index.UnitBatch
	unchanged bool
	warnings  []string
	failure   error
}

// run removes gone, then builds units concurrently and commits the
// batches from a single writer goroutine. Caller holds runMu.
func (ix *Indexer) run(ctx context.Context, trigger string, units, gone []string) (RunStats, error) {
	runID := uuid.NewString()
	ctx, span := startRunSpan(ctx, runID, trigger)
	defer span.End()
	start := time.Now()

	stats := RunStats{RunID: runID, Trigger: trigger}
	logger := ix.logger.With(slog.String("run_id", runID))
	logger.Debug("indexing run started",
		slog.String("trigger", trigger),
		slog.Int("units", len(units)),
		slog.Int("removals", len(gone)))

	for _, unit := range gone {
		if err := ix.idx.RemoveUnit(ctx, unit); err != nil {
			return stats, err
		}
		ix.forget(unit)
		stats.Removed++
	}

	results := make(chan built, ix.concurrency)
	writerDone := make(chan error, 1)
	go func() {
		writerDone <- ix.writeLoop(ctx, results, &stats, logger)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for _, unit := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			b, err := ix.build(gctx, unit)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				b = built{unit: unit, failure: err}
			}
			select {
			case results <- b:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	buildErr := g.Wait()
	close(results)
	writeErr := <-writerDone

	stats.Duration = time.Since(start)
	recordRun(ctx, stats.Duration, stats)

	if err := errors.Join(buildErr, writeErr); err != nil {
		logger.Warn("indexing run aborted", slog.String("error", err.Error()))
		return stats, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stats, ctxErr
	}

	logger.Info("indexing run finished",
		slog.String("trigger", trigger),
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed),
		slog.Int("occurrences", stats.Occurrences),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// writeLoop is the only goroutine that writes to the index during a run.
// It keeps draining results after a store failure so workers never block.
func (ix *Indexer) writeLoop(ctx context.Context, results <-chan built, stats *RunStats, logger *slog.Logger) error {
	var firstErr error
	for b := range results {
		if firstErr != nil {
			continue
		}
		if err := ix.commit(ctx, b, stats, logger); err != nil {
			firstErr = err
		}
	}
	return firstErr
}

func (ix *Indexer) commit(ctx context.Context, b built, stats *RunStats, logger *slog.Logger) error {
	switch {
	case b.unchanged:
		stats.Unchanged++
		return nil

	case b.failure != nil:
		stats.Failed++
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", b.unit, b.failure))
		logger.Warn("unit not indexed",
			slog.String("unit", b.unit),
			slog.String("error", b.failure.Error()))
		if err := ix.idx.RemoveUnit(ctx, b.unit); err != nil {
			return err
		}
		ix.forget(b.unit)
		return nil
	}

	if err := ix.idx.Apply(ctx, b.batch); err != nil {
		return err
	}
	ix.remember(b.unit, b.hash)
	stats.Indexed++
	stats.Occurrences += len(b.batch.Occurrences)
	for _, w := range b.warnings {
		stats.Errors = append(stats.Errors, b.unit+": "+w)
	}
	return nil
}

// build reads, parses and builds one unit. An unchanged unit is returned
// with unchanged set and no batch.
func (ix *Indexer) build(ctx context.Context, unit string) (built, error) {
	content, err := os.ReadFile(ix.abs(unit))
	if err != nil {
		return built{}, fmt.Errorf("read: %w", err)
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	if ix.hashOf(unit) == hash {
		return built{unit: unit, hash: hash, unchanged: true}, nil
	}

	res, err := ix.parser.Parse(ctx, content, unit)
	if err != nil {
		return built{}, err
	}
	batch, err := index.BuildUnit(unit, res.Aliases)
	if err != nil {
		return built{}, err
	}
	return built{unit: unit, hash: hash, batch: batch, warnings: res.Errors}, nil
}

// walk returns the sorted units under dir.
func (ix *Indexer) walk(ctx context.Context, dir string) ([]string, error) {
	var units []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir {
				return err
			}
			ix.logger.Warn("skipping unreadable path",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if path != dir && ix.excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := ix.exts[filepath.Ext(path)]; !ok {
			return nil
		}
		unit, err := ix.unitFor(path)
		if err != nil {
			return nil
		}
		units = append(units, unit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(units)
	return units, nil
}

// knownUnits is every unit the store or this process has seen.
func (ix *Indexer) knownUnits(ctx context.Context) ([]string, error) {
	stored, err := ix.idx.Store().Units(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list units: %w", index.ErrStoreRead, err)
	}
	set := index.NewUnitSet(stored...)
	ix.mu.RLock()
	for unit := range ix.hashes {
		set[unit] = struct{}{}
	}
	ix.mu.RUnlock()

	units := make([]string, 0, len(set))
	for unit := range set {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units, nil
}

// unitFor maps a path (absolute, or relative to the root) to its unit.
func (ix *Indexer) unitFor(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(ix.root, path)
	}
	rel, err := filepath.Rel(ix.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.ToSlash(rel), nil
}

func (ix *Indexer) abs(unit string) string {
	return filepath.Join(ix.root, filepath.FromSlash(unit))
}

// isSource reports whether unit has a known extension and no excluded
// directory on its path.
func (ix *Indexer) isSource(unit string) bool {
	if _, ok := ix.exts[filepath.Ext(unit)]; !ok {
		return false
	}
	parts := strings.Split(unit, "/")
	for _, dir := range parts[:len(parts)-1] {
		if ix.excluded(dir) {
			return false
		}
	}
	return true
}

func (ix *Indexer) excluded(name string) bool {
	_, ok := ix.exclude[name]
	return ok
}

func (ix *Indexer) hashOf(unit string) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.hashes[unit]
}

func (ix *Indexer) remember(unit, hash string) {
	ix.mu.Lock()
	ix.hashes[unit] = hash
	ix.mu.Unlock()
}

func (ix *Indexer) forget(unit string) {
	ix.mu.Lock()
	delete(ix.hashes, unit)
	ix.mu.Unlock()
}

// underPath returns the units equal to prefix or below it.
func underPath(units []string, prefix string) []string {
	var out []string
	for _, unit := range units {
		if unit == prefix || strings.HasPrefix(unit, prefix+"/") {
			out = append(out, unit)
		}
	}
	return out
}
