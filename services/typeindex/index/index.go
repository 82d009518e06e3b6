// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides the inverted fingerprint index over type aliases.
//
// The index maps a structural fingerprint to the alias declarations whose
// underlying type produced it. It is built one compilation unit at a time
// (BuildUnit is pure, so units may be built concurrently) and queried with
// FindCandidates or FindPotentialAliases, which apply a cutoff: when a
// fingerprint matches more than Options.Cutoff declarations the answer is
// reported as inconclusive instead of being filtered.
//
// # Ownership Model
//
// The index stores declarations but does NOT own their TypeExpr trees:
//   - Declarations MUST NOT be mutated after being indexed
//   - To update a unit: call IndexUnit again, which replaces its occurrences
//   - To forget a unit: call RemoveUnit
//
// # Thread Safety
//
// AliasIndex is safe for concurrent use. Concurrency guarantees between
// readers and the writer come from the Store.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// AliasIndex couples a Store with query options and instrumentation.
type AliasIndex struct {
	store   Store
	options Options
	logger  *slog.Logger
}

// IndexOption configures an AliasIndex.
type IndexOption func(*AliasIndex)

// WithQueryOptions applies query options (e.g. WithCutoff) to every query.
func WithQueryOptions(opts ...Option) IndexOption {
	return func(x *AliasIndex) {
		x.options = buildOptions(opts)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) IndexOption {
	return func(x *AliasIndex) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// New creates an AliasIndex on top of store.
//
// Example:
//
//	idx := index.New(index.NewMemoryStore(), index.WithQueryOptions(index.WithCutoff(10)))
//	defer idx.Close()
func New(store Store, opts ...IndexOption) *AliasIndex {
	x := &AliasIndex{
		store:   store,
		options: DefaultOptions(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Store returns the underlying store.
func (x *AliasIndex) Store() Store {
	return x.store
}

// Cutoff returns the configured raw candidate cutoff.
func (x *AliasIndex) Cutoff() int {
	return x.options.Cutoff
}

// IndexUnit rebuilds one unit's contribution.
//
// Description:
//
//	Runs BuildUnit and hands the batch to the store, replacing whatever
//	the unit contributed before.
//
// Outputs:
//
//	int   - Number of occurrences written.
//	error - *BatchError for invalid declarations (nothing is written), or
//	        ErrStoreWrite when the store fails.
func (x *AliasIndex) IndexUnit(ctx context.Context, unit string, decls []typeexpr.AliasDecl) (int, error) {
	batch, err := BuildUnit(unit, decls)
	if err != nil {
		return 0, err
	}
	if err := x.Apply(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch.Occurrences), nil
}

// Apply writes a batch produced by BuildUnit.
//
// Callers that build units concurrently funnel the batches through a single
// goroutine calling Apply.
func (x *AliasIndex) Apply(ctx context.Context, batch UnitBatch) error {
	ctx, span := startOperationSpan(ctx, "Apply")
	defer span.End()
	start := time.Now()

	if err := x.store.PutUnit(ctx, batch); err != nil {
		recordOperationMetrics(ctx, "apply", time.Since(start), outcomeError)
		return fmt.Errorf("%w: unit %s: %w", ErrStoreWrite, batch.Unit, err)
	}

	recordOccurrences(ctx, len(batch.Occurrences))
	recordOperationMetrics(ctx, "apply", time.Since(start), outcomeFound)
	x.logger.Debug("indexed unit",
		slog.String("unit", batch.Unit),
		slog.Int("occurrences", len(batch.Occurrences)))
	return nil
}

// RemoveUnit forgets everything unit contributed.
func (x *AliasIndex) RemoveUnit(ctx context.Context, unit string) error {
	if err := x.store.DeleteUnit(ctx, unit); err != nil {
		return fmt.Errorf("%w: delete unit %s: %w", ErrStoreWrite, unit, err)
	}
	x.logger.Debug("removed unit", slog.String("unit", unit))
	return nil
}

// FindCandidates is FindCandidates over this index's store and options.
func (x *AliasIndex) FindCandidates(ctx context.Context, scope Scope, fp fingerprint.Fingerprint, accept AcceptFunc) (Result, error) {
	res, err := FindCandidates(ctx, x.store, scope, fp, accept, WithCutoff(x.options.Cutoff))
	if err == nil && !res.Found {
		x.logger.Debug("candidate lookup inconclusive",
			slog.String("fingerprint", fp.String()),
			slog.Int("raw_candidates", res.RawCount),
			slog.Int("cutoff", x.options.Cutoff))
	}
	return res, err
}

// FindPotentialAliases is FindPotentialAliases over this index's store and
// options.
func (x *AliasIndex) FindPotentialAliases(ctx context.Context, scope Scope, expr *typeexpr.TypeExpr, accept AcceptFunc) (Result, error) {
	res, err := FindPotentialAliases(ctx, x.store, scope, expr, accept, WithCutoff(x.options.Cutoff))
	if err == nil && !res.Found {
		x.logger.Debug("alias lookup inconclusive",
			slog.String("type", expr.String()),
			slog.Int("raw_candidates", res.RawCount))
	}
	return res, err
}

// Stats returns the store statistics.
func (x *AliasIndex) Stats(ctx context.Context) (StoreStats, error) {
	stats, err := x.store.Stats(ctx)
	if err != nil {
		return StoreStats{}, fmt.Errorf("%w: stats: %w", ErrStoreRead, err)
	}
	return stats, nil
}

// Close closes the underlying store.
func (x *AliasIndex) Close() error {
	return x.store.Close()
}
