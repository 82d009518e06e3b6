// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// DefaultCutoff is the largest raw candidate count a lookup will filter.
// Anything above it is reported as inconclusive.
const DefaultCutoff = 10

// Options configures queries.
type Options struct {
	// Cutoff is the maximum number of in-scope raw candidates per
	// fingerprint. Values < 1 mean DefaultCutoff.
	Cutoff int
}

// DefaultOptions returns the default query options.
func DefaultOptions() Options {
	return Options{Cutoff: DefaultCutoff}
}

// Option is a functional option for configuring queries.
type Option func(*Options)

// WithCutoff sets the raw candidate cutoff.
func WithCutoff(n int) Option {
	return func(o *Options) {
		o.Cutoff = n
	}
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Cutoff < 1 {
		o.Cutoff = DefaultCutoff
	}
	return o
}

// AcceptFunc decides whether a candidate is kept.
//
// accept adds decl to the result; stop ends the query after this candidate.
// The decision for one candidate must not depend on which candidates were
// offered before it.
type AcceptFunc func(decl typeexpr.AliasDecl) (accept, stop bool)

// AcceptAll keeps every candidate.
func AcceptAll(typeexpr.AliasDecl) (bool, bool) { return true, false }

// Result is the answer to a candidate query.
type Result struct {
	// Found is false when the lookup was inconclusive: too many raw
	// candidates, or nothing to key on. Callers must then fall back to an
	// exhaustive strategy. It is not the same as an empty answer.
	Found bool

	// Candidates are the accepted free-standing aliases, ordered by ID.
	// Always empty when Found is false.
	Candidates []typeexpr.AliasDecl

	// RawCount is the number of in-scope declarations under the
	// fingerprint(s) before owner filtering.
	RawCount int
}

// FindCandidates looks up the aliases that might expand to a type with
// fingerprint fp.
//
// Description:
//
//	Loads every declaration recorded under fp, keeps those whose unit is
//	visible in scope and, if their number does not exceed the cutoff,
//	offers the free-standing ones (ordered by DeclID) to accept. Trait and
//	impl aliases are never offered.
//
// Inputs:
//
//	ctx    - Context for cancellation.
//	store  - The index store. Must not be nil.
//	scope  - Visible units. Nil means AllUnits.
//	fp     - The fingerprint to look up.
//	accept - Candidate predicate. Nil means AcceptAll.
//	opts   - Query options (WithCutoff).
//
// Outputs:
//
//	Result - Found=false with no candidates when the raw count exceeds the
//	         cutoff; otherwise Found=true with the accepted candidates.
//	error  - Wraps ErrStoreRead when the store fails, or the context error.
//
// Thread Safety: Safe for concurrent use. Never writes to the store.
func FindCandidates(
	ctx context.Context,
	store Store,
	scope Scope,
	fp fingerprint.Fingerprint,
	accept AcceptFunc,
	opts ...Option,
) (Result, error) {
	ctx, span := startOperationSpan(ctx, "FindCandidates")
	defer span.End()
	start := time.Now()

	o := buildOptions(opts)

	decls, err := lookup(ctx, store, scope, fp)
	if err != nil {
		setQuerySpanResult(span, fp.String(), 0, outcomeError)
		recordOperationMetrics(ctx, "find_candidates", time.Since(start), outcomeError)
		return Result{}, err
	}
	recordRawCandidates(ctx, len(decls))

	if len(decls) > o.Cutoff {
		setQuerySpanResult(span, fp.String(), len(decls), outcomeCutoff)
		recordOperationMetrics(ctx, "find_candidates", time.Since(start), outcomeCutoff)
		return Result{Found: false, RawCount: len(decls)}, nil
	}

	res := Result{Found: true, RawCount: len(decls)}
	res.Candidates = filterFree(decls, accept)

	outcome := outcomeFound
	if len(res.Candidates) == 0 {
		outcome = outcomeEmpty
	}
	setQuerySpanResult(span, fp.String(), len(decls), outcome)
	recordOperationMetrics(ctx, "find_candidates", time.Since(start), outcome)
	return res, nil
}

// FindPotentialAliases looks up the aliases that might expand to expr.
//
// Description:
//
//	Fingerprints expr and looks up every fingerprint. All buckets are
//	loaded and checked against the cutoff before any candidate is offered
//	to accept, so an early stop never hides an inconclusive bucket. A
//	declaration found under several fingerprints is offered once.
//
// Outputs:
//
//	Result - Found=false when expr has no fingerprints (nothing to key on)
//	         or when any bucket exceeds the cutoff.
//	error  - Wraps ErrStoreRead when the store fails.
//
// Thread Safety: Safe for concurrent use.
func FindPotentialAliases(
	ctx context.Context,
	store Store,
	scope Scope,
	expr *typeexpr.TypeExpr,
	accept AcceptFunc,
	opts ...Option,
) (Result, error) {
	ctx, span := startOperationSpan(ctx, "FindPotentialAliases")
	defer span.End()
	start := time.Now()

	o := buildOptions(opts)

	fps := fingerprint.OfQuery(expr)
	if len(fps) == 0 {
		setQuerySpanResult(span, "", 0, outcomeEmpty)
		recordOperationMetrics(ctx, "find_potential_aliases", time.Since(start), outcomeEmpty)
		return Result{Found: false}, nil
	}

	var (
		all  []typeexpr.AliasDecl
		seen = make(map[typeexpr.DeclID]struct{})
		raw  int
	)
	for _, fp := range fps {
		decls, err := lookup(ctx, store, scope, fp)
		if err != nil {
			setQuerySpanResult(span, fp.String(), raw, outcomeError)
			recordOperationMetrics(ctx, "find_potential_aliases", time.Since(start), outcomeError)
			return Result{}, err
		}
		recordRawCandidates(ctx, len(decls))
		raw += len(decls)

		if len(decls) > o.Cutoff {
			setQuerySpanResult(span, fp.String(), len(decls), outcomeCutoff)
			recordOperationMetrics(ctx, "find_potential_aliases", time.Since(start), outcomeCutoff)
			return Result{Found: false, RawCount: raw}, nil
		}
		for _, d := range decls {
			id := d.ID()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			all = append(all, d)
		}
	}

	res := Result{Found: true, RawCount: raw}
	res.Candidates = filterFree(all, accept)

	outcome := outcomeFound
	if len(res.Candidates) == 0 {
		outcome = outcomeEmpty
	}
	setQuerySpanResult(span, fps[0].String(), raw, outcome)
	recordOperationMetrics(ctx, "find_potential_aliases", time.Since(start), outcome)
	return res, nil
}

// lookup loads the in-scope declarations under fp.
func lookup(ctx context.Context, store Store, scope Scope, fp fingerprint.Fingerprint) ([]typeexpr.AliasDecl, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrStoreRead)
	}
	if scope == nil {
		scope = AllUnits
	}

	decls, err := store.Get(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrStoreRead, fp, err)
	}

	visible := decls[:0:0]
	for _, d := range decls {
		if scope.Contains(d.Unit) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

// filterFree offers the free-standing decls to accept in ID order and
// returns the accepted ones.
func filterFree(decls []typeexpr.AliasDecl, accept AcceptFunc) []typeexpr.AliasDecl {
	if accept == nil {
		accept = AcceptAll
	}

	free := make([]typeexpr.AliasDecl, 0, len(decls))
	for _, d := range decls {
		switch d.Owner {
		case typeexpr.OwnerFree:
			free = append(free, d)
		case typeexpr.OwnerTrait, typeexpr.OwnerImpl:
			// Owner-scoped aliases resolve through their trait or impl.
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i].ID() < free[j].ID() })

	var out []typeexpr.AliasDecl
	for _, d := range free {
		ok, stop := accept(d)
		if ok {
			out = append(out, d)
		}
		if stop {
			break
		}
	}
	return out
}
