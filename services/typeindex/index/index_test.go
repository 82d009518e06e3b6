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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	te "github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// Helper function to create a test alias declaration.
func makeAlias(unit string, line int, name string, owner te.Owner, typ *te.TypeExpr, params ...string) te.AliasDecl {
	return te.AliasDecl{
		Name:   name,
		Unit:   unit,
		Params: params,
		Type:   typ,
		Owner:  owner,
		Line:   line,
	}
}

func vecT() *te.TypeExpr { return te.Generic("Vec", te.Path("T")) }

func onlyFingerprint(t *testing.T, expr *te.TypeExpr) fingerprint.Fingerprint {
	t.Helper()
	fps := fingerprint.Of(expr, nil)
	require.Len(t, fps, 1)
	return fps[0]
}

func declNames(decls []te.AliasDecl) []string {
	out := make([]string, len(decls))
	for i, d := range decls {
		out[i] = d.Name
	}
	return out
}

func TestVersion(t *testing.T) {
	assert.Equal(t, te.FormatVersion*1000+fingerprint.SchemeVersion, Version())
}

func TestOccurrences(t *testing.T) {
	t.Run("one occurrence per fingerprint", func(t *testing.T) {
		d := makeAlias("a.rs", 1, "Byte", te.OwnerFree, te.Path("u8"))
		occs := Occurrences(d)
		require.Len(t, occs, 2)
		assert.Equal(t, "u8", occs[0].Fingerprint.String())
		assert.Equal(t, "{integer}", occs[1].Fingerprint.String())
		assert.Equal(t, d.ID(), occs[0].Decl.ID())
	})

	t.Run("bare parameter body contributes nothing", func(t *testing.T) {
		d := makeAlias("a.rs", 1, "X", te.OwnerFree, te.Path("T"), "T")
		assert.Empty(t, Occurrences(d))
	})

	t.Run("missing type contributes nothing", func(t *testing.T) {
		d := makeAlias("a.rs", 1, "Broken", te.OwnerFree, nil)
		assert.Empty(t, Occurrences(d))
	})

	t.Run("owner is not filtered at build time", func(t *testing.T) {
		d := makeAlias("a.rs", 1, "Assoc", te.OwnerImpl, vecT(), "T")
		assert.Len(t, Occurrences(d), 1)
	})
}

func TestBuildUnit(t *testing.T) {
	t.Run("collects all decls", func(t *testing.T) {
		batch, err := BuildUnit("a.rs", []te.AliasDecl{
			makeAlias("a.rs", 1, "A", te.OwnerFree, vecT(), "T"),
			makeAlias("a.rs", 2, "B", te.OwnerTrait, te.Ref(te.Path("str"), false)),
			makeAlias("a.rs", 3, "X", te.OwnerFree, te.Path("T"), "T"),
		})
		require.NoError(t, err)
		assert.Equal(t, "a.rs", batch.Unit)
		assert.Len(t, batch.Occurrences, 2)
	})

	t.Run("empty unit", func(t *testing.T) {
		batch, err := BuildUnit("empty.rs", nil)
		require.NoError(t, err)
		assert.Equal(t, "empty.rs", batch.Unit)
		assert.Empty(t, batch.Occurrences)
	})

	t.Run("rejects invalid and foreign decls", func(t *testing.T) {
		_, err := BuildUnit("a.rs", []te.AliasDecl{
			makeAlias("a.rs", 1, "", te.OwnerFree, vecT()),
			makeAlias("b.rs", 2, "B", te.OwnerFree, vecT()),
			makeAlias("a.rs", 3, "C", te.OwnerFree, vecT()),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidDecl)

		var batchErr *BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Len(t, batchErr.Errors, 2)
		assert.Contains(t, batchErr.Error(), "and 1 more")
		assert.Contains(t, batchErr.ErrorList(), "decl[1]")
	})
}

func TestFindCandidates_UnderThreshold(t *testing.T) {
	ctx := context.Background()
	idx := New(NewMemoryStore())
	defer idx.Close()

	_, err := idx.IndexUnit(ctx, "lib.rs", []te.AliasDecl{
		makeAlias("lib.rs", 1, "A", te.OwnerFree, te.Generic("Vec", te.Path("T")), "T"),
		makeAlias("lib.rs", 2, "B", te.OwnerFree, te.Generic("Box", te.Path("T")), "T"),
		makeAlias("lib.rs", 3, "C", te.OwnerFree, te.Generic("Option", te.Path("T")), "T"),
	})
	require.NoError(t, err)

	fp := onlyFingerprint(t, te.Generic("Vec", te.Path("i32")))
	res, err := idx.FindCandidates(ctx, AllUnits, fp, AcceptAll)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []string{"A"}, declNames(res.Candidates))
	assert.Equal(t, 1, res.RawCount)
}

func TestFindCandidates_Cutoff(t *testing.T) {
	ctx := context.Background()

	build := func(n int) *AliasIndex {
		idx := New(NewMemoryStore())
		decls := make([]te.AliasDecl, n)
		for i := range decls {
			decls[i] = makeAlias("winapi.rs", i+1, fmt.Sprintf("Alias%d", i), te.OwnerFree, vecT(), "T")
		}
		_, err := idx.IndexUnit(ctx, "winapi.rs", decls)
		require.NoError(t, err)
		return idx
	}
	fp := onlyFingerprint(t, te.Generic("Vec", te.Path("u8")))

	t.Run("eleven aliases is inconclusive", func(t *testing.T) {
		idx := build(11)
		called := false
		res, err := idx.FindCandidates(ctx, AllUnits, fp, func(te.AliasDecl) (bool, bool) {
			called = true
			return true, false
		})
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Empty(t, res.Candidates)
		assert.Equal(t, 11, res.RawCount)
		assert.False(t, called, "predicate must not run past the cutoff")
	})

	t.Run("exactly ten is filtered", func(t *testing.T) {
		idx := build(10)
		res, err := idx.FindCandidates(ctx, AllUnits, fp, AcceptAll)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Len(t, res.Candidates, 10)
	})

	t.Run("custom cutoff", func(t *testing.T) {
		store := NewMemoryStore()
		idx := New(store, WithQueryOptions(WithCutoff(3)))
		assert.Equal(t, 3, idx.Cutoff())
		_, err := idx.IndexUnit(ctx, "a.rs", []te.AliasDecl{
			makeAlias("a.rs", 1, "A", te.OwnerFree, vecT(), "T"),
			makeAlias("a.rs", 2, "B", te.OwnerFree, vecT(), "T"),
			makeAlias("a.rs", 3, "C", te.OwnerFree, vecT(), "T"),
			makeAlias("a.rs", 4, "D", te.OwnerFree, vecT(), "T"),
		})
		require.NoError(t, err)

		res, err := idx.FindCandidates(ctx, AllUnits, fp, AcceptAll)
		require.NoError(t, err)
		assert.False(t, res.Found)
	})

	t.Run("zero cutoff falls back to default", func(t *testing.T) {
		assert.Equal(t, DefaultCutoff, buildOptions([]Option{WithCutoff(0)}).Cutoff)
	})
}

func TestFindCandidates_OwnerExclusion(t *testing.T) {
	ctx := context.Background()
	idx := New(NewMemoryStore())

	_, err := idx.IndexUnit(ctx, "lib.rs", []te.AliasDecl{
		makeAlias("lib.rs", 1, "Free", te.OwnerFree, vecT(), "T"),
		makeAlias("lib.rs", 5, "InTrait", te.OwnerTrait, vecT(), "T"),
		makeAlias("lib.rs", 9, "InImpl", te.OwnerImpl, vecT(), "T"),
	})
	require.NoError(t, err)

	fp := onlyFingerprint(t, te.Generic("Vec", te.Path("u8")))
	var offered []string
	res, err := idx.FindCandidates(ctx, AllUnits, fp, func(d te.AliasDecl) (bool, bool) {
		offered = append(offered, d.Name)
		return true, false
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []string{"Free"}, declNames(res.Candidates))
	assert.Equal(t, []string{"Free"}, offered)
	assert.Equal(t, 3, res.RawCount, "owner-scoped aliases still count toward the cutoff")
}

func TestFindCandidates_PredicateAndStop(t *testing.T) {
	ctx := context.Background()
	idx := New(NewMemoryStore())
	_, err := idx.IndexUnit(ctx, "lib.rs", []te.AliasDecl{
		makeAlias("lib.rs", 1, "A", te.OwnerFree, vecT(), "T"),
		makeAlias("lib.rs", 2, "B", te.OwnerFree, vecT(), "T"),
		makeAlias("lib.rs", 3, "C", te.OwnerFree, vecT(), "T"),
	})
	require.NoError(t, err)
	fp := onlyFingerprint(t, te.Generic("Vec", te.Path("u8")))

	t.Run("rejecting predicate", func(t *testing.T) {
		res, err := idx.FindCandidates(ctx, AllUnits, fp, func(d te.AliasDecl) (bool, bool) {
			return d.Name == "B", false
		})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, []string{"B"}, declNames(res.Candidates))
	})

	t.Run("stop after first accepted", func(t *testing.T) {
		calls := 0
		res, err := idx.FindCandidates(ctx, AllUnits, fp, func(te.AliasDecl) (bool, bool) {
			calls++
			return true, true
		})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, []string{"A"}, declNames(res.Candidates))
		assert.Equal(t, 1, calls)
	})

	t.Run("nil predicate accepts all", func(t *testing.T) {
		res, err := idx.FindCandidates(ctx, nil, fp, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C"}, declNames(res.Candidates))
	})

	t.Run("unknown fingerprint is found and empty", func(t *testing.T) {
		res, err := idx.FindCandidates(ctx, AllUnits, onlyFingerprint(t, te.Never()), AcceptAll)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Empty(t, res.Candidates)
	})
}

func TestFindCandidates_Scope(t *testing.T) {
	ctx := context.Background()
	idx := New(NewMemoryStore())

	for u := 0; u < 4; u++ {
		unit := fmt.Sprintf("dep%d.rs", u)
		decls := make([]te.AliasDecl, 4)
		for i := range decls {
			decls[i] = makeAlias(unit, i+1, fmt.Sprintf("V%d_%d", u, i), te.OwnerFree, vecT(), "T")
		}
		_, err := idx.IndexUnit(ctx, unit, decls)
		require.NoError(t, err)
	}
	fp := onlyFingerprint(t, te.Generic("Vec", te.Path("u8")))

	res, err := idx.FindCandidates(ctx, AllUnits, fp, AcceptAll)
	require.NoError(t, err)
	assert.False(t, res.Found, "16 visible candidates exceed the cutoff")

	res, err = idx.FindCandidates(ctx, NewUnitSet("dep0.rs", "dep2.rs"), fp, AcceptAll)
	require.NoError(t, err)
	assert.True(t, res.Found, "invisible units do not count toward the cutoff")
	assert.Len(t, res.Candidates, 8)
	for _, d := range res.Candidates {
		assert.Contains(t, []string{"dep0.rs", "dep2.rs"}, d.Unit)
	}
}

func TestFindPotentialAliases(t *testing.T) {
	ctx := context.Background()
	idx := New(NewMemoryStore())
	_, err := idx.IndexUnit(ctx, "lib.rs", []te.AliasDecl{
		makeAlias("lib.rs", 1, "Byte", te.OwnerFree, te.Path("u8")),
		makeAlias("lib.rs", 2, "Word", te.OwnerFree, te.Path("u32")),
		makeAlias("lib.rs", 3, "Bytes", te.OwnerFree, te.Generic("Vec", te.Path("u8"))),
	})
	require.NoError(t, err)

	t.Run("concrete integer hits only its own bucket", func(t *testing.T) {
		res, err := idx.FindPotentialAliases(ctx, AllUnits, te.Path("u8"), AcceptAll)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, 1, res.RawCount)
		assert.Equal(t, []string{"Byte"}, declNames(res.Candidates))
	})

	t.Run("defaulted argument still meets the shorter body", func(t *testing.T) {
		res, err := idx.FindPotentialAliases(ctx, AllUnits,
			te.Generic("Vec", te.Path("u8"), te.Path("Global")), AcceptAll)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, []string{"Bytes"}, declNames(res.Candidates))
	})

	t.Run("integer literal", func(t *testing.T) {
		res, err := idx.FindPotentialAliases(ctx, AllUnits, te.InferInt(), AcceptAll)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, []string{"Byte", "Word"}, declNames(res.Candidates))
	})

	t.Run("nothing to key on is inconclusive", func(t *testing.T) {
		res, err := idx.FindPotentialAliases(ctx, AllUnits, te.Infer(), AcceptAll)
		require.NoError(t, err)
		assert.False(t, res.Found)
	})

	t.Run("other integer aliases do not crowd out a concrete query", func(t *testing.T) {
		decls := make([]te.AliasDecl, 11)
		for i := range decls {
			decls[i] = makeAlias("ints.rs", i+1, fmt.Sprintf("I%d", i), te.OwnerFree, te.Path("i64"))
		}
		_, err := idx.IndexUnit(ctx, "ints.rs", decls)
		require.NoError(t, err)
		defer func() { require.NoError(t, idx.RemoveUnit(ctx, "ints.rs")) }()

		res, err := idx.FindPotentialAliases(ctx, AllUnits, te.Path("u8"), AcceptAll)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, []string{"Byte"}, declNames(res.Candidates))

		res, err = idx.FindPotentialAliases(ctx, AllUnits, te.InferInt(), AcceptAll)
		require.NoError(t, err)
		assert.False(t, res.Found, "the literal bucket holds all thirteen")
		assert.Empty(t, res.Candidates)
	})

	t.Run("cutoff in any bucket is inconclusive", func(t *testing.T) {
		decls := make([]te.AliasDecl, 11)
		for i := range decls {
			decls[i] = makeAlias("vecs.rs", i+1, fmt.Sprintf("V%d", i), te.OwnerFree, vecT(), "T")
		}
		_, err := idx.IndexUnit(ctx, "vecs.rs", decls)
		require.NoError(t, err)
		defer func() { require.NoError(t, idx.RemoveUnit(ctx, "vecs.rs")) }()

		// Vec/2 holds nothing; Vec/1 is over the cutoff.
		res, err := idx.FindPotentialAliases(ctx, AllUnits,
			te.Generic("Vec", te.Path("u8"), te.Path("Global")), AcceptAll)
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Empty(t, res.Candidates)
	})
}

func TestIndexUnit_SameNameOnOneLine(t *testing.T) {
	// impl X { type A = u8; } type A = u8;
	inImpl := makeAlias("one.rs", 1, "A", te.OwnerImpl, te.Path("u8"))
	inImpl.StartByte = 9
	free := makeAlias("one.rs", 1, "A", te.OwnerFree, te.Path("u8"))
	free.StartByte = 26

	for _, order := range [][]te.AliasDecl{{inImpl, free}, {free, inImpl}} {
		store := NewMemoryStore()
		idx := New(store)
		n, err := idx.IndexUnit(context.Background(), "one.rs", order)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		res, err := idx.FindPotentialAliases(context.Background(), AllUnits, te.Path("u8"), AcceptAll)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, 2, res.RawCount)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, te.OwnerFree, res.Candidates[0].Owner)
	}
}

func TestIndexUnit_ReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	idx := New(store)

	n, err := idx.IndexUnit(ctx, "a.rs", []te.AliasDecl{
		makeAlias("a.rs", 1, "A", te.OwnerFree, vecT(), "T"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-parse: A moved to Box.
	_, err = idx.IndexUnit(ctx, "a.rs", []te.AliasDecl{
		makeAlias("a.rs", 1, "A", te.OwnerFree, te.Generic("Box", te.Path("T")), "T"),
	})
	require.NoError(t, err)

	res, err := idx.FindCandidates(ctx, AllUnits, onlyFingerprint(t, te.Generic("Vec", te.Path("u8"))), AcceptAll)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates, "stale occurrence must be gone")

	res, err = idx.FindCandidates(ctx, AllUnits, onlyFingerprint(t, te.Generic("Box", te.Path("u8"))), AcceptAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, declNames(res.Candidates))

	require.NoError(t, idx.RemoveUnit(ctx, "a.rs"))
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreStats{}, stats)
}

// TestBuildIndependence indexes two units in every order, and concurrently,
// and expects the same occurrence set each time.
func TestBuildIndependence(t *testing.T) {
	ctx := context.Background()
	u1 := []te.AliasDecl{
		makeAlias("u1.rs", 1, "A", te.OwnerFree, vecT(), "T"),
		makeAlias("u1.rs", 2, "R", te.OwnerFree, te.Ref(te.Path("str"), false)),
		makeAlias("u1.rs", 3, "N", te.OwnerFree, te.Path("u16")),
	}
	u2 := []te.AliasDecl{
		makeAlias("u2.rs", 1, "B", te.OwnerFree, vecT(), "T"),
		makeAlias("u2.rs", 2, "I", te.OwnerImpl, te.Path("u16")),
		makeAlias("u2.rs", 3, "X", te.OwnerFree, te.Path("T"), "T"),
	}

	sequential := func(first, second string) []Occurrence {
		store := NewMemoryStore()
		idx := New(store)
		units := map[string][]te.AliasDecl{"u1.rs": u1, "u2.rs": u2}
		_, err := idx.IndexUnit(ctx, first, units[first])
		require.NoError(t, err)
		_, err = idx.IndexUnit(ctx, second, units[second])
		require.NoError(t, err)
		return store.Snapshot()
	}

	want := sequential("u1.rs", "u2.rs")
	require.NotEmpty(t, want)
	assert.Equal(t, want, sequential("u2.rs", "u1.rs"))

	for run := 0; run < 20; run++ {
		store := NewMemoryStore()
		idx := New(store)
		var wg sync.WaitGroup
		for unit, decls := range map[string][]te.AliasDecl{"u1.rs": u1, "u2.rs": u2} {
			wg.Add(1)
			go func(unit string, decls []te.AliasDecl) {
				defer wg.Done()
				_, err := idx.IndexUnit(ctx, unit, decls)
				assert.NoError(t, err)
			}(unit, decls)
		}
		wg.Wait()
		assert.Equal(t, want, store.Snapshot())
	}
}

func TestFindCandidates_Errors(t *testing.T) {
	ctx := context.Background()
	fp := onlyFingerprint(t, te.Never())

	t.Run("nil store", func(t *testing.T) {
		_, err := FindCandidates(ctx, nil, AllUnits, fp, AcceptAll)
		assert.ErrorIs(t, err, ErrStoreRead)
	})

	t.Run("closed store", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Close())
		_, err := FindCandidates(ctx, store, AllUnits, fp, AcceptAll)
		assert.ErrorIs(t, err, ErrStoreRead)
		assert.ErrorIs(t, err, ErrStoreClosed)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := FindCandidates(cctx, NewMemoryStore(), AllUnits, fp, AcceptAll)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
