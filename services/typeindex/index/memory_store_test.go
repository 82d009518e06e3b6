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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	te "github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

func TestMemoryStore_PutUnit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := makeAlias("a.rs", 1, "A", te.OwnerFree, vecT(), "T")
	batch, err := BuildUnit("a.rs", []te.AliasDecl{a})
	require.NoError(t, err)

	// The same occurrence twice is stored once.
	batch.Occurrences = append(batch.Occurrences, batch.Occurrences...)
	require.NoError(t, store.PutUnit(ctx, batch))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreStats{Units: 1, Fingerprints: 1, Occurrences: 1}, stats)

	decls, err := store.Get(ctx, onlyFingerprint(t, te.Generic("Vec", te.Path("u8"))))
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, a.ID(), decls[0].ID())
}

func TestMemoryStore_EmptyBatchClearsUnit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	batch, err := BuildUnit("a.rs", []te.AliasDecl{makeAlias("a.rs", 1, "A", te.OwnerFree, vecT(), "T")})
	require.NoError(t, err)
	require.NoError(t, store.PutUnit(ctx, batch))
	require.NoError(t, store.PutUnit(ctx, UnitBatch{Unit: "a.rs"}))

	units, err := store.Units(ctx)
	require.NoError(t, err)
	assert.Empty(t, units)
	assert.Empty(t, store.Snapshot())
}

func TestMemoryStore_Units(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, unit := range []string{"c.rs", "a.rs", "b.rs"} {
		batch, err := BuildUnit(unit, []te.AliasDecl{makeAlias(unit, 1, "N", te.OwnerFree, te.Path("i32"))})
		require.NoError(t, err)
		require.NoError(t, store.PutUnit(ctx, batch))
	}
	require.NoError(t, store.DeleteUnit(ctx, "b.rs"))
	require.NoError(t, store.DeleteUnit(ctx, "missing.rs"))

	units, err := store.Units(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.rs", "c.rs"}, units)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Units)
	assert.Equal(t, 2, stats.Fingerprints, "i32 and {integer}")
	assert.Equal(t, 4, stats.Occurrences)
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.PutUnit(ctx, UnitBatch{Unit: "a.rs"}), ErrStoreClosed)
	assert.ErrorIs(t, store.DeleteUnit(ctx, "a.rs"), ErrStoreClosed)
	_, err := store.Units(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Stats(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	assert.ErrorIs(t, store.PutUnit(ctx, UnitBatch{Unit: "a.rs"}), context.Canceled)
	_, err := store.Units(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnitSet(t *testing.T) {
	s := NewUnitSet("a.rs", "b.rs")
	assert.True(t, s.Contains("a.rs"))
	assert.False(t, s.Contains("c.rs"))
	assert.True(t, AllUnits.Contains("anything.rs"))
}
