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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aliasindex/services/typeindex/ast"
	"github.com/AleutianAI/aliasindex/services/typeindex/index"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

func writeUnit(t *testing.T, root, unit, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(unit))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func newTestIndexer(t *testing.T, root string, parser UnitParser) (*Indexer, *index.MemoryStore) {
	t.Helper()
	store := index.NewMemoryStore()
	if parser == nil {
		parser = ast.NewRustParser()
	}
	ix, err := New(index.New(store), parser, Config{
		Root:        root,
		Extensions:  []string{".rs"},
		ExcludeDirs: []string{"target", ".git"},
		Concurrency: 4,
	})
	require.NoError(t, err)
	return ix, store
}

func candidateNames(t *testing.T, ix *Indexer, typ string) []string {
	t.Helper()
	ctx := context.Background()
	expr, err := ast.ParseTypeExpr(ctx, typ)
	require.NoError(t, err)
	res, err := ix.Index().FindPotentialAliases(ctx, ix.Scope(), expr, nil)
	require.NoError(t, err)
	require.True(t, res.Found, "lookup for %s should be conclusive", typ)
	names := make([]string, len(res.Candidates))
	for i, d := range res.Candidates {
		names[i] = d.Name
	}
	return names
}

// failingParser fails for one unit and delegates the rest.
type failingParser struct {
	inner UnitParser
	unit  string
}

func (p failingParser) Parse(ctx context.Context, content []byte, unit string) (*ast.ParseResult, error) {
	if unit == p.unit {
		return nil, fmt.Errorf("%w: forced", ast.ErrInvalidContent)
	}
	return p.inner.Parse(ctx, content, unit)
}

func TestNew(t *testing.T) {
	store := index.NewMemoryStore()

	_, err := New(nil, ast.NewRustParser(), Config{Root: t.TempDir()})
	assert.Error(t, err)

	_, err = New(index.New(store), ast.NewRustParser(), Config{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "lib.rs")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = New(index.New(store), ast.NewRustParser(), Config{Root: file})
	assert.Error(t, err)

	ix, err := New(index.New(store), ast.NewRustParser(), Config{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, ix.concurrency)
	assert.True(t, filepath.IsAbs(ix.Root()))
}

func TestIndexAll(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "src/lib.rs", "pub type A<T> = Vec<T>;\npub type B<T> = Box<T>;\n")
	writeUnit(t, root, "src/util/opt.rs", "type C<T> = Option<T>;\n")
	writeUnit(t, root, "target/debug/gen.rs", "type Hidden<T> = Vec<T>;\n")
	writeUnit(t, root, "README.md", "type NotRust = Vec<u8>;\n")

	ix, _ := newTestIndexer(t, root, nil)
	ctx := context.Background()

	stats, err := ix.IndexAll(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, "full", stats.Trigger)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 3, stats.Occurrences)
	assert.Zero(t, stats.Failed)

	assert.Equal(t, index.NewUnitSet("src/lib.rs", "src/util/opt.rs"), ix.Scope())
	assert.Equal(t, []string{"A"}, candidateNames(t, ix, "Vec<i32>"))

	t.Run("second run skips unchanged units", func(t *testing.T) {
		stats, err := ix.IndexAll(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Indexed)
		assert.Equal(t, 2, stats.Unchanged)
	})

	t.Run("edit replaces the unit's contribution", func(t *testing.T) {
		writeUnit(t, root, "src/lib.rs", "pub type D<T> = Vec<T>;\n")
		stats, err := ix.IndexAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Indexed)
		assert.Equal(t, 1, stats.Unchanged)
		assert.Equal(t, []string{"D"}, candidateNames(t, ix, "Vec<i32>"))
		assert.Empty(t, candidateNames(t, ix, "Box<i32>"))
	})

	t.Run("deleted unit is removed", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(root, "src", "util", "opt.rs")))
		stats, err := ix.IndexAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Removed)
		assert.Equal(t, index.NewUnitSet("src/lib.rs"), ix.Scope())
		assert.Empty(t, candidateNames(t, ix, "Option<i32>"))
	})
}

func TestIndexAll_RemovesUnitsLeftInStore(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "lib.rs", "type A = u8;\n")
	ix, store := newTestIndexer(t, root, nil)
	ctx := context.Background()

	_, err := ix.Index().IndexUnit(ctx, "old.rs", []typeexpr.AliasDecl{{
		Name: "Old", Unit: "old.rs", Line: 1, Owner: typeexpr.OwnerFree, Type: typeexpr.Path("u8"),
	}})
	require.NoError(t, err)

	stats, err := ix.IndexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	units, err := store.Units(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib.rs"}, units)
}

func TestIndexAll_FailedUnitDoesNotStopRun(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "good.rs", "type Good<T> = Vec<T>;\n")
	writeUnit(t, root, "bad.rs", "type Bad<T> = Vec<T>;\n")

	ix, _ := newTestIndexer(t, root, ast.NewRustParser())
	ctx := context.Background()
	_, err := ix.IndexAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Bad", "Good"}, candidateNames(t, ix, "Vec<u8>"))

	// Same store, now the parser rejects bad.rs: its old contribution must go.
	ix.parser = failingParser{inner: ast.NewRustParser(), unit: "bad.rs"}
	writeUnit(t, root, "bad.rs", "type Bad<T> = Vec<T>; // edited\n")

	stats, err := ix.IndexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "bad.rs")
	assert.Equal(t, []string{"Good"}, candidateNames(t, ix, "Vec<u8>"))
	assert.False(t, ix.Scope().Contains("bad.rs"))
}

func TestIndexAll_SyntaxErrorsAreWarnings(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "lib.rs", "type A = u8;\nfn broken( {\n")
	ix, _ := newTestIndexer(t, root, nil)

	stats, err := ix.IndexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Zero(t, stats.Failed)
	assert.NotEmpty(t, stats.Errors)
}

func TestIndexAll_ConcurrencyDoesNotChangeResult(t *testing.T) {
	root := t.TempDir()
	for i := range 40 {
		writeUnit(t, root, fmt.Sprintf("m%02d/lib.rs", i),
			fmt.Sprintf("type V%d<T> = Vec<T>;\ntype R%d = &'static [u8; %d];\n", i, i, i))
	}

	snapshot := func(concurrency int) []index.Occurrence {
		store := index.NewMemoryStore()
		ix, err := New(index.New(store), ast.NewRustParser(), Config{
			Root:        root,
			Extensions:  []string{".rs"},
			Concurrency: concurrency,
		})
		require.NoError(t, err)
		stats, err := ix.IndexAll(context.Background())
		require.NoError(t, err)
		require.Equal(t, 40, stats.Indexed)
		return store.Snapshot()
	}

	serial := snapshot(1)
	assert.Len(t, serial, 80)
	assert.Equal(t, serial, snapshot(16))
}

func TestIndexAll_Canceled(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "lib.rs", "type A = u8;\n")
	ix, _ := newTestIndexer(t, root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.IndexAll(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestReindex(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "src/a.rs", "type A<T> = Vec<T>;\n")
	writeUnit(t, root, "src/nested/b.rs", "type B<T> = Vec<T>;\n")
	writeUnit(t, root, "notes.txt", "hello\n")

	ix, _ := newTestIndexer(t, root, nil)
	ctx := context.Background()

	t.Run("single file by relative path", func(t *testing.T) {
		stats, err := ix.Reindex(ctx, "src/a.rs")
		require.NoError(t, err)
		assert.Equal(t, "path", stats.Trigger)
		assert.Equal(t, 1, stats.Indexed)
		assert.Equal(t, index.NewUnitSet("src/a.rs"), ix.Scope())
	})

	t.Run("directory by absolute path", func(t *testing.T) {
		stats, err := ix.Reindex(ctx, filepath.Join(root, "src"))
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Indexed)
		assert.Equal(t, 1, stats.Unchanged)
		assert.Equal(t, []string{"A", "B"}, candidateNames(t, ix, "Vec<u8>"))
	})

	t.Run("removed directory drops its units", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(filepath.Join(root, "src", "nested")))
		stats, err := ix.Reindex(ctx, "src/nested")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Removed)
		assert.Equal(t, []string{"A"}, candidateNames(t, ix, "Vec<u8>"))
	})

	t.Run("empty path indexes everything", func(t *testing.T) {
		stats, err := ix.Reindex(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "full", stats.Trigger)
	})

	t.Run("outside root", func(t *testing.T) {
		_, err := ix.Reindex(ctx, "../elsewhere.rs")
		assert.ErrorIs(t, err, ErrOutsideRoot)
		_, err = ix.Reindex(ctx, ".")
		assert.ErrorIs(t, err, ErrOutsideRoot)
	})

	t.Run("not a source unit", func(t *testing.T) {
		_, err := ix.Reindex(ctx, "notes.txt")
		assert.ErrorIs(t, err, ErrNotSource)
	})
}

func TestIsSource(t *testing.T) {
	ix, _ := newTestIndexer(t, t.TempDir(), nil)
	assert.True(t, ix.isSource("src/lib.rs"))
	assert.True(t, ix.isSource("lib.rs"))
	assert.False(t, ix.isSource("src/lib.go"))
	assert.False(t, ix.isSource("target/debug/build.rs"))
	assert.False(t, ix.isSource("crates/x/target/gen.rs"))
}

func TestUnderPath(t *testing.T) {
	units := []string{"a.rs", "src/a.rs", "src/b/c.rs", "srcx/d.rs"}
	assert.Equal(t, []string{"src/a.rs", "src/b/c.rs"}, underPath(units, "src"))
	assert.Equal(t, []string{"a.rs"}, underPath(units, "a.rs"))
	assert.Empty(t, underPath(units, "missing"))
}
