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

	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// Version is the on-disk format version of the index.
//
// It changes whenever the declaration format or the fingerprinting scheme
// changes. Persistent stores record it and drop their contents when it no
// longer matches.
func Version() int {
	return typeexpr.FormatVersion*1000 + fingerprint.SchemeVersion
}

// Occurrence records that Decl produced Fingerprint.
type Occurrence struct {
	Fingerprint fingerprint.Fingerprint
	Decl        typeexpr.AliasDecl
}

// UnitBatch is everything one compilation unit contributes to the index.
type UnitBatch struct {
	Unit        string
	Occurrences []Occurrence
}

// StoreStats summarizes a store's contents.
type StoreStats struct {
	Units        int `json:"units"`
	Fingerprints int `json:"fingerprints"`
	Occurrences  int `json:"occurrences"`
}

// Store is the persistent fingerprint → declaration-set map.
//
// Description:
//
//	Store is the generic keyed storage the index is built on. Each unit's
//	contribution is written as a whole: PutUnit replaces whatever the unit
//	contributed before, so re-indexing a file never leaves stale
//	occurrences behind.
//
// Thread Safety:
//
//	Implementations must allow any number of concurrent readers alongside a
//	writer. Get must observe a consistent snapshot: either all or none of a
//	concurrent PutUnit.
type Store interface {
	// PutUnit atomically replaces all occurrences of batch.Unit.
	PutUnit(ctx context.Context, batch UnitBatch) error

	// DeleteUnit removes all occurrences of unit. Unknown units are a no-op.
	DeleteUnit(ctx context.Context, unit string) error

	// Get returns every declaration recorded under fp, each declaration at
	// most once, in any order.
	Get(ctx context.Context, fp fingerprint.Fingerprint) ([]typeexpr.AliasDecl, error)

	// Units returns the units that currently have occurrences.
	Units(ctx context.Context) ([]string, error)

	// Stats summarizes the store.
	Stats(ctx context.Context) (StoreStats, error)

	// Close releases resources. Further calls return ErrStoreClosed.
	Close() error
}

// Scope decides which compilation units are visible to a query.
type Scope interface {
	Contains(unit string) bool
}

type allUnits struct{}

func (allUnits) Contains(string) bool { return true }

// AllUnits is the scope that sees every unit in the store.
var AllUnits Scope = allUnits{}

// UnitSet is a Scope over an explicit set of units.
type UnitSet map[string]struct{}

// NewUnitSet creates a UnitSet from the given units.
func NewUnitSet(units ...string) UnitSet {
	s := make(UnitSet, len(units))
	for _, u := range units {
		s[u] = struct{}{}
	}
	return s
}

// Contains reports whether unit is in the set.
func (s UnitSet) Contains(unit string) bool {
	_, ok := s[unit]
	return ok
}
