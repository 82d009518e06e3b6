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
	"sort"
	"sync"

	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// MemoryStore is an in-memory Store.
//
// The store maintains two maps:
//   - byFingerprint: primary index, fingerprint → declaration set
//   - byUnit: secondary index, unit → its occurrences (for replacement)
//
// Thread Safety:
//
//	MemoryStore is safe for concurrent use. Writes take an exclusive lock,
//	reads a shared lock, so a Get never observes half of a PutUnit.
//
// Ownership:
//
//	Declarations are stored by value. TypeExpr pointers inside them are
//	shared with the caller and must not be mutated afterwards.
type MemoryStore struct {
	mu sync.RWMutex

	byFingerprint map[fingerprint.Fingerprint]map[typeexpr.DeclID]typeexpr.AliasDecl
	byUnit        map[string][]Occurrence

	occurrences int
	closed      bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byFingerprint: make(map[fingerprint.Fingerprint]map[typeexpr.DeclID]typeexpr.AliasDecl),
		byUnit:        make(map[string][]Occurrence),
	}
}

// PutUnit atomically replaces all occurrences of batch.Unit.
func (s *MemoryStore) PutUnit(ctx context.Context, batch UnitBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.deleteUnitLocked(batch.Unit)
	if len(batch.Occurrences) == 0 {
		return nil
	}

	kept := make([]Occurrence, 0, len(batch.Occurrences))
	for _, occ := range batch.Occurrences {
		set := s.byFingerprint[occ.Fingerprint]
		if set == nil {
			set = make(map[typeexpr.DeclID]typeexpr.AliasDecl)
			s.byFingerprint[occ.Fingerprint] = set
		}
		id := occ.Decl.ID()
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = occ.Decl
		kept = append(kept, occ)
	}
	s.byUnit[batch.Unit] = kept
	s.occurrences += len(kept)
	return nil
}

// DeleteUnit removes all occurrences of unit.
func (s *MemoryStore) DeleteUnit(ctx context.Context, unit string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.deleteUnitLocked(unit)
	return nil
}

func (s *MemoryStore) deleteUnitLocked(unit string) {
	for _, occ := range s.byUnit[unit] {
		set := s.byFingerprint[occ.Fingerprint]
		delete(set, occ.Decl.ID())
		if len(set) == 0 {
			delete(s.byFingerprint, occ.Fingerprint)
		}
		s.occurrences--
	}
	delete(s.byUnit, unit)
}

// Get returns every declaration recorded under fp.
func (s *MemoryStore) Get(ctx context.Context, fp fingerprint.Fingerprint) ([]typeexpr.AliasDecl, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	set := s.byFingerprint[fp]
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]typeexpr.AliasDecl, 0, len(set))
	for _, d := range set {
		out = append(out, d)
	}
	return out, nil
}

// Units returns the units that currently have occurrences, sorted.
func (s *MemoryStore) Units(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	units := make([]string, 0, len(s.byUnit))
	for u, occs := range s.byUnit {
		if len(occs) > 0 {
			units = append(units, u)
		}
	}
	sort.Strings(units)
	return units, nil
}

// Stats summarizes the store in O(units).
func (s *MemoryStore) Stats(ctx context.Context) (StoreStats, error) {
	if err := ctx.Err(); err != nil {
		return StoreStats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return StoreStats{}, ErrStoreClosed
	}

	units := 0
	for _, occs := range s.byUnit {
		if len(occs) > 0 {
			units++
		}
	}
	return StoreStats{
		Units:        units,
		Fingerprints: len(s.byFingerprint),
		Occurrences:  s.occurrences,
	}, nil
}

// Snapshot returns every occurrence in the store ordered by fingerprint
// then declaration ID.
func (s *MemoryStore) Snapshot() []Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Occurrence, 0, s.occurrences)
	for fp, set := range s.byFingerprint {
		for _, d := range set {
			out = append(out, Occurrence{Fingerprint: fp, Decl: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fingerprint != out[j].Fingerprint {
			return out[i].Fingerprint.String() < out[j].Fingerprint.String()
		}
		return out[i].Decl.ID() < out[j].Decl.ID()
	})
	return out
}

// Close marks the store closed and drops its contents.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.byFingerprint = nil
	s.byUnit = nil
	s.occurrences = 0
	return nil
}
