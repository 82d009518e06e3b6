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
	"fmt"

	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// Occurrences returns the index occurrences contributed by one declaration.
//
// A declaration without an underlying type contributes nothing. Owners are
// not filtered here; trait and impl aliases are indexed like free ones and
// dropped at query time.
func Occurrences(decl typeexpr.AliasDecl) []Occurrence {
	if decl.Type == nil {
		return nil
	}
	fps := fingerprint.Of(decl.Type, decl.Params)
	if len(fps) == 0 {
		return nil
	}
	out := make([]Occurrence, len(fps))
	for i, fp := range fps {
		out[i] = Occurrence{Fingerprint: fp, Decl: decl}
	}
	return out
}

// BuildUnit computes the contribution of one compilation unit.
//
// Description:
//
//	Validates every declaration, then collects the occurrences of each.
//	The result depends only on decls: no store, no other unit and no
//	global state is consulted, so units may be built in any order and
//	concurrently.
//
// Inputs:
//
//	unit  - The compilation unit. Every decl must carry the same Unit.
//	decls - The alias declarations found in the unit.
//
// Outputs:
//
//	UnitBatch - The unit's occurrences. Empty (but with Unit set) when the
//	            unit declares nothing indexable.
//	error     - *BatchError wrapping ErrInvalidDecl for each bad decl.
//
// Thread Safety: Safe for concurrent use.
func BuildUnit(unit string, decls []typeexpr.AliasDecl) (UnitBatch, error) {
	var errs []error
	for i, d := range decls {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("decl[%d]: %w: %v", i, ErrInvalidDecl, err))
			continue
		}
		if d.Unit != unit {
			errs = append(errs, fmt.Errorf("decl[%d]: %w: unit %q does not match %q",
				i, ErrInvalidDecl, d.Unit, unit))
		}
	}
	if len(errs) > 0 {
		return UnitBatch{Unit: unit}, &BatchError{Unit: unit, Errors: errs}
	}

	batch := UnitBatch{Unit: unit}
	for _, d := range decls {
		batch.Occurrences = append(batch.Occurrences, Occurrences(d)...)
	}
	return batch, nil
}
