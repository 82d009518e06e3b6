// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fingerprint reduces type expressions to coarse structural keys.
//
// A Fingerprint captures only the head shape of a type: the last path
// segment and its generic arity, the wrapper kind of references and
// pointers, or the constructor kind of tuples, arrays, slices and function
// pointers. Generic arguments are never fingerprinted. Two expressions that
// a full resolver could judge equal always share at least one fingerprint;
// the converse does not hold, so every lookup keyed by a fingerprint is a
// pre-filter whose results must be re-verified.
//
// # Alias side and query side
//
// Of keys alias bodies and OfQuery keys concrete query types, and the two
// key sets differ. An alias body `u8` is stored under both `u8`
// and `{integer}` so that an integer literal finds it, but a query for
// `u8` is looked up under `u8` alone. A query path with N generic
// arguments is looked up under every arity from 0 to N, so `Vec<u8, Global>`
// still meets an alias written as `Vec<T>`.
//
// # Degenerate input
//
// Expressions that carry no head information yield no fingerprints at all:
// a bare generic parameter, a reference or pointer to one, `_`, trait
// objects, `impl Trait`, type macros and associated-type projections.
// Fingerprinting never fails.
//
// # Thread Safety
//
// Of and OfQuery are pure functions and safe for concurrent use.
package fingerprint

import (
	"errors"
	"sort"
	"strconv"

	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// SchemeVersion is the version of the fingerprinting rules. Persistent
// indexes are invalidated when it changes.
const SchemeVersion = 2

// MaxDepth bounds descent through parentheses, references and pointers.
// Branches deeper than this contribute nothing.
const MaxDepth = 32

// Well-known fingerprint names.
const (
	anyInteger = "{integer}"
	anyFloat   = "{float}"
	unitName   = "()"
	neverName  = "!"
	sliceName  = "[T]"
	arrayName  = "[T;N]"
	tupleName  = "(tuple)"
	fnName     = "fn()"
	refPrefix  = "&"
	ptrPrefix  = "*"
	selfName   = "Self"
	arityDelim = "/"
)

// ErrInvalidKey is returned by FromKey for an empty key.
var ErrInvalidKey = errors.New("invalid fingerprint key")

// Fingerprint is an opaque, comparable structural signature.
//
// The zero value is not a valid fingerprint.
type Fingerprint struct {
	name string
}

// String returns the human-readable form, e.g. "Vec/1" or "&str".
func (f Fingerprint) String() string {
	return f.name
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool {
	return f.name == ""
}

// Key returns the byte encoding used as a storage key.
func (f Fingerprint) Key() []byte {
	return []byte(f.name)
}

// FromKey decodes a key produced by Key.
func FromKey(key []byte) (Fingerprint, error) {
	if len(key) == 0 {
		return Fingerprint{}, ErrInvalidKey
	}
	return Fingerprint{name: string(key)}, nil
}

// Of computes the fingerprints of expr.
//
// Description:
//
//	Decomposes expr by constructor kind. Names in boundParams are generic
//	parameters: they act as wildcards and produce nothing on their own.
//	The result is de-duplicated and sorted so equal inputs always produce
//	equal slices.
//
// Inputs:
//
//	expr        - The type expression. Nil yields nil.
//	boundParams - Generic parameter names in scope for expr. May be nil.
//
// Outputs:
//
//	[]Fingerprint - Zero or more fingerprints. Never contains the zero value.
//
// Example:
//
//	Of(typeexpr.Generic("Vec", typeexpr.Path("T")), []string{"T"}) // [Vec/1]
//	Of(typeexpr.Path("u8"), nil)                                   // [u8 {integer}]
//	Of(typeexpr.Path("T"), []string{"T"})                          // []
func Of(expr *typeexpr.TypeExpr, boundParams []string) []Fingerprint {
	bound := make(map[string]struct{}, len(boundParams))
	for _, p := range boundParams {
		bound[p] = struct{}{}
	}
	return finish(collect(expr, bound, aliasSide, 0))
}

// OfQuery computes the lookup keys of a query expression that has no
// generic parameters in scope.
//
// Description:
//
//	Concrete primitives yield only their own name; the `{integer}` and
//	`{float}` buckets are reached by InferInt and InferFloat alone. A path
//	with N generic arguments yields Name/0 through Name/N, so trailing
//	defaulted arguments written on the query side still match an alias
//	that omits them.
//
// Example:
//
//	OfQuery(typeexpr.Path("u8"))                                   // [u8]
//	OfQuery(typeexpr.Generic("Vec", typeexpr.Path("u8"), typeexpr.Path("Global")))
//	                                                               // [Vec/0 Vec/1 Vec/2]
func OfQuery(expr *typeexpr.TypeExpr) []Fingerprint {
	return finish(collect(expr, nil, querySide, 0))
}

// side selects which of the two key sets collect produces.
type side int

const (
	aliasSide side = iota
	querySide
)

func finish(names []string) []Fingerprint {
	if len(names) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]Fingerprint, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, Fingerprint{name: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func collect(expr *typeexpr.TypeExpr, bound map[string]struct{}, sd side, depth int) []string {
	if expr == nil || depth > MaxDepth {
		return nil
	}

	switch expr.Kind {
	case typeexpr.KindParen:
		return collect(expr.Elem, bound, sd, depth+1)

	case typeexpr.KindPath:
		return pathNames(expr, bound, sd)

	case typeexpr.KindRef:
		return wrap(refPrefix, collect(expr.Elem, bound, sd, depth+1))

	case typeexpr.KindPtr:
		return wrap(ptrPrefix, collect(expr.Elem, bound, sd, depth+1))

	case typeexpr.KindTuple:
		if len(expr.Args) == 0 {
			return []string{unitName}
		}
		return []string{withArity(tupleName, len(expr.Args))}

	case typeexpr.KindArray:
		return []string{arrayName}

	case typeexpr.KindSlice:
		return []string{sliceName}

	case typeexpr.KindFnPtr:
		return []string{withArity(fnName, len(expr.Args))}

	case typeexpr.KindNever:
		return []string{neverName}

	case typeexpr.KindInferInt:
		return []string{anyInteger}

	case typeexpr.KindInferFloat:
		return []string{anyFloat}

	default:
		// _, dyn, impl, macros, projections and unknown kinds.
		return nil
	}
}

func pathNames(expr *typeexpr.TypeExpr, bound map[string]struct{}, sd side) []string {
	if len(expr.Segments) == 0 {
		return nil
	}
	first := expr.Segments[0]
	if first == "" || first == selfName {
		return nil
	}
	if _, isParam := bound[first]; isParam {
		// T itself, or T::Assoc which needs resolution.
		return nil
	}

	name := expr.Head()
	if name == "" {
		return nil
	}

	if len(expr.Segments) == 1 || isStdPrimitivePath(expr.Segments) {
		if class, ok := primitives[name]; ok {
			if sd == querySide {
				return []string{name}
			}
			switch class {
			case classInteger:
				return []string{name, anyInteger}
			case classFloat:
				return []string{name, anyFloat}
			default:
				return []string{name}
			}
		}
	}

	if sd == querySide {
		out := make([]string, 0, len(expr.Args)+1)
		for k := 0; k <= len(expr.Args); k++ {
			out = append(out, withArity(name, k))
		}
		return out
	}
	return []string{withArity(name, len(expr.Args))}
}

// isStdPrimitivePath accepts `core::primitive::u8` and `std::primitive::u8`.
func isStdPrimitivePath(segs []string) bool {
	return len(segs) == 3 && (segs[0] == "std" || segs[0] == "core") && segs[1] == "primitive"
}

func wrap(prefix string, inner []string) []string {
	if len(inner) == 0 {
		return nil
	}
	out := make([]string, len(inner))
	for i, n := range inner {
		out[i] = prefix + n
	}
	return out
}

func withArity(name string, arity int) string {
	return name + arityDelim + strconv.Itoa(arity)
}
