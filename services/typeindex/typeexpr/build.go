// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package typeexpr

import "strings"

// Path builds a path type from a "::"-separated name with no generic args.
//
// Example:
//
//	Path("std::vec::Vec") // std::vec::Vec
//	Path("i32")           // i32
func Path(name string) *TypeExpr {
	return &TypeExpr{Kind: KindPath, Segments: strings.Split(name, "::")}
}

// Generic builds a path type with generic arguments on its last segment.
func Generic(name string, args ...*TypeExpr) *TypeExpr {
	t := Path(name)
	t.Args = args
	return t
}

// Ref builds `&elem` or `&mut elem`.
func Ref(elem *TypeExpr, mutable bool) *TypeExpr {
	return &TypeExpr{Kind: KindRef, Elem: elem, Mutable: mutable}
}

// Ptr builds `*const elem` or `*mut elem`.
func Ptr(elem *TypeExpr, mutable bool) *TypeExpr {
	return &TypeExpr{Kind: KindPtr, Elem: elem, Mutable: mutable}
}

// Tuple builds a tuple type. Tuple() is the unit type.
func Tuple(elems ...*TypeExpr) *TypeExpr {
	return &TypeExpr{Kind: KindTuple, Args: elems}
}

// Unit is the unit type `()`.
func Unit() *TypeExpr {
	return Tuple()
}

// Array builds `[elem; n]`.
func Array(elem *TypeExpr, n string) *TypeExpr {
	return &TypeExpr{Kind: KindArray, Elem: elem, Len: n}
}

// Slice builds `[elem]`.
func Slice(elem *TypeExpr) *TypeExpr {
	return &TypeExpr{Kind: KindSlice, Elem: elem}
}

// Fn builds `fn(params...) -> ret`. A nil ret means `-> ()`.
func Fn(ret *TypeExpr, params ...*TypeExpr) *TypeExpr {
	return &TypeExpr{Kind: KindFnPtr, Args: params, Ret: ret}
}

// Never is `!`.
func Never() *TypeExpr {
	return &TypeExpr{Kind: KindNever}
}

// Paren builds `(elem)`.
func Paren(elem *TypeExpr) *TypeExpr {
	return &TypeExpr{Kind: KindParen, Elem: elem}
}

// Infer is `_`.
func Infer() *TypeExpr {
	return &TypeExpr{Kind: KindInfer}
}

// InferInt is an unresolved integer literal type.
func InferInt() *TypeExpr {
	return &TypeExpr{Kind: KindInferInt}
}

// InferFloat is an unresolved float literal type.
func InferFloat() *TypeExpr {
	return &TypeExpr{Kind: KindInferFloat}
}

// Dyn builds `dyn Trait`.
func Dyn(trait string) *TypeExpr {
	return &TypeExpr{Kind: KindTraitObject, Segments: strings.Split(trait, "::")}
}

// Impl builds `impl Trait`.
func Impl(trait string) *TypeExpr {
	return &TypeExpr{Kind: KindImplTrait, Segments: strings.Split(trait, "::")}
}

// Projection builds `<self as trait>::assoc`. An empty trait yields `<self>::assoc`.
func Projection(self *TypeExpr, trait, assoc string) *TypeExpr {
	var segs []string
	if trait != "" {
		segs = strings.Split(trait, "::")
	}
	return &TypeExpr{Kind: KindProjection, Elem: self, Segments: append(segs, assoc)}
}
