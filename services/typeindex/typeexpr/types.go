// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package typeexpr defines the declaration-level data model shared by the
// fingerprinting, indexing and extraction packages.
//
// # Ownership Model
//
// TypeExpr trees and AliasDecl values are immutable once produced by an
// extractor. They are owned by the compilation unit (source file) that
// declared them and are replaced wholesale when that unit is re-parsed.
//
// # Thread Safety
//
// All types in this package are plain values. Once constructed they may be
// shared freely between goroutines as long as nobody mutates them.
package typeexpr

import (
	"errors"
	"fmt"
	"strings"
)

// FormatVersion is the version of the declaration format.
//
// Bump it whenever AliasDecl or TypeExpr change shape or meaning. Persistent
// indexes compare it against the version they were built with and drop their
// contents on mismatch.
const FormatVersion = 4

// Kind identifies the constructor of a TypeExpr node.
type Kind string

const (
	// KindPath is a named type: `Vec<T>`, `std::io::Result<()>`, `i32`, `T`.
	KindPath Kind = "path"

	// KindRef is a reference: `&T`, `&'a mut T`.
	KindRef Kind = "ref"

	// KindPtr is a raw pointer: `*const T`, `*mut T`.
	KindPtr Kind = "ptr"

	// KindTuple is a tuple; zero elements is the unit type `()`.
	KindTuple Kind = "tuple"

	// KindArray is a fixed-length array: `[T; N]`.
	KindArray Kind = "array"

	// KindSlice is a slice: `[T]`.
	KindSlice Kind = "slice"

	// KindFnPtr is a function pointer: `fn(A, B) -> R`.
	KindFnPtr Kind = "fn"

	// KindNever is the never type `!`.
	KindNever Kind = "never"

	// KindParen is a parenthesized type `(T)`.
	KindParen Kind = "paren"

	// KindInfer is the placeholder `_`.
	KindInfer Kind = "infer"

	// KindInferInt is an integer inference variable (`{integer}`). Only
	// produced by callers building query expressions.
	KindInferInt Kind = "infer_int"

	// KindInferFloat is a float inference variable (`{float}`).
	KindInferFloat Kind = "infer_float"

	// KindTraitObject is `dyn Trait`.
	KindTraitObject Kind = "dyn"

	// KindImplTrait is `impl Trait`.
	KindImplTrait Kind = "impl"

	// KindMacro is a type-position macro invocation.
	KindMacro Kind = "macro"

	// KindProjection is a qualified path `<T as Trait>::Assoc`.
	KindProjection Kind = "projection"
)

// TypeExpr is a parsed type expression.
//
// Only the fields relevant to Kind are populated:
//
//	Path:       Segments, Args (generic args of the last segment)
//	Ref, Ptr:   Elem, Mutable
//	Array:      Elem, Len
//	Slice:      Elem
//	Paren:      Elem
//	Tuple:      Args (elements)
//	FnPtr:      Args (parameters), Ret
//	Projection: Elem (self type), Segments (trait path + associated name)
//	Macro:      Segments (macro name)
type TypeExpr struct {
	Kind     Kind        `json:"kind"`
	Segments []string    `json:"segments,omitempty"`
	Args     []*TypeExpr `json:"args,omitempty"`
	Elem     *TypeExpr   `json:"elem,omitempty"`
	Ret      *TypeExpr   `json:"ret,omitempty"`
	Mutable  bool        `json:"mutable,omitempty"`
	Len      string      `json:"len,omitempty"`
}

// Head returns the last path segment, or "" for non-path kinds.
func (t *TypeExpr) Head() string {
	if t == nil || t.Kind != KindPath || len(t.Segments) == 0 {
		return ""
	}
	return t.Segments[len(t.Segments)-1]
}

// String renders the expression in Rust surface syntax.
func (t *TypeExpr) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *TypeExpr) write(b *strings.Builder) {
	if t == nil {
		b.WriteString("<?>")
		return
	}
	switch t.Kind {
	case KindPath:
		b.WriteString(strings.Join(t.Segments, "::"))
		writeList(b, "<", t.Args, ">")
	case KindRef:
		b.WriteString("&")
		if t.Mutable {
			b.WriteString("mut ")
		}
		t.Elem.write(b)
	case KindPtr:
		if t.Mutable {
			b.WriteString("*mut ")
		} else {
			b.WriteString("*const ")
		}
		t.Elem.write(b)
	case KindTuple:
		b.WriteString("(")
		for i, a := range t.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			a.write(b)
		}
		if len(t.Args) == 1 {
			b.WriteString(",")
		}
		b.WriteString(")")
	case KindArray:
		b.WriteString("[")
		t.Elem.write(b)
		b.WriteString("; ")
		b.WriteString(t.Len)
		b.WriteString("]")
	case KindSlice:
		b.WriteString("[")
		t.Elem.write(b)
		b.WriteString("]")
	case KindFnPtr:
		b.WriteString("fn")
		b.WriteString("(")
		for i, a := range t.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			a.write(b)
		}
		b.WriteString(")")
		if t.Ret != nil {
			b.WriteString(" -> ")
			t.Ret.write(b)
		}
	case KindNever:
		b.WriteString("!")
	case KindParen:
		b.WriteString("(")
		t.Elem.write(b)
		b.WriteString(")")
	case KindInfer:
		b.WriteString("_")
	case KindInferInt:
		b.WriteString("{integer}")
	case KindInferFloat:
		b.WriteString("{float}")
	case KindTraitObject:
		b.WriteString("dyn ")
		b.WriteString(strings.Join(t.Segments, "::"))
	case KindImplTrait:
		b.WriteString("impl ")
		b.WriteString(strings.Join(t.Segments, "::"))
	case KindMacro:
		b.WriteString(strings.Join(t.Segments, "::"))
		b.WriteString("!(..)")
	case KindProjection:
		b.WriteString("<")
		t.Elem.write(b)
		if len(t.Segments) > 1 {
			b.WriteString(" as ")
			b.WriteString(strings.Join(t.Segments[:len(t.Segments)-1], "::"))
		}
		b.WriteString(">::")
		if len(t.Segments) > 0 {
			b.WriteString(t.Segments[len(t.Segments)-1])
		}
	default:
		b.WriteString("<?>")
	}
}

func writeList(b *strings.Builder, open string, args []*TypeExpr, close string) {
	if len(args) == 0 {
		return
	}
	b.WriteString(open)
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		a.write(b)
	}
	b.WriteString(close)
}

// Owner is the syntactic context an alias declaration lives in.
type Owner string

const (
	// OwnerFree is module scope.
	OwnerFree Owner = "free"

	// OwnerTrait is a trait body.
	OwnerTrait Owner = "trait"

	// OwnerImpl is an impl body.
	OwnerImpl Owner = "impl"
)

// IsFree reports whether o is module scope.
func (o Owner) IsFree() bool {
	return o == OwnerFree
}

// Valid reports whether o is one of the known owners.
func (o Owner) Valid() bool {
	switch o {
	case OwnerFree, OwnerTrait, OwnerImpl:
		return true
	default:
		return false
	}
}

// DeclID uniquely identifies an alias declaration within a workspace.
type DeclID string

// AliasDecl is one `type Name<Params> = Type;` declaration.
type AliasDecl struct {
	// Name is the declared alias name.
	Name string `json:"name"`

	// Unit is the compilation unit (workspace-relative slash path).
	Unit string `json:"unit"`

	// Params are the declared generic type parameter names. Lifetimes and
	// const parameters are not included.
	Params []string `json:"params,omitempty"`

	// Type is the underlying type. Nil when the source was malformed.
	Type *TypeExpr `json:"type,omitempty"`

	// Owner is where the declaration lives.
	Owner Owner `json:"owner"`

	// Line is the 1-indexed line of the declaration.
	Line int `json:"line"`

	// StartByte is the byte offset of the declaration in its unit.
	StartByte int `json:"start_byte"`
}

// ID returns the stable identifier "unit:line:startbyte:owner:name".
//
// The byte offset and owner keep two same-named declarations on one line
// apart, e.g. `impl X { type A = u8; } type A = u8;`.
func (d AliasDecl) ID() DeclID {
	return DeclID(fmt.Sprintf("%s:%d:%d:%s:%s", d.Unit, d.Line, d.StartByte, d.Owner, d.Name))
}

// Validate checks the fields every indexed declaration must carry.
func (d AliasDecl) Validate() error {
	if d.Name == "" {
		return errors.New("name is required")
	}
	if d.Unit == "" {
		return errors.New("unit is required")
	}
	if d.Line < 1 {
		return fmt.Errorf("line must be positive, got %d", d.Line)
	}
	if !d.Owner.Valid() {
		return fmt.Errorf("unknown owner %q", d.Owner)
	}
	return nil
}
