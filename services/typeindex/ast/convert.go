// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// maxTypeNesting bounds recursion while converting a type node.
const maxTypeNesting = 256

// converter turns tree-sitter Rust type nodes into TypeExprs.
type converter struct {
	src []byte
}

func (c *converter) text(n *sitter.Node) string {
	return n.Content(c.src)
}

// typeOf converts a type node. It returns nil for nodes that are missing,
// contain syntax errors, or have no TypeExpr counterpart.
func (c *converter) typeOf(n *sitter.Node, depth int) *typeexpr.TypeExpr {
	if n == nil || n.IsMissing() || n.HasError() || depth > maxTypeNesting {
		return nil
	}

	switch n.Type() {
	case "type_identifier", "primitive_type", "identifier", "self", "super", "crate":
		return &typeexpr.TypeExpr{Kind: typeexpr.KindPath, Segments: []string{c.text(n)}}

	case "scoped_type_identifier", "scoped_identifier":
		return c.scoped(n, depth)

	case "generic_type":
		base := c.typeOf(n.ChildByFieldName("type"), depth+1)
		if base == nil || base.Kind != typeexpr.KindPath {
			return nil
		}
		base.Args = c.typeArgs(n.ChildByFieldName("type_arguments"), depth)
		return base

	case "reference_type":
		elem := c.typeOf(n.ChildByFieldName("type"), depth+1)
		if elem == nil {
			return nil
		}
		return typeexpr.Ref(elem, hasChildOfType(n, "mutable_specifier"))

	case "pointer_type":
		elem := c.typeOf(n.ChildByFieldName("type"), depth+1)
		if elem == nil {
			return nil
		}
		return typeexpr.Ptr(elem, hasChildOfType(n, "mutable_specifier"))

	case "unit_type":
		return typeexpr.Unit()

	case "tuple_type":
		var elems []*typeexpr.TypeExpr
		for i := 0; i < int(n.NamedChildCount()); i++ {
			elem := c.typeOf(n.NamedChild(i), depth+1)
			if elem == nil {
				return nil
			}
			elems = append(elems, elem)
		}
		// `(T)` has no comma and is just T in parentheses.
		if len(elems) == 1 && !hasChildOfType(n, ",") {
			return typeexpr.Paren(elems[0])
		}
		return typeexpr.Tuple(elems...)

	case "array_type":
		elem := c.typeOf(n.ChildByFieldName("element"), depth+1)
		if elem == nil {
			return nil
		}
		if length := n.ChildByFieldName("length"); length != nil {
			return typeexpr.Array(elem, c.text(length))
		}
		return typeexpr.Slice(elem)

	case "function_type":
		return c.fnPointer(n, depth)

	case "never_type":
		return typeexpr.Never()

	case "dynamic_type", "abstract_type":
		trait := n.ChildByFieldName("trait")
		if trait == nil {
			return nil
		}
		name := c.traitName(trait)
		if n.Type() == "abstract_type" {
			return typeexpr.Impl(name)
		}
		return typeexpr.Dyn(name)

	case "bounded_type":
		return &typeexpr.TypeExpr{Kind: typeexpr.KindTraitObject, Segments: []string{c.text(n)}}

	case "macro_invocation":
		name := n.ChildByFieldName("macro")
		if name == nil {
			return nil
		}
		return &typeexpr.TypeExpr{Kind: typeexpr.KindMacro, Segments: strings.Split(c.text(name), "::")}

	case "metavariable":
		return &typeexpr.TypeExpr{Kind: typeexpr.KindMacro, Segments: []string{c.text(n)}}
	}

	if c.text(n) == "_" {
		return typeexpr.Infer()
	}
	return nil
}

// scoped converts `a::b::C`, `T::Assoc` and `<T as Trait>::Assoc`.
func (c *converter) scoped(n *sitter.Node, depth int) *typeexpr.TypeExpr {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	path := n.ChildByFieldName("path")
	if path == nil {
		// `::Foo`
		return &typeexpr.TypeExpr{Kind: typeexpr.KindPath, Segments: []string{c.text(name)}}
	}

	if path.Type() == "bracketed_type" && path.NamedChildCount() > 0 {
		inner := path.NamedChild(0)
		if inner.Type() == "qualified_type" {
			self := c.typeOf(inner.ChildByFieldName("type"), depth+1)
			alias := inner.ChildByFieldName("alias")
			if self == nil || alias == nil {
				return nil
			}
			return typeexpr.Projection(self, c.traitName(alias), c.text(name))
		}
		self := c.typeOf(inner, depth+1)
		if self == nil {
			return nil
		}
		return typeexpr.Projection(self, "", c.text(name))
	}

	segs := c.segments(path, depth)
	if segs == nil {
		return nil
	}
	return &typeexpr.TypeExpr{Kind: typeexpr.KindPath, Segments: append(segs, c.text(name))}
}

// segments flattens a path prefix into its identifiers. Generic arguments
// inside the prefix are dropped.
func (c *converter) segments(n *sitter.Node, depth int) []string {
	if n == nil || depth > maxTypeNesting {
		return nil
	}
	switch n.Type() {
	case "identifier", "type_identifier", "primitive_type", "self", "super", "crate":
		return []string{c.text(n)}
	case "scoped_identifier", "scoped_type_identifier":
		name := n.ChildByFieldName("name")
		if name == nil {
			return nil
		}
		path := n.ChildByFieldName("path")
		if path == nil {
			return []string{c.text(name)}
		}
		prefix := c.segments(path, depth+1)
		if prefix == nil {
			return nil
		}
		return append(prefix, c.text(name))
	case "generic_type":
		return c.segments(n.ChildByFieldName("type"), depth+1)
	}
	return nil
}

// typeArgs converts the generic arguments of a path. Lifetimes and
// associated type bindings are not arguments; const arguments are kept as
// opaque paths so they still count toward the arity.
func (c *converter) typeArgs(n *sitter.Node, depth int) []*typeexpr.TypeExpr {
	if n == nil {
		return nil
	}
	var args []*typeexpr.TypeExpr
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "lifetime", "type_binding", "trait_bounds", "line_comment", "block_comment":
			continue
		case "integer_literal", "boolean_literal", "char_literal", "string_literal",
			"negative_literal", "float_literal", "block":
			args = append(args, &typeexpr.TypeExpr{Kind: typeexpr.KindPath, Segments: []string{c.text(child)}})
			continue
		}
		arg := c.typeOf(child, depth+1)
		if arg == nil {
			arg = typeexpr.Infer()
		}
		args = append(args, arg)
	}
	return args
}

func (c *converter) fnPointer(n *sitter.Node, depth int) *typeexpr.TypeExpr {
	if trait := n.ChildByFieldName("trait"); trait != nil {
		// `Fn(A) -> B` sugar only appears as a bound.
		return typeexpr.Dyn(c.traitName(trait))
	}

	var params []*typeexpr.TypeExpr
	if list := n.ChildByFieldName("parameters"); list != nil {
		for i := 0; i < int(list.NamedChildCount()); i++ {
			child := list.NamedChild(i)
			switch child.Type() {
			case "attribute_item", "variadic_parameter", "line_comment", "block_comment":
				continue
			case "parameter":
				child = child.ChildByFieldName("type")
			}
			p := c.typeOf(child, depth+1)
			if p == nil {
				return nil
			}
			params = append(params, p)
		}
	}

	var ret *typeexpr.TypeExpr
	if r := n.ChildByFieldName("return_type"); r != nil {
		if ret = c.typeOf(r, depth+1); ret == nil {
			return nil
		}
	}
	return typeexpr.Fn(ret, params...)
}

// traitName renders a trait reference without its generic arguments.
func (c *converter) traitName(n *sitter.Node) string {
	if segs := c.segments(n, 0); segs != nil {
		return strings.Join(segs, "::")
	}
	return c.text(n)
}

// typeParams returns the names of the type and const parameters declared by
// a type_parameters node. Lifetimes are skipped.
func (c *converter) typeParams(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if name := c.paramName(n.NamedChild(i)); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (c *converter) paramName(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "type_identifier":
		return c.text(n)
	case "constrained_type_parameter":
		return c.paramName(n.ChildByFieldName("left"))
	case "optional_type_parameter", "type_parameter", "const_parameter":
		if name := n.ChildByFieldName("name"); name != nil {
			if name.Type() == "identifier" {
				return c.text(name)
			}
			return c.paramName(name)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if child := n.NamedChild(i); child.Type() == "type_identifier" {
				return c.text(child)
			}
		}
	}
	return ""
}

func hasChildOfType(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == typ {
			return true
		}
	}
	return false
}
