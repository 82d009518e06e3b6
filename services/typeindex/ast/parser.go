// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts type alias declarations from Rust source with
// tree-sitter.
//
// The extractor only reads syntax: it records each `type` item with its
// generic parameters, its underlying type as a TypeExpr and the kind of
// item that owns it. Name resolution is left to the caller.
package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// File size constants for input validation.
const (
	// DefaultMaxFileSize is the maximum file size the parser will accept (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold at which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024
)

// ParseResult is everything the extractor found in one unit.
type ParseResult struct {
	// Unit is the workspace-relative slash path of the source file.
	Unit string

	// Hash is the hex SHA-256 of the content, used for staleness checks.
	Hash string

	// Aliases are the alias declarations in source order.
	Aliases []typeexpr.AliasDecl

	// Errors holds non-fatal problems (syntax errors, unreadable types).
	Errors []string

	// ParsedAtMilli is the Unix time in milliseconds of the parse.
	ParsedAtMilli int64
}

// RustParserOption configures a RustParser.
type RustParserOption func(*RustParser)

// WithMaxFileSize sets the maximum file size the parser will accept.
// Non-positive values are ignored.
func WithMaxFileSize(bytes int64) RustParserOption {
	return func(p *RustParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithParserLogger sets the logger used for large-file warnings.
func WithParserLogger(logger *slog.Logger) RustParserOption {
	return func(p *RustParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// RustParser extracts alias declarations from Rust source files.
//
// Thread Safety:
//
//	RustParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser.
type RustParser struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewRustParser creates a RustParser with the given options.
func NewRustParser(opts ...RustParserOption) *RustParser {
	p := &RustParser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extensions returns the file extensions this parser handles.
func (p *RustParser) Extensions() []string {
	return []string{".rs"}
}

// Parse extracts the alias declarations of one Rust source file.
//
// Description:
//
//	Parses content with tree-sitter and walks every item, tagging each
//	`type` declaration with its owner: Free at module level (including
//	inline modules, extern blocks and function bodies), Trait inside a
//	trait body, Impl inside an impl body. Bodiless associated types
//	(`type Item;`) are recorded with a nil Type. A declaration whose type
//	cannot be read also gets a nil Type and an entry in Errors.
//
// Inputs:
//
//	ctx     - Context for cancellation. Checked before and after parsing.
//	content - Raw source bytes. Must be valid UTF-8.
//	unit    - Workspace-relative slash path; becomes AliasDecl.Unit.
//
// Outputs:
//
//	*ParseResult - Never nil on success. Partial for files with syntax errors.
//	error        - ErrFileTooLarge, ErrInvalidContent, ErrParseFailed or a
//	               context error.
//
// Thread Safety: This method is safe for concurrent use.
func (p *RustParser) Parse(ctx context.Context, content []byte, unit string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, unit, len(content))
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}
	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("unit", unit),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	hash := sha256.Sum256(content)

	tree, err := parseRust(ctx, content)
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, err
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	result := &ParseResult{
		Unit:          unit,
		Hash:          hex.EncodeToString(hash[:]),
		ParsedAtMilli: time.Now().UnixMilli(),
	}

	root := tree.RootNode()
	if root.HasError() {
		result.Errors = append(result.Errors, "source contains syntax errors")
	}

	x := &extractor{conv: converter{src: content}, unit: unit, result: result}
	x.walk(root, typeexpr.OwnerFree)

	setParseSpanResult(span, len(result.Aliases), len(result.Errors))
	recordParseMetrics(ctx, time.Since(start), len(result.Aliases), true)
	return result, nil
}

// ParseTypeExpr parses a standalone Rust type such as "Vec<i32>" or
// "&'static str".
//
// The placeholders "{integer}" and "{float}" stand for the type of an
// unsuffixed numeric literal.
//
// Outputs:
//
//	*typeexpr.TypeExpr - The parsed type.
//	error              - Wraps ErrNoType when src is empty, is not a single
//	                     type, or contains syntax errors.
func ParseTypeExpr(ctx context.Context, src string) (*typeexpr.TypeExpr, error) {
	src = strings.TrimSpace(src)
	switch src {
	case "":
		return nil, fmt.Errorf("%w: empty input", ErrNoType)
	case "{integer}":
		return typeexpr.InferInt(), nil
	case "{float}":
		return typeexpr.InferFloat(), nil
	}
	if strings.ContainsAny(src, ";{}") {
		return nil, fmt.Errorf("%w: %q", ErrNoType, src)
	}

	content := []byte("type __Query = " + src + ";")
	tree, err := parseRust(ctx, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() || root.NamedChildCount() != 1 || root.NamedChild(0).Type() != "type_item" {
		return nil, fmt.Errorf("%w: %q", ErrNoType, src)
	}

	conv := converter{src: content}
	expr := conv.typeOf(root.NamedChild(0).ChildByFieldName("type"), 0)
	if expr == nil {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrNoType, src)
	}
	return expr, nil
}

// parseRust runs tree-sitter with a fresh parser.
func parseRust(ctx context.Context, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("%w: tree-sitter: %w", ErrParseFailed, err)
	}
	if tree == nil || tree.RootNode() == nil {
		return nil, fmt.Errorf("%w: no tree", ErrParseFailed)
	}
	return tree, nil
}

type extractor struct {
	conv   converter
	unit   string
	result *ParseResult
}

// walk visits n's named children with owner as the enclosing context.
func (x *extractor) walk(n *sitter.Node, owner typeexpr.Owner) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "type_item":
			x.emit(child, owner, child.ChildByFieldName("type"))
		case "associated_type":
			x.emit(child, owner, nil)
		case "trait_item":
			x.walkBody(child, typeexpr.OwnerTrait)
		case "impl_item":
			x.walkBody(child, typeexpr.OwnerImpl)
		case "mod_item", "foreign_mod_item", "function_item":
			x.walkBody(child, typeexpr.OwnerFree)
		default:
			if child.NamedChildCount() > 0 {
				x.walk(child, owner)
			}
		}
	}
}

func (x *extractor) walkBody(n *sitter.Node, owner typeexpr.Owner) {
	if body := n.ChildByFieldName("body"); body != nil {
		x.walk(body, owner)
	}
}

func (x *extractor) emit(n *sitter.Node, owner typeexpr.Owner, typeNode *sitter.Node) {
	line := int(n.StartPoint().Row) + 1
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil || nameNode.IsMissing() {
		x.fail(line, "type alias without a name")
		return
	}

	decl := typeexpr.AliasDecl{
		Name:      x.conv.text(nameNode),
		Unit:      x.unit,
		Params:    x.conv.typeParams(n.ChildByFieldName("type_parameters")),
		Owner:     owner,
		Line:      line,
		StartByte: int(n.StartByte()),
	}
	if typeNode != nil {
		decl.Type = x.conv.typeOf(typeNode, 0)
		if decl.Type == nil {
			x.fail(line, fmt.Sprintf("cannot read the type of %s", decl.Name))
		}
	}
	x.result.Aliases = append(x.result.Aliases, decl)
}

func (x *extractor) fail(line int, msg string) {
	err := &DeclError{Unit: x.unit, Line: line, Message: msg}
	x.result.Errors = append(x.result.Errors, err.Error())
}
