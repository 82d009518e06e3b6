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
	"errors"
	"fmt"
)

// Sentinel errors for common parse failure conditions.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrInvalidContent indicates that the provided content is not valid
	// UTF-8 and cannot be processed.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge is returned when input content exceeds the maximum
	// file size.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrNoType is returned by ParseTypeExpr when the input is not exactly
	// one well-formed type expression.
	ErrNoType = errors.New("not a type expression")

	// ErrParseFailed indicates that tree-sitter produced no tree at all.
	ErrParseFailed = errors.New("parse failed")
)

// DeclError locates a declaration the extractor could only partially read.
//
// DeclErrors are collected in ParseResult.Errors; they never fail a parse.
type DeclError struct {
	// Unit is the compilation unit being parsed.
	Unit string

	// Line is the 1-indexed line of the declaration.
	Line int

	// Message describes the problem.
	Message string
}

// Error returns "unit:line: message".
func (e *DeclError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Unit, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Unit, e.Message)
}
