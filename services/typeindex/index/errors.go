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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for alias index operations.
//
// A query that hits the cutoff is NOT an error; it is reported through
// Result.Found. These errors only describe broken inputs or a failing store.
var (
	// ErrInvalidDecl is returned when a declaration handed to the build step
	// fails validation or belongs to a different unit.
	ErrInvalidDecl = errors.New("invalid alias declaration")

	// ErrStoreRead wraps failures reading occurrences from a Store.
	ErrStoreRead = errors.New("index store read failed")

	// ErrStoreWrite wraps failures writing occurrences to a Store.
	ErrStoreWrite = errors.New("index store write failed")

	// ErrStoreClosed is returned by a Store after Close.
	ErrStoreClosed = errors.New("index store closed")
)

// BatchError aggregates the per-declaration failures of one unit.
//
// BuildUnit validates every declaration before producing any occurrence and
// reports all problems at once. Nothing from the unit is written when a
// BatchError is returned.
type BatchError struct {
	// Unit is the compilation unit being built.
	Unit string

	// Errors contains one entry per rejected declaration, prefixed with its
	// position (e.g. "decl[2]: ...").
	Errors []error
}

// Error returns a human-readable summary of the batch errors.
//
// Format depends on error count:
//   - 1 error: "<unit>: <error>"
//   - 2+ errors: count and first error with "and N more" suffix
func (e *BatchError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("%s: batch error with no errors", e.Unit)
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: %v", e.Unit, e.Errors[0])
	}
	return fmt.Sprintf("%s: %d errors: %v (and %d more)",
		e.Unit, len(e.Errors), e.Errors[0], len(e.Errors)-1)
}

// Unwrap returns the underlying errors for use with errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// ErrorList returns all errors, one per line.
func (e *BatchError) ErrorList() string {
	if len(e.Errors) == 0 {
		return ""
	}
	var b strings.Builder
	for i, err := range e.Errors {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}
