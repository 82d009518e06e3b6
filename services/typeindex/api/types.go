// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/aliasindex/services/typeindex/index"
	"github.com/AleutianAI/aliasindex/services/typeindex/indexer"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// Scope names accepted by CandidatesRequest.Scope.
const (
	ScopeWorkspace = "workspace"
	ScopeAll       = "all"
)

// CandidatesRequest is the body of POST /v1/aliasindex/candidates.
type CandidatesRequest struct {
	// Type is a Rust type expression, e.g. "Vec<i32>" or "&'static str".
	Type string `json:"type" binding:"required,max=4096"`

	// AcceptLimit stops the lookup after this many candidates. Zero means
	// no limit.
	AcceptLimit int `json:"accept_limit" binding:"gte=0,lte=10000"`

	// Scope is "workspace" (the indexed units, default) or "all" (every
	// unit in the store).
	Scope string `json:"scope" binding:"omitempty,oneof=workspace all"`
}

// CandidatesResponse is the answer to a candidates request.
type CandidatesResponse struct {
	// Type is the parsed query type, normalized.
	Type string `json:"type"`

	// Fingerprints are the keys the query was looked up under.
	Fingerprints []string `json:"fingerprints"`

	// Found is false when the answer is inconclusive and the caller must
	// fall back to checking every alias.
	Found bool `json:"found"`

	// RawCount is the number of in-scope declarations before filtering.
	RawCount int `json:"raw_count"`

	// Cutoff is the raw count above which lookups are inconclusive.
	Cutoff int `json:"cutoff"`

	// Candidates are the accepted free-standing aliases.
	Candidates []typeexpr.AliasDecl `json:"candidates"`
}

// ReindexRequest is the body of POST /v1/aliasindex/reindex. An empty body
// or empty Path reindexes the whole workspace.
type ReindexRequest struct {
	Path string `json:"path" binding:"max=4096"`
}

// ReindexResponse reports the run.
type ReindexResponse struct {
	indexer.RunStats
}

// StatsResponse is the body of GET /v1/aliasindex/stats.
type StatsResponse struct {
	Root          string           `json:"root"`
	Store         index.StoreStats `json:"store"`
	ScopeUnits    int              `json:"scope_units"`
	Cutoff        int              `json:"cutoff"`
	IndexVersion  int              `json:"index_version"`
	SchemeVersion int              `json:"scheme_version"`
}

// HealthResponse is the body of GET /v1/aliasindex/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}
