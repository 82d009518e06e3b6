// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the alias index over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/aliasindex/services/typeindex/ast"
	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	"github.com/AleutianAI/aliasindex/services/typeindex/index"
	"github.com/AleutianAI/aliasindex/services/typeindex/indexer"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.3.0"

// Handlers contains the HTTP handlers for the alias index.
type Handlers struct {
	ix     *indexer.Indexer
	logger *slog.Logger
}

// NewHandlers creates handlers serving ix. A nil logger uses slog.Default().
func NewHandlers(ix *indexer.Indexer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{ix: ix, logger: logger}
}

// HandleHealth handles GET /v1/aliasindex/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleCandidates handles POST /v1/aliasindex/candidates.
//
// Description:
//
//	Parses the requested type, computes its fingerprints and looks up the
//	free-standing aliases that might expand to it. An inconclusive lookup
//	is a 200 with found=false, not an error.
//
// Request Body:
//
//	CandidatesRequest
//
// Response:
//
//	200 OK: CandidatesResponse
//	400 Bad Request: Invalid body or unparseable type
//	500 Internal Server Error: Store failure
func (h *Handlers) HandleCandidates(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleCandidates"))

	var req CandidatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	resp, err := Candidates(c.Request.Context(), h.ix, req)
	if err != nil {
		if errors.Is(err, ast.ErrNoType) {
			logger.Debug("unparseable query type", slog.String("type", req.Type), slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_TYPE"})
			return
		}
		h.writeError(c, logger, "candidate lookup failed", err)
		return
	}

	logger.Debug("candidates",
		slog.String("type", resp.Type),
		slog.Bool("found", resp.Found),
		slog.Int("raw_count", resp.RawCount),
		slog.Int("candidates", len(resp.Candidates)))
	c.JSON(http.StatusOK, resp)
}

// Candidates answers a candidates request against ix. The HTTP handler and
// the query command share it.
//
// Outputs:
//
//	CandidatesResponse - The lookup result. Candidates is never nil.
//	error              - Wraps ast.ErrNoType for an unparseable type, or
//	                     index.ErrStoreRead for store failures.
func Candidates(ctx context.Context, ix *indexer.Indexer, req CandidatesRequest) (CandidatesResponse, error) {
	expr, err := ast.ParseTypeExpr(ctx, req.Type)
	if err != nil {
		return CandidatesResponse{}, err
	}

	var scope index.Scope = ix.Scope()
	if req.Scope == ScopeAll {
		scope = index.AllUnits
	}

	idx := ix.Index()
	res, err := idx.FindPotentialAliases(ctx, scope, expr, acceptLimit(req.AcceptLimit))
	if err != nil {
		return CandidatesResponse{}, err
	}

	fps := fingerprint.OfQuery(expr)
	resp := CandidatesResponse{
		Type:         expr.String(),
		Fingerprints: make([]string, len(fps)),
		Found:        res.Found,
		RawCount:     res.RawCount,
		Cutoff:       idx.Cutoff(),
		Candidates:   res.Candidates,
	}
	for i, fp := range fps {
		resp.Fingerprints[i] = fp.String()
	}
	if resp.Candidates == nil {
		resp.Candidates = []typeexpr.AliasDecl{}
	}
	return resp, nil
}

// HandleReindex handles POST /v1/aliasindex/reindex.
//
// Response:
//
//	200 OK: ReindexResponse
//	400 Bad Request: Path outside the workspace or not a source unit
//	500 Internal Server Error: Walk or store failure
func (h *Handlers) HandleReindex(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleReindex"))

	var req ReindexRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	stats, err := h.ix.Reindex(c.Request.Context(), req.Path)
	if err != nil {
		h.writeError(c, logger, "reindex failed", err)
		return
	}
	c.JSON(http.StatusOK, ReindexResponse{RunStats: stats})
}

// HandleStats handles GET /v1/aliasindex/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleStats"))

	idx := h.ix.Index()
	stats, err := idx.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, logger, "stats failed", err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{
		Root:          h.ix.Root(),
		Store:         stats,
		ScopeUnits:    len(h.ix.Scope()),
		Cutoff:        idx.Cutoff(),
		IndexVersion:  index.Version(),
		SchemeVersion: fingerprint.SchemeVersion,
	})
}

// writeError maps service errors to status codes.
func (h *Handlers) writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, indexer.ErrOutsideRoot):
		status, code = http.StatusBadRequest, "OUTSIDE_ROOT"
	case errors.Is(err, indexer.ErrNotSource):
		status, code = http.StatusBadRequest, "NOT_SOURCE"
	case errors.Is(err, index.ErrStoreClosed):
		status, code = http.StatusServiceUnavailable, "STORE_CLOSED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "CANCELED"
	case errors.Is(err, index.ErrStoreRead), errors.Is(err, index.ErrStoreWrite):
		code = "STORE_ERROR"
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
	} else {
		logger.Warn(msg, slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// acceptLimit accepts every candidate and stops after n. Zero means no
// limit.
func acceptLimit(n int) index.AcceptFunc {
	if n <= 0 {
		return index.AcceptAll
	}
	taken := 0
	return func(typeexpr.AliasDecl) (bool, bool) {
		taken++
		return true, taken >= n
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
