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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the alias index routes under rg.
//
// Endpoints:
//
//	GET  /v1/aliasindex/health     - Health check
//	POST /v1/aliasindex/candidates - Candidate aliases for a type
//	POST /v1/aliasindex/reindex    - Reindex a path or the whole workspace
//	GET  /v1/aliasindex/stats      - Store and scope statistics
//
// Example:
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, api.NewHandlers(ix, logger))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	aliasindex := rg.Group("/aliasindex")
	{
		aliasindex.GET("/health", handlers.HandleHealth)
		aliasindex.POST("/candidates", handlers.HandleCandidates)
		aliasindex.POST("/reindex", handlers.HandleReindex)
		aliasindex.GET("/stats", handlers.HandleStats)
	}
}

// NewRouter builds the engine: recovery, tracing, request logging, the
// /v1 routes and, when metrics is non-nil, GET /metrics.
func NewRouter(handlers *Handlers, serviceName string, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestLogger(handlers.logger))

	RegisterRoutes(router.Group("/v1"), handlers)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("request_id", c.Writer.Header().Get("X-Request-ID")))
	}
}
