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
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for alias index operations.
var (
	tracer = otel.Tracer("aliasindex.index")
	meter  = otel.Meter("aliasindex.index")
)

// Query outcomes used as metric attributes.
const (
	outcomeFound  = "found"
	outcomeEmpty  = "empty"
	outcomeCutoff = "cutoff"
	outcomeError  = "error"
)

// Metrics for index operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	occurrencesTotal metric.Int64Counter
	candidateCount   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// cutoffTotal counts queries abandoned by the cutoff heuristic. A steadily
// climbing value points at a crate that declares families of look-alike
// aliases.
var cutoffTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "aliasindex_query_cutoff_total",
	Help: "Candidate queries that exceeded the cutoff and returned inconclusive",
})

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"aliasindex_operation_duration_seconds",
			metric.WithDescription("Duration of alias index operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"aliasindex_operation_total",
			metric.WithDescription("Total number of alias index operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		occurrencesTotal, err = meter.Int64Counter(
			"aliasindex_occurrences_written_total",
			metric.WithDescription("Fingerprint occurrences written by the build step"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		candidateCount, err = meter.Int64Histogram(
			"aliasindex_query_raw_candidates",
			metric.WithDescription("Raw in-scope candidates per fingerprint lookup"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for an index operation.
func startOperationSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "AliasIndex."+operation,
		trace.WithAttributes(
			attribute.String("aliasindex.operation", operation),
		),
	)
}

// setQuerySpanResult sets the result attributes on a query span.
func setQuerySpanResult(span trace.Span, fp string, raw int, outcome string) {
	span.SetAttributes(
		attribute.String("aliasindex.fingerprint", fp),
		attribute.Int("aliasindex.raw_candidates", raw),
		attribute.String("aliasindex.outcome", outcome),
	)
}

// recordOperationMetrics records metrics for an index operation.
func recordOperationMetrics(ctx context.Context, operation string, duration time.Duration, outcome string) {
	if outcome == outcomeCutoff {
		cutoffTotal.Inc()
	}

	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)
}

// recordOccurrences records the number of occurrences written for a unit.
func recordOccurrences(ctx context.Context, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	occurrencesTotal.Add(ctx, int64(count))
}

// recordRawCandidates records the raw candidate count of one lookup.
func recordRawCandidates(ctx context.Context, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	candidateCount.Record(ctx, int64(count))
}
