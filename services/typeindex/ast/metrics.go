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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for alias extraction.
var (
	tracer = otel.Tracer("aliasindex.ast")
	meter  = otel.Meter("aliasindex.ast")
)

var (
	parseLatency     metric.Float64Histogram
	parseTotal       metric.Int64Counter
	aliasesExtracted metric.Int64Histogram
	parseErrors      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"aliasindex_parse_duration_seconds",
			metric.WithDescription("Duration of Rust alias extraction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"aliasindex_parse_total",
			metric.WithDescription("Total number of parsed units"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		aliasesExtracted, err = meter.Int64Histogram(
			"aliasindex_aliases_extracted",
			metric.WithDescription("Number of alias declarations extracted per unit"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseErrors, err = meter.Int64Counter(
			"aliasindex_parse_errors_total",
			metric.WithDescription("Total number of failed parses"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordParseMetrics(ctx context.Context, duration time.Duration, aliasCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)

	if success {
		aliasesExtracted.Record(ctx, int64(aliasCount))
	} else {
		parseErrors.Add(ctx, 1)
	}
}

func startParseSpan(ctx context.Context, unit string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "RustParser.Parse",
		trace.WithAttributes(
			attribute.String("ast.unit", unit),
			attribute.Int("ast.content_size", contentSize),
		),
	)
}

func setParseSpanResult(span trace.Span, aliasCount, errorCount int) {
	span.SetAttributes(
		attribute.Int("ast.alias_count", aliasCount),
		attribute.Int("ast.error_count", errorCount),
	)
}
