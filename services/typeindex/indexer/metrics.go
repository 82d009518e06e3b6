// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aliasindex.indexer")
	meter  = otel.Meter("aliasindex.indexer")
)

// Per-unit results used as metric attributes.
const (
	unitIndexed   = "indexed"
	unitUnchanged = "unchanged"
	unitRemoved   = "removed"
	unitFailed    = "failed"
)

var (
	runDuration metric.Float64Histogram
	unitTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"aliasindex_indexer_run_duration_seconds",
			metric.WithDescription("Duration of workspace indexing runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unitTotal, err = meter.Int64Counter(
			"aliasindex_indexer_units_total",
			metric.WithDescription("Units handled by the indexer, by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, runID, trigger string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Indexer.Run",
		trace.WithAttributes(
			attribute.String("indexer.run_id", runID),
			attribute.String("indexer.trigger", trigger),
		),
	)
}

func recordRun(ctx context.Context, duration time.Duration, stats RunStats) {
	if err := initMetrics(); err != nil {
		return
	}
	runDuration.Record(ctx, duration.Seconds())
	for result, n := range map[string]int{
		unitIndexed:   stats.Indexed,
		unitUnchanged: stats.Unchanged,
		unitRemoved:   stats.Removed,
		unitFailed:    stats.Failed,
	} {
		if n > 0 {
			unitTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("result", result)))
		}
	}
}
