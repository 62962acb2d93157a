// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("gitrollback.rollback")

var (
	rollbackTotal    metric.Int64Counter
	rollbackDuration metric.Float64Histogram
	filesRestored    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether rollback metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		rollbackTotal, err = meter.Int64Counter(
			"rollback_total",
			metric.WithDescription("Total rollbacks by selector kind, outcome and failing state"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackDuration, err = meter.Float64Histogram(
			"rollback_duration_seconds",
			metric.WithDescription("Duration of rollbacks in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesRestored, err = meter.Int64Histogram(
			"rollback_files_restored",
			metric.WithDescription("Files copied back to the live location per rollback"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRollback records one finished rollback. failedIn is empty on
// success.
func recordRollback(ctx context.Context, kind string, failedIn State, duration time.Duration, files int) {
	if !metricsEnabled.Load() {
		return
	}
	if initMetrics() != nil {
		return
	}

	result := "success"
	if failedIn != "" {
		result = "error"
	}
	rollbackTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("selector_kind", kind),
		attribute.String("result", result),
		attribute.String("failed_state", string(failedIn)),
	))
	rollbackDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("result", result)))
	if failedIn == "" {
		filesRestored.Record(ctx, int64(files))
	}
}
