// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitcli

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("gitrollback.gitcli")

var (
	gitOpDuration metric.Float64Histogram
	gitOpErrors   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled gates all recording.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether git operation metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics creates the instruments on first use.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		gitOpDuration, err = meter.Float64Histogram(
			"snapshot_git_operation_duration_seconds",
			metric.WithDescription("Duration of git subprocess invocations in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		gitOpErrors, err = meter.Int64Counter(
			"snapshot_git_operation_errors_total",
			metric.WithDescription("Total number of git invocations that exited non-zero"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordGitOp records one git invocation.
func recordGitOp(ctx context.Context, operation string, duration time.Duration, err error) {
	if !metricsEnabled.Load() {
		return
	}
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", operation))
	gitOpDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		gitOpErrors.Add(ctx, 1, attrs)
	}
}
