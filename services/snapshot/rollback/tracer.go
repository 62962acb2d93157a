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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "gitrollback.rollback"

// Tracer wraps OpenTelemetry spans for rollbacks. Disabled tracers hand
// out noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a Tracer using the global tracer provider.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// Start opens the span covering one rollback.
func (t *Tracer) Start(ctx context.Context, req Request) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "rollback.run",
		trace.WithAttributes(
			attribute.String("rollback.id", req.ID),
			attribute.String("rollback.target", req.Target),
			attribute.String("rollback.selector", req.Selector.String()),
			attribute.String("rollback.selector_kind", req.Selector.Kind.String()),
			attribute.Bool("rollback.force", req.Force),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// End closes the rollback span with its outcome.
func (t *Tracer) End(span trace.Span, result Result, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.String("rollback.revision", result.Revision),
		attribute.String("rollback.audit_branch", result.AuditBranch),
		attribute.Int("rollback.files_restored", result.FilesRestored),
	)
}

// RecordStateTransition adds a state_transition event to the active span.
func (t *Tracer) RecordStateTransition(ctx context.Context, id string, from, to State, inState time.Duration) {
	if t == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("state_transition",
			trace.WithAttributes(
				attribute.String("rollback.id", id),
				attribute.String("rollback.from_state", string(from)),
				attribute.String("rollback.to_state", string(to)),
				attribute.Int64("rollback.duration_in_state_ms", inState.Milliseconds()),
			),
		)
	}
	t.logger.DebugContext(ctx, "rollback state transition",
		slog.String("rollback_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Duration("duration", inState),
	)
}
