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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jasonw4331/GitRollbacks/pkg/logging"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/selector"
)

// Config configures an Orchestrator.
type Config struct {
	// BranchPrefix names audit branches. Default: DefaultBranchPrefix.
	BranchPrefix string

	// Journal persists progress for crash recovery. Nil disables it.
	Journal *Journal

	// Tracer emits spans. Nil disables tracing.
	Tracer *Tracer

	Logger *slog.Logger
}

// Request describes one rollback.
type Request struct {
	// ID identifies the rollback in logs, spans and the journal. A uuid is
	// generated when empty.
	ID string

	// Target is a display label such as "world/survival".
	Target string

	Repo     Repository
	Scope    Scope
	Selector selector.Selector
	Resource Resource

	// Force proceeds even when the resource refuses to detach.
	Force bool
}

// Result describes a completed rollback.
type Result struct {
	ID            string
	Revision      string
	PreviousHead  string
	AuditBranch   string
	FilesRestored int
	Duration      time.Duration
}

// Orchestrator runs the rollback state machine.
//
// # Thread Safety
//
// Run is safe for concurrent use on different repositories. Callers must
// serialize rollbacks of one repository; the engine does so through its
// per-target scheduler queue.
type Orchestrator struct {
	prefix  string
	journal *Journal
	tracer  *Tracer
	logger  *slog.Logger
}

// New creates an Orchestrator.
func New(config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := config.BranchPrefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return &Orchestrator{
		prefix:  prefix,
		journal: config.Journal,
		tracer:  config.Tracer,
		logger:  logger.With("component", "rollback"),
	}
}

// Run executes req to completion.
//
// # Description
//
// Detaches the resource, resolves the selector, creates the audit branch
// at the current tip, resets the scope to the resolved revision, copies it
// into the live location and reattaches the resource. When the resource
// refuses to detach and Force is false nothing in the repository changes.
// A failure after detaching still reattaches the resource, best-effort.
//
// # Outputs
//
//   - Result: Populated as far as the rollback progressed.
//   - error: *Error naming the failing state. Matches ErrResourceBusy or
//     ErrNoSuchRevision where applicable.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	if req.Repo == nil || req.Scope == nil {
		return Result{}, &Error{State: StateIdle, Err: errors.New("repository and scope are required")}
	}
	if req.Resource == nil {
		req.Resource = ResourceFuncs{}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, req)

	x := &execution{
		o:       o,
		req:     req,
		state:   StateIdle,
		entered: start,
		logger: logging.LoggerWithTrace(ctx, o.logger).With(
			slog.String("rollback_id", req.ID),
			slog.String("target", req.Target),
			slog.String("repo", req.Repo.Root()),
		),
		entry: Entry{
			ID:         req.ID,
			Target:     req.Target,
			Repository: req.Repo.Root(),
			Selector:   req.Selector.String(),
			StartedAt:  start.UTC(),
		},
	}
	x.result.ID = req.ID

	err := x.run(ctx)
	x.result.Duration = time.Since(start)
	o.tracer.End(span, x.result, err)

	var failedIn State
	var rbErr *Error
	if errors.As(err, &rbErr) {
		failedIn = rbErr.State
	}
	recordRollback(ctx, req.Selector.Kind.String(), failedIn, x.result.Duration, x.result.FilesRestored)

	if err != nil {
		x.logger.Warn("rollback failed", slog.String("error", err.Error()))
		return x.result, err
	}
	x.logger.Info("rollback complete",
		slog.String("revision", x.result.Revision),
		slog.String("audit_branch", x.result.AuditBranch),
		slog.Int("files", x.result.FilesRestored),
		slog.Duration("duration", x.result.Duration))
	return x.result, nil
}

// execution carries the mutable state of one Run.
type execution struct {
	o       *Orchestrator
	req     Request
	state   State
	entered time.Time
	entry   Entry
	result  Result
	logger  *slog.Logger
}

func (x *execution) enter(ctx context.Context, next State) {
	now := time.Now()
	x.o.tracer.RecordStateTransition(ctx, x.req.ID, x.state, next, now.Sub(x.entered))
	x.state = next
	x.entered = now

	if x.o.journal == nil {
		return
	}
	x.entry.State = next
	x.entry.Revision = x.result.Revision
	x.entry.AuditBranch = x.result.AuditBranch
	x.entry.UpdatedAt = now.UTC()
	if err := x.o.journal.Record(x.entry); err != nil {
		x.logger.Warn("journaling rollback state failed", slog.String("state", string(next)), slog.String("error", err.Error()))
	}
}

// fail wraps err with the current state and moves to Failed.
func (x *execution) fail(ctx context.Context, err error) error {
	wrapped := &Error{State: x.state, Err: err}
	x.enter(ctx, StateFailed)
	return wrapped
}

func (x *execution) run(ctx context.Context) (err error) {
	req := x.req

	x.enter(ctx, StateResourceUnloading)
	ok, derr := req.Resource.Detach(ctx, req.Force)
	if derr != nil {
		return x.fail(ctx, fmt.Errorf("detaching resource: %w", derr))
	}
	if !ok && !req.Force {
		return x.fail(ctx, ErrResourceBusy)
	}
	if !ok {
		x.logger.Warn("resource refused to detach, forcing rollback")
	}

	detached := true
	defer func() {
		if err == nil || !detached {
			return
		}
		if rerr := req.Resource.Reattach(ctx); rerr != nil {
			x.logger.Error("reattaching resource after failed rollback", slog.String("error", rerr.Error()))
		}
	}()

	x.enter(ctx, StateSelectorResolving)
	resolver := selector.Resolver{History: req.Repo, Path: req.Scope.Path()}
	rev, found, rerr := resolver.Resolve(ctx, req.Selector)
	if rerr != nil {
		if IsLookupFailure(rerr) {
			return x.fail(ctx, fmt.Errorf("%w: %s: %w", ErrNoSuchRevision, req.Selector, rerr))
		}
		return x.fail(ctx, fmt.Errorf("resolving %s: %w", req.Selector, rerr))
	}
	if !found {
		return x.fail(ctx, fmt.Errorf("%w: %s", ErrNoSuchRevision, req.Selector))
	}
	x.result.Revision = rev

	head, _, herr := req.Repo.Head(ctx)
	if herr != nil {
		return x.fail(ctx, fmt.Errorf("reading current tip: %w", herr))
	}
	x.result.PreviousHead = head

	x.enter(ctx, StateAuditBranching)
	branch, berr := NextAuditBranch(ctx, req.Repo, x.o.prefix)
	if berr != nil {
		return x.fail(ctx, berr)
	}
	if berr := req.Repo.CreateBranch(ctx, branch, false); berr != nil {
		return x.fail(ctx, fmt.Errorf("creating audit branch %s: %w", branch, berr))
	}
	x.result.AuditBranch = branch

	x.enter(ctx, StateTreeResetting)
	if serr := req.Scope.Reset(ctx, req.Repo, rev); serr != nil {
		return x.fail(ctx, fmt.Errorf("resetting to %s: %w", rev, serr))
	}

	x.enter(ctx, StateTreeRestoring)
	synced, serr := req.Scope.Restore(ctx, req.Repo)
	if serr != nil {
		return x.fail(ctx, fmt.Errorf("restoring live files: %w", serr))
	}
	x.result.FilesRestored = len(synced.Files)

	x.enter(ctx, StateResourceReloading)
	detached = false
	if aerr := req.Resource.Reattach(ctx); aerr != nil {
		return x.fail(ctx, fmt.Errorf("reattaching resource: %w", aerr))
	}

	x.enter(ctx, StateDone)
	return nil
}

// IsLookupFailure reports errors meaning "the selector names nothing",
// as opposed to git or I/O failures.
func IsLookupFailure(err error) bool {
	return errors.Is(err, selector.ErrNoMatchingCommit) ||
		errors.Is(err, selector.ErrInvalidSelector) ||
		errors.Is(err, gitcli.ErrInvalidRevision)
}
