// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rollback restores a target to a historical snapshot.
//
// # Description
//
// A rollback is a fixed sequence of states:
//
//	Idle → ResourceUnloading → SelectorResolving → AuditBranching →
//	TreeResetting → TreeRestoring → ResourceReloading → Done
//
// Any step may move the rollback to Failed, which aborts the remaining
// steps. Before the tree is reset an audit branch is created at the
// current tip so the pre-rollback history stays reachable.
//
// The host application participates through a Resource: it is asked to
// detach the live data before anything changes and to reattach it once
// the restored files are in place.
package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/selector"
)

var (
	// ErrResourceBusy indicates the host refused to detach the resource
	// and force was not set.
	ErrResourceBusy = errors.New("resource is busy")

	// ErrNoSuchRevision indicates the selector did not resolve to a commit.
	ErrNoSuchRevision = errors.New("no such revision")
)

// State is a position in the rollback state machine.
type State string

const (
	StateIdle              State = "idle"
	StateResourceUnloading State = "resource_unloading"
	StateSelectorResolving State = "selector_resolving"
	StateAuditBranching    State = "audit_branching"
	StateTreeResetting     State = "tree_resetting"
	StateTreeRestoring     State = "tree_restoring"
	StateResourceReloading State = "resource_reloading"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Terminal reports whether the state ends a rollback.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Error is a rollback failure annotated with the state it happened in.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rollback failed during %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resource is the host-side hook around a rollback.
//
// Detach returns false when the host refuses, for example because the
// world is the one players are standing in. Reattach is called after the
// restored files are in place, and best-effort after a failure once
// Detach has run.
type Resource interface {
	Detach(ctx context.Context, force bool) (bool, error)
	Reattach(ctx context.Context) error
}

// ResourceFuncs adapts two callbacks to Resource. Nil callbacks succeed.
type ResourceFuncs struct {
	DetachFunc   func(ctx context.Context, force bool) (bool, error)
	ReattachFunc func(ctx context.Context) error
}

func (r ResourceFuncs) Detach(ctx context.Context, force bool) (bool, error) {
	if r.DetachFunc == nil {
		return true, nil
	}
	return r.DetachFunc(ctx, force)
}

func (r ResourceFuncs) Reattach(ctx context.Context) error {
	if r.ReattachFunc == nil {
		return nil
	}
	return r.ReattachFunc(ctx)
}

// Repository is the subset of *gitcli.Repository a rollback drives.
type Repository interface {
	selector.History
	Root() string
	GitDir() string
	PrimaryBranch() string
	Head(ctx context.Context) (string, bool, error)
	Branches(ctx context.Context) ([]string, error)
	CreateBranch(ctx context.Context, name string, checkout bool) error
	Reset(ctx context.Context, rev string) error
	CheckoutFile(ctx context.Context, rev, relPath string) error
}
