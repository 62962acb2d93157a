// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/lock"
)

// FileResource detaches a target by taking the lock manager's lock on its
// live data.
//
// # Description
//
// Hosts that share the state directory take the same lock while they hold
// a world or player open (see Engine.Hold), so a rollback sees them as
// busy. Watchers skip locked targets, which keeps a rollback's restore from
// being snapshotted halfway through.
//
// # Thread Safety
//
// Safe for concurrent use.
type FileResource struct {
	locks  *lock.Manager
	path   string
	reason string

	mu   sync.Mutex
	held bool
}

// FileResource returns the lock-backed resource for t.
func (e *Engine) FileResource(t Target) *FileResource {
	return &FileResource{locks: e.locks, path: t.Source(), reason: "rollback " + t.String()}
}

// Detach returns false when the live data is already locked, whether by
// another process or by Hold in this one.
func (r *FileResource) Detach(ctx context.Context, force bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held {
		return true, nil
	}
	locked, _, err := r.locks.IsLocked(r.path)
	if err != nil {
		return false, err
	}
	if locked {
		return false, nil
	}
	err = r.locks.Acquire(r.path, r.reason)
	if errors.Is(err, lock.ErrLocked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.held = true
	return true, nil
}

// Reattach releases the lock taken by Detach, if any.
func (r *FileResource) Reattach(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.held {
		return nil
	}
	r.held = false
	return r.locks.Release(r.path)
}

// Hold marks t's live data as in use by this process until the returned
// release func is called. Rollbacks of t without force fail with
// rollback.ErrResourceBusy while it is held.
func (e *Engine) Hold(t Target, reason string) (release func() error, err error) {
	if err := e.locks.Acquire(t.Source(), reason); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = e.locks.Release(t.Source()) })
		return err
	}, nil
}
