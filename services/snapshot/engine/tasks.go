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
	"fmt"
	"time"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/rollback"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/selector"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/treesync"
)

// Task kinds as recorded in scheduler statuses.
const (
	TaskLoad     = "load"
	TaskSnapshot = "snapshot"
	TaskRollback = "rollback"
)

// firstSaveMessage labels the commit made when a repository is created.
const firstSaveMessage = "First Save"

// SnapshotMessage returns the commit message for a snapshot of name taken
// at at.
func SnapshotMessage(name string, at time.Time) string {
	return name + " " + at.Format(selector.TimestampLayout)
}

// stage copies t's live data into repo and stages what was copied.
func (e *Engine) stage(ctx context.Context, repo *gitcli.Repository, t Target) (treesync.Result, error) {
	return treesync.Sync(ctx, t.Source(), repo.Root(), repo, treesync.Options{Logger: e.cfg.Logger})
}

// =============================================================================
// load
// =============================================================================

type loadTask struct {
	e      *Engine
	target Target
	err    error
}

func (l *loadTask) Kind() string   { return TaskLoad }
func (l *loadTask) Target() string { return l.target.RepoPath }

func (l *loadTask) Run(ctx context.Context) (detail string, err error) {
	defer func() { l.err = err }()
	err = l.e.withRepoLock(ctx, l.target, "load "+l.target.String(), func() error {
		repo, fresh, err := l.e.ensureRepo(ctx, l.target)
		if err != nil {
			return err
		}
		res, err := l.e.stage(ctx, repo, l.target)
		if err != nil && !(errors.Is(err, treesync.ErrSourceNotFound) && l.target.File != "") {
			return err
		}
		detail = fmt.Sprintf("staged %d files", len(res.Files))
		if !fresh {
			return nil
		}
		if err := repo.AddAll(ctx); err != nil {
			return err
		}
		changed, err := repo.HasChanges(ctx)
		if err != nil || !changed {
			detail = "initialized empty repository"
			return err
		}
		if err := repo.Commit(ctx, firstSaveMessage); err != nil {
			return err
		}
		detail = "initialized with first save"
		return nil
	})
	return detail, err
}

// =============================================================================
// snapshot
// =============================================================================

type snapshotTask struct {
	e      *Engine
	target Target
	at     time.Time
	err    error
}

func (s *snapshotTask) Kind() string   { return TaskSnapshot }
func (s *snapshotTask) Target() string { return s.target.RepoPath }

func (s *snapshotTask) Run(ctx context.Context) (detail string, err error) {
	defer func() { s.err = err }()

	if d := s.e.cfg.SaveDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	err = s.e.withRepoLock(ctx, s.target, "snapshot "+s.target.String(), func() error {
		repo, _, err := s.e.ensureRepo(ctx, s.target)
		if err != nil {
			return err
		}
		if _, err := s.e.stage(ctx, repo, s.target); err != nil {
			return err
		}
		if err := repo.AddAll(ctx); err != nil {
			return err
		}
		changed, err := repo.HasChanges(ctx)
		if err != nil {
			return err
		}
		if !changed {
			detail = "no changes"
			return nil
		}
		message := SnapshotMessage(s.target.Name, s.at)
		if err := repo.Commit(ctx, message); err != nil {
			return err
		}
		head, _, err := repo.Head(ctx)
		if err != nil {
			return err
		}
		detail = fmt.Sprintf("committed %s %q", head, message)
		return nil
	})
	return detail, err
}

// =============================================================================
// rollback
// =============================================================================

type rollbackTask struct {
	e      *Engine
	target Target
	sel    selector.Selector
	force  bool
	res    rollback.Resource

	result rollback.Result
	err    error
}

func (r *rollbackTask) Kind() string   { return TaskRollback }
func (r *rollbackTask) Target() string { return r.target.RepoPath }

func (r *rollbackTask) Run(ctx context.Context) (detail string, err error) {
	defer func() { r.err = err }()
	err = r.e.withRepoLock(ctx, r.target, "rollback "+r.target.String(), func() error {
		repo, err := r.e.existingRepo(r.target)
		if err != nil {
			return err
		}
		var scope rollback.Scope = rollback.TreeScope{LiveDir: r.target.LivePath}
		if r.target.File != "" {
			scope = rollback.FileScope{File: r.target.File, LiveDir: r.target.LivePath}
		}
		r.result, err = r.e.orch.Run(ctx, rollback.Request{
			Target:   r.target.String(),
			Repo:     repo,
			Scope:    scope,
			Selector: r.sel,
			Resource: r.res,
			Force:    r.force,
		})
		if err != nil {
			return err
		}
		detail = fmt.Sprintf("restored %s to %s (%d files, previous head kept on %s)",
			r.target, r.result.Revision, r.result.FilesRestored, r.result.AuditBranch)
		return nil
	})
	return detail, err
}
