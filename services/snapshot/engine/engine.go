// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine snapshots and restores game data through git.
//
// # Description
//
// Each world lives in its own repository under <backup_root>/worlds/<name>;
// all player data files share one repository under <backup_root>/players.
// Snapshots copy the live data into the repository and commit it with a
// "<name> <YYYY-MM-DD HH:MM:SS>" message. Rollbacks restore a snapshot
// back into the live location through the rollback state machine.
//
// All mutating work runs as scheduler tasks keyed by repository path, so a
// repository only ever sees one task at a time from this process, and each
// task holds a file lock on its repository so other processes wait.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/lock"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/offsite"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/preview"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/rollback"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/scheduler"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/selector"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/storage/badger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownTarget indicates a world or player that is not configured.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrNoHistory indicates the target has no repository yet.
	ErrNoHistory = errors.New("target has no snapshot history")
)

// Engine owns the scheduler, lock manager and task store for one backup
// root.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Engine struct {
	cfg     Config
	runner  gitcli.Runner
	sched   *scheduler.Scheduler
	orch    *rollback.Orchestrator
	journal *rollback.Journal
	locks   *lock.Manager
	db      *badger.DB
	loads   singleflight.Group
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New validates config and opens the engine's state.
//
// # Description
//
// Verifies git is installed and recent enough (unless a Runner is
// injected), opens the task database under StateDir and marks tasks left
// unfinished by a previous process as failed, and logs rollbacks the
// journal shows were interrupted.
//
// # Outputs
//
//   - *Engine: Ready engine. Close it to drain queued tasks.
//   - error: Configuration, git availability or state directory failures.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.BackupRoot)
	if err != nil {
		return nil, err
	}
	cfg.BackupRoot = root
	logger := cfg.Logger.With("component", "engine")

	runner := cfg.Runner
	if runner == nil {
		version, err := gitcli.CheckAvailable(ctx, cfg.Git.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug("git available", "path", version.Path, "version", version.Semver)
		runner = gitcli.NewExecRunner(gitcli.RunnerConfig{
			GitPath:     version.Path,
			Timeout:     cfg.Git.Timeout,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
			Logger:      cfg.Logger,
		})
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory %s: %w", cfg.StateDir, err)
	}

	e := &Engine{cfg: cfg, runner: runner, logger: logger}

	e.locks, err = lock.NewManager(lock.Config{
		Dir:           filepath.Join(cfg.StateDir, "locks"),
		Owner:         fmt.Sprintf("gitrollback pid %d", os.Getpid()),
		CleanupOnInit: true,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	store := cfg.Store
	if store == nil {
		if cfg.InMemoryState {
			store = scheduler.NewMemoryStore()
		} else {
			e.db, err = badger.Open(badger.DefaultConfig(filepath.Join(cfg.StateDir, "tasks")))
			if err != nil {
				e.locks.Close()
				return nil, err
			}
			bs := scheduler.NewBadgerStore(e.db, cfg.TaskRetention)
			if n, err := bs.Recover(ctx); err != nil {
				logger.Warn("recovering task records failed", "error", err)
			} else if n > 0 {
				logger.Warn("marked tasks from a previous run as failed", "count", n)
			}
			store = bs
		}
	}

	e.journal, err = rollback.OpenJournal(filepath.Join(cfg.StateDir, "journal"))
	if err != nil {
		e.closeState()
		return nil, err
	}
	if interrupted, err := e.journal.Interrupted(); err == nil {
		for _, entry := range interrupted {
			logger.Warn("rollback was interrupted; re-run it with the same selector",
				"rollback_id", entry.ID,
				"target", entry.Target,
				"selector", entry.Selector,
				"state", string(entry.State))
		}
	}

	e.orch = rollback.New(rollback.Config{
		BranchPrefix: cfg.AuditPrefix,
		Journal:      e.journal,
		Tracer:       rollback.NewTracer(cfg.Logger, cfg.Tracing),
		Logger:       cfg.Logger,
	})
	e.sched = scheduler.New(scheduler.Config{
		Workers:     cfg.Workers,
		TaskTimeout: cfg.TaskTimeout,
		Store:       store,
		Logger:      cfg.Logger,
	})
	return e, nil
}

// DefaultWorld returns the configured default world name.
func (e *Engine) DefaultWorld() string {
	return e.cfg.DefaultWorld
}

// =============================================================================
// Resource lifecycle hooks
// =============================================================================

// OnResourceLoad prepares a target's repository when the host loads it.
//
// # Description
//
// Creates the repository if absent and stages the live data. A newly
// created repository gets a "First Save" commit. Concurrent loads of the
// same target share one execution.
func (e *Engine) OnResourceLoad(ctx context.Context, t Target) error {
	key := t.RepoPath + "\x00" + t.Source()
	_, err, _ := e.loads.Do(key, func() (any, error) {
		task := &loadTask{e: e, target: t}
		id, err := e.sched.Submit(ctx, task)
		if err != nil {
			return nil, err
		}
		if _, err := e.sched.Wait(ctx, id); err != nil {
			return nil, err
		}
		return nil, task.err
	})
	return err
}

// OnResourceSave snapshots t as of at.
//
// # Outputs
//
//   - string: Task id.
//   - error: Submission failures; with synchronous saves also the
//     snapshot's own error.
func (e *Engine) OnResourceSave(ctx context.Context, t Target, at time.Time) (string, error) {
	task := &snapshotTask{e: e, target: t, at: at}
	id, err := e.sched.Submit(ctx, task)
	if err != nil || e.cfg.AsyncSaves {
		return id, err
	}
	if _, err := e.sched.Wait(ctx, id); err != nil {
		return id, err
	}
	return id, task.err
}

// SnapshotAll snapshots every configured world concurrently and waits for
// all of them.
func (e *Engine) SnapshotAll(ctx context.Context, at time.Time) ([]string, error) {
	worlds := e.Worlds()
	ids := make([]string, len(worlds))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range worlds {
		g.Go(func() error {
			task := &snapshotTask{e: e, target: t, at: at}
			id, err := e.sched.Submit(gctx, task)
			if err != nil {
				return err
			}
			ids[i] = id
			if _, err := e.sched.Wait(gctx, id); err != nil {
				return err
			}
			if task.err != nil {
				return fmt.Errorf("%s: %w", t, task.err)
			}
			return nil
		})
	}
	return ids, g.Wait()
}

// Rollback queues a rollback of t to sel and returns its task id.
//
// # Description
//
// Returns as soon as the task is accepted; use Wait or Status for the
// outcome. A nil resource uses the engine's FileResource for t.
func (e *Engine) Rollback(ctx context.Context, t Target, sel selector.Selector, force bool, res rollback.Resource) (string, error) {
	if _, err := e.existingRepo(t); err != nil {
		return "", err
	}
	if res == nil {
		res = e.FileResource(t)
	}
	return e.sched.Submit(ctx, &rollbackTask{e: e, target: t, sel: sel, force: force, res: res})
}

// Status returns a task's status.
func (e *Engine) Status(ctx context.Context, id string) (scheduler.Status, error) {
	return e.sched.Status(ctx, id)
}

// Wait blocks until a task finishes.
func (e *Engine) Wait(ctx context.Context, id string) (scheduler.Status, error) {
	return e.sched.Wait(ctx, id)
}

// Tasks lists recorded tasks, newest first.
func (e *Engine) Tasks(ctx context.Context) ([]scheduler.Status, error) {
	return e.sched.List(ctx)
}

// Interrupted lists rollbacks a crash left unfinished.
func (e *Engine) Interrupted() ([]rollback.Entry, error) {
	return e.journal.Interrupted()
}

// =============================================================================
// Read-only queries
// =============================================================================

// Log returns up to n snapshots of t, newest first.
func (e *Engine) Log(ctx context.Context, t Target, n int) ([]gitcli.CommitData, error) {
	repo, err := e.existingRepo(t)
	if err != nil {
		return nil, err
	}
	if t.File != "" {
		return repo.Log(ctx, n, t.File)
	}
	return repo.Log(ctx, n)
}

// Preview summarizes what rolling t back to sel would change.
func (e *Engine) Preview(ctx context.Context, t Target, sel selector.Selector) (preview.Summary, error) {
	repo, err := e.existingRepo(t)
	if err != nil {
		return preview.Summary{}, err
	}
	rev, ok, err := selector.Resolver{History: repo, Path: t.File}.Resolve(ctx, sel)
	if err != nil {
		if rollback.IsLookupFailure(err) {
			return preview.Summary{}, fmt.Errorf("%w: %w", rollback.ErrNoSuchRevision, err)
		}
		return preview.Summary{}, fmt.Errorf("resolving %s: %w", sel, err)
	}
	if !ok {
		return preview.Summary{}, fmt.Errorf("%w: %s", rollback.ErrNoSuchRevision, sel)
	}
	head, _, err := repo.Head(ctx)
	if err != nil {
		return preview.Summary{}, err
	}

	var paths []string
	if t.File != "" {
		paths = append(paths, t.File)
	}
	text, err := repo.Diff(ctx, head, rev, paths...)
	if err != nil {
		return preview.Summary{}, err
	}
	return preview.Summarize(head, rev, text)
}

// Export bundles t's repository and uploads it.
func (e *Engine) Export(ctx context.Context, t Target, up offsite.Uploader, prefix string) (offsite.Receipt, error) {
	repo, err := e.existingRepo(t)
	if err != nil {
		return offsite.Receipt{}, err
	}
	key := offsite.Key(prefix, string(t.Kind), filepath.Base(t.RepoPath), time.Now())
	receipt, err := offsite.Export(ctx, repo, up, key)
	if err != nil {
		return offsite.Receipt{}, err
	}
	e.logger.Info("exported repository", "target", t.String(), "location", receipt.Location, "bytes", receipt.Bytes)
	return receipt, nil
}

// TargetBusy reports whether t's live data is detached by a rollback in
// this or another process.
func (e *Engine) TargetBusy(t Target) (bool, error) {
	locked, _, err := e.locks.IsLocked(t.Source())
	return locked, err
}

// Close stops accepting tasks, waits for queued tasks and releases state.
//
// State is released even when ctx ends before the queue drains. Tasks
// still running after that can no longer record their status.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		drainErr := e.sched.Close(ctx)
		if drainErr != nil {
			e.logger.Warn("closing with tasks still queued", "error", drainErr)
		}
		e.closeErr = errors.Join(drainErr, e.closeState())
	})
	return e.closeErr
}

func (e *Engine) closeState() error {
	var errs []error
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	errs = append(errs, e.locks.Close())
	return errors.Join(errs...)
}

// =============================================================================
// Repository helpers
// =============================================================================

func (e *Engine) repoOptions() []gitcli.Option {
	return []gitcli.Option{
		gitcli.WithRunner(e.runner),
		gitcli.WithPrimaryBranch(e.cfg.PrimaryBranch),
		gitcli.WithLogger(e.cfg.Logger),
	}
}

// existingRepo opens t's repository, failing with ErrNoHistory when it has
// never been created.
func (e *Engine) existingRepo(t Target) (*gitcli.Repository, error) {
	if _, err := os.Stat(filepath.Join(t.RepoPath, ".git")); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (%w)", ErrNoHistory, t, &gitcli.PathNotFoundError{Path: t.RepoPath})
		}
		return nil, err
	}
	return gitcli.Open(t.RepoPath, e.repoOptions()...)
}

// ensureRepo opens t's repository, creating it when absent. fresh reports
// creation.
func (e *Engine) ensureRepo(ctx context.Context, t Target) (repo *gitcli.Repository, fresh bool, err error) {
	repo, err = gitcli.Init(ctx, t.RepoPath, e.repoOptions()...)
	if err == nil {
		return repo, true, nil
	}
	if !errors.Is(err, gitcli.ErrAlreadyExists) {
		return nil, false, err
	}
	repo, err = gitcli.Open(t.RepoPath, e.repoOptions()...)
	return repo, false, err
}

// withRepoLock runs fn holding the cross-process lock on t's repository.
func (e *Engine) withRepoLock(ctx context.Context, t Target, reason string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockWait)
	defer cancel()
	if err := e.locks.AcquireWait(lockCtx, t.RepoPath, reason, 250*time.Millisecond); err != nil {
		return err
	}
	defer func() {
		if err := e.locks.Release(t.RepoPath); err != nil {
			e.logger.Warn("releasing repository lock failed", "repo", t.RepoPath, "error", err)
		}
	}()
	return fn()
}
