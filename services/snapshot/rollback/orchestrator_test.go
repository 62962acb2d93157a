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
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/selector"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/treesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func requireGit(t *testing.T) {
	t.Helper()
	if exec.Command("git", "--version").Run() != nil {
		t.Skip("git not available")
	}
}

type fixture struct {
	repo *gitcli.Repository
	live string
}

// newFixture creates a live directory and an initialized repository beside it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	requireGit(t)
	root := t.TempDir()
	runner := gitcli.NewExecRunner(gitcli.RunnerConfig{
		AuthorName:  "Rollback Test",
		AuthorEmail: "test@example.com",
		Timeout:     30 * time.Second,
	})
	repo, err := gitcli.Init(context.Background(), filepath.Join(root, "backups", "world"), gitcli.WithRunner(runner))
	require.NoError(t, err)
	live := filepath.Join(root, "live", "world")
	require.NoError(t, os.MkdirAll(live, 0o755))
	return &fixture{repo: repo, live: live}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.live, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.live, rel))
	require.NoError(t, err)
	return string(data)
}

// snapshot copies live into the repository and commits with message.
func (f *fixture) snapshot(t *testing.T, message string) string {
	t.Helper()
	ctx := context.Background()
	_, err := treesync.Sync(ctx, f.live, f.repo.Root(), f.repo, treesync.Options{})
	require.NoError(t, err)
	require.NoError(t, f.repo.AddAll(ctx))
	require.NoError(t, f.repo.Commit(ctx, message))
	head, ok, err := f.repo.Head(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	return head
}

// recordingResource counts calls and can refuse detaching.
type recordingResource struct {
	refuse      bool
	reattachErr error
	detached    int
	reattached  int
}

func (r *recordingResource) Detach(context.Context, bool) (bool, error) {
	r.detached++
	return !r.refuse, nil
}

func (r *recordingResource) Reattach(context.Context) error {
	r.reattached++
	return r.reattachErr
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *Journal) {
	t.Helper()
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)
	return New(Config{Journal: journal, Tracer: NewTracer(nil, true)}), journal
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_WorldByTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "level.dat", "v1")
	f.write(t, "region/r.0.0.mca", "region-v1")
	first := f.snapshot(t, "world 2024-01-01 00:00:00")

	f.write(t, "level.dat", "v2")
	f.write(t, "region/r.0.0.mca", "region-v2")
	second := f.snapshot(t, "world 2024-01-02 00:00:00")

	o, journal := newTestOrchestrator(t)
	res := &recordingResource{}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)

	result, err := o.Run(ctx, Request{
		Target:   "world/world",
		Repo:     f.repo,
		Scope:    TreeScope{LiveDir: f.live},
		Selector: selector.Timestamp(ts),
		Resource: res,
	})
	require.NoError(t, err)

	assert.Equal(t, first, result.Revision)
	assert.Equal(t, second, result.PreviousHead)
	assert.Equal(t, "Rollback1", result.AuditBranch)
	assert.Equal(t, 2, result.FilesRestored)
	assert.Equal(t, "v1", f.read(t, "level.dat"))
	assert.Equal(t, "region-v1", f.read(t, "region/r.0.0.mca"))
	assert.Equal(t, 1, res.detached)
	assert.Equal(t, 1, res.reattached)

	head, _, err := f.repo.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, head)

	audit, ok, err := f.repo.ResolveRevision(ctx, "Rollback1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, audit, "audit branch keeps the pre-rollback tip")

	interrupted, err := journal.Interrupted()
	require.NoError(t, err)
	assert.Empty(t, interrupted)
}

func TestRun_RefusedWithoutForceMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "level.dat", "v1")
	f.snapshot(t, "world 2024-01-01 00:00:00")
	f.write(t, "level.dat", "v2")
	tip := f.snapshot(t, "world 2024-01-02 00:00:00")

	branchesBefore, err := f.repo.Branches(ctx)
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t)
	res := &recordingResource{refuse: true}
	_, err = o.Run(ctx, Request{
		Repo:     f.repo,
		Scope:    TreeScope{LiveDir: f.live},
		Selector: selector.Offset(1),
		Resource: res,
	})

	require.ErrorIs(t, err, ErrResourceBusy)
	var rbErr *Error
	require.True(t, errors.As(err, &rbErr))
	assert.Equal(t, StateResourceUnloading, rbErr.State)

	branchesAfter, err := f.repo.Branches(ctx)
	require.NoError(t, err)
	assert.Equal(t, branchesBefore, branchesAfter)
	head, _, err := f.repo.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, tip, head)
	assert.Equal(t, "v2", f.read(t, "level.dat"))
	assert.Equal(t, 0, res.reattached)
	assert.NoFileExists(t, filepath.Join(f.repo.GitDir(), counterFile))
}

func TestRun_ForceOverridesRefusal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "level.dat", "v1")
	first := f.snapshot(t, "one")
	f.write(t, "level.dat", "v2")
	f.snapshot(t, "two")

	o, _ := newTestOrchestrator(t)
	res := &recordingResource{refuse: true}
	result, err := o.Run(ctx, Request{
		Repo:     f.repo,
		Scope:    TreeScope{LiveDir: f.live},
		Selector: selector.Offset(1),
		Resource: res,
		Force:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, first, result.Revision)
	assert.Equal(t, "v1", f.read(t, "level.dat"))
	assert.Equal(t, 1, res.reattached)
}

func TestRun_ThreeRollbacksDistinctAuditBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "level.dat", "v1")
	f.snapshot(t, "First Save")

	o, _ := newTestOrchestrator(t)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		result, err := o.Run(ctx, Request{
			Repo:     f.repo,
			Scope:    TreeScope{LiveDir: f.live},
			Selector: selector.Latest(),
		})
		require.NoError(t, err)
		assert.NotEqual(t, f.repo.PrimaryBranch(), result.AuditBranch)
		assert.False(t, seen[result.AuditBranch], "audit branch %s reused", result.AuditBranch)
		seen[result.AuditBranch] = true
	}

	branches, err := f.repo.Branches(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Rollback1", "Rollback2", "Rollback3", f.repo.PrimaryBranch()}, branches)
}

func TestRun_NoSuchRevisionReattaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "level.dat", "v1")
	f.snapshot(t, "only")

	o, _ := newTestOrchestrator(t)
	tests := []struct {
		name string
		sel  selector.Selector
	}{
		{"offset past history", selector.Offset(5)},
		{"unknown timestamp", selector.Timestamp(time.Date(1999, 1, 1, 0, 0, 0, 0, time.Local))},
		{"unknown revision", selector.Revision("deadbeef")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := &recordingResource{}
			_, err := o.Run(ctx, Request{
				Repo:     f.repo,
				Scope:    TreeScope{LiveDir: f.live},
				Selector: tc.sel,
				Resource: res,
			})
			require.ErrorIs(t, err, ErrNoSuchRevision)
			var rbErr *Error
			require.True(t, errors.As(err, &rbErr))
			assert.Equal(t, StateSelectorResolving, rbErr.State)
			assert.Equal(t, 1, res.reattached, "resource reattached after failure")
		})
	}

	branches, err := f.repo.Branches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{f.repo.PrimaryBranch()}, branches)
}

func TestRun_ReattachFailure(t *testing.T) {
	f := newFixture(t)
	f.write(t, "level.dat", "v1")
	f.snapshot(t, "only")

	o, _ := newTestOrchestrator(t)
	res := &recordingResource{reattachErr: errors.New("world failed to load")}
	_, err := o.Run(context.Background(), Request{
		Repo:     f.repo,
		Scope:    TreeScope{LiveDir: f.live},
		Selector: selector.Latest(),
		Resource: res,
	})
	var rbErr *Error
	require.True(t, errors.As(err, &rbErr))
	assert.Equal(t, StateResourceReloading, rbErr.State)
	assert.Equal(t, 1, res.reattached, "no second reattach after reattach itself failed")
}

func TestRun_PlayerFileScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "steve.dat", "steve-v1")
	f.write(t, "alex.dat", "alex-v1")
	f.snapshot(t, "First Save")
	f.write(t, "steve.dat", "steve-v2")
	f.write(t, "alex.dat", "alex-v2")
	f.snapshot(t, "players 2024-01-02 00:00:00")
	f.write(t, "alex.dat", "alex-v3")
	f.snapshot(t, "alex 2024-01-03 00:00:00")

	o, _ := newTestOrchestrator(t)
	result, err := o.Run(ctx, Request{
		Target:   "player/steve",
		Repo:     f.repo,
		Scope:    FileScope{File: "steve.dat", LiveDir: f.live},
		Selector: selector.Offset(1),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesRestored)
	assert.Equal(t, "steve-v1", f.read(t, "steve.dat"), "offset counts only commits touching the player file")
	assert.Equal(t, "alex-v3", f.read(t, "alex.dat"), "other players untouched")
}

func TestRun_RequiresRepoAndScope(t *testing.T) {
	o := New(Config{})
	_, err := o.Run(context.Background(), Request{})
	var rbErr *Error
	require.True(t, errors.As(err, &rbErr))
	assert.Equal(t, StateIdle, rbErr.State)
}

func TestResourceFuncs_Defaults(t *testing.T) {
	ok, err := ResourceFuncs{}.Detach(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, ResourceFuncs{}.Reattach(context.Background()))
}
