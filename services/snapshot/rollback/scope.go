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
	"path/filepath"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/treesync"
)

// Scope decides how much of a repository a rollback touches.
type Scope interface {
	// Path restricts selector history walks. Empty means the whole tree.
	Path() string

	// Reset moves the repository working tree to rev.
	Reset(ctx context.Context, repo Repository, rev string) error

	// Restore copies the reset files into the live location.
	Restore(ctx context.Context, repo Repository) (treesync.Result, error)
}

// TreeScope rolls back a whole repository, as used for worlds.
type TreeScope struct {
	LiveDir string
}

func (s TreeScope) Path() string { return "" }

func (s TreeScope) Reset(ctx context.Context, repo Repository, rev string) error {
	return repo.Reset(ctx, rev)
}

func (s TreeScope) Restore(ctx context.Context, repo Repository) (treesync.Result, error) {
	return treesync.Sync(ctx, repo.Root(), s.LiveDir, nil, treesync.Options{})
}

// FileScope rolls back one file inside a shared repository, as used for
// player data. Other files in the repository are left alone.
type FileScope struct {
	// File is relative to the repository root and to LiveDir.
	File    string
	LiveDir string
}

func (s FileScope) Path() string { return s.File }

func (s FileScope) Reset(ctx context.Context, repo Repository, rev string) error {
	return repo.CheckoutFile(ctx, rev, s.File)
}

func (s FileScope) Restore(ctx context.Context, repo Repository) (treesync.Result, error) {
	src := filepath.Join(repo.Root(), s.File)
	dst := filepath.Dir(filepath.Join(s.LiveDir, s.File))
	return treesync.Sync(ctx, src, dst, nil, treesync.Options{})
}
