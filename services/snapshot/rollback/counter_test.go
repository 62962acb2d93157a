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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAuditBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "level.dat", "v1")
	f.snapshot(t, "First Save")

	// An operator-created branch occupies the second name.
	require.NoError(t, f.repo.CreateBranch(ctx, "Rollback2", false))

	first, err := NextAuditBranch(ctx, f.repo, "")
	require.NoError(t, err)
	assert.Equal(t, "Rollback1", first)

	second, err := NextAuditBranch(ctx, f.repo, "")
	require.NoError(t, err)
	assert.Equal(t, "Rollback3", second, "existing branch names are skipped")

	custom, err := NextAuditBranch(ctx, f.repo, "restore-")
	require.NoError(t, err)
	assert.Equal(t, "restore-4", custom, "the counter is shared across prefixes")

	data, err := os.ReadFile(filepath.Join(f.repo.GitDir(), counterFile))
	require.NoError(t, err)
	assert.Equal(t, "4\n", string(data))
}

func TestNextAuditBranch_CorruptCounter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.repo.GitDir(), counterFile), []byte("many"), 0o644))

	_, err := NextAuditBranch(context.Background(), f.repo, "")
	assert.ErrorContains(t, err, "corrupt rollback counter")
}
