// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func TestOpen_InMemoryRoundTrip(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.PutJSON(ctx, "task/1", record{ID: "1", State: "queued"}, 0))

	var got record
	require.NoError(t, db.GetJSON(ctx, "task/1", &got))
	assert.Equal(t, "queued", got.State)
	assert.True(t, db.InMemory())

	err = db.GetJSON(ctx, "task/2", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.PutJSON(ctx, "task/a", record{ID: "a", State: "done"}, 0))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	db, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	var got record
	require.NoError(t, db.GetJSON(ctx, "task/a", &got))
	assert.Equal(t, "a", got.ID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestScanPrefixAndDelete(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.PutJSON(ctx, "task/1", record{ID: "1"}, time.Hour))
	require.NoError(t, db.PutJSON(ctx, "task/2", record{ID: "2"}, time.Hour))
	require.NoError(t, db.PutJSON(ctx, "other/3", record{ID: "3"}, 0))

	var keys []string
	require.NoError(t, db.ScanPrefix(ctx, "task/", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"task/1", "task/2"}, keys)

	require.NoError(t, db.Delete(ctx, "task/1"))
	require.NoError(t, db.Delete(ctx, "task/missing"))
	var got record
	assert.ErrorIs(t, db.GetJSON(ctx, "task/1", &got), ErrNotFound)
}

func TestCancelledContext(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, db.PutJSON(ctx, "k", record{}, 0), context.Canceled)
}
