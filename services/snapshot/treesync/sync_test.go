// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package treesync

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStager captures staged paths.
type recordingStager struct {
	paths []string
	err   error
}

func (s *recordingStager) AddFiles(_ context.Context, paths ...string) error {
	s.paths = append(s.paths, paths...)
	return s.err
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			rel, _ := filepath.Rel(root, path)
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out[filepath.ToSlash(rel)] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestSync_Directory(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "nested", "dst")
	files := map[string]string{
		"level.dat":          "level",
		"db/000001.log":      "log",
		"db/CURRENT":         "MANIFEST-000002",
		"region/r.0.0.mca":   "chunk",
		".git/HEAD":          "ref: refs/heads/master",
		"sub/.svn/entries":   "svn",
		"sub/keep/data.json": "{}",
	}
	writeTree(t, src, files)

	stager := &recordingStager{}
	res, err := Sync(context.Background(), src, dst, stager, Options{})
	require.NoError(t, err)

	got := readTree(t, dst)
	assert.Equal(t, map[string]string{
		"level.dat":          "level",
		"db/000001.log":      "log",
		"db/CURRENT":         "MANIFEST-000002",
		"region/r.0.0.mca":   "chunk",
		"sub/keep/data.json": "{}",
	}, got)

	_, err = os.Stat(filepath.Join(dst, ".git"))
	assert.True(t, os.IsNotExist(err), "VCS metadata must not be copied")

	sort.Strings(stager.paths)
	want := []string{}
	for rel := range got {
		want = append(want, filepath.Join(dst, filepath.FromSlash(rel)))
	}
	sort.Strings(want)
	assert.Equal(t, want, stager.paths, "every copied file is staged")
	assert.Len(t, res.Files, len(got))
	assert.Equal(t, int64(len("level")+len("log")+len("MANIFEST-000002")+len("chunk")+len("{}")), res.Bytes)
}

func TestSync_NoPruning(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "new"})
	writeTree(t, dst, map[string]string{"a.txt": "old", "stale.txt": "stale"})

	_, err := Sync(context.Background(), src, dst, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a.txt": "new", "stale.txt": "stale"}, readTree(t, dst))
}

func TestSync_SymlinkedSourceDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	world := t.TempDir()
	writeTree(t, world, map[string]string{"level.dat": "level", "region/r.0.0.mca": "chunk"})
	link := filepath.Join(t.TempDir(), "world")
	require.NoError(t, os.Symlink(world, link))

	dst := t.TempDir()
	writeTree(t, dst, map[string]string{".git/HEAD": "ref: refs/heads/master"})
	stager := &recordingStager{}

	res, err := Sync(context.Background(), link, dst, stager, Options{})
	require.NoError(t, err)

	info, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "destination stays a directory")
	assert.Equal(t, map[string]string{"level.dat": "level", "region/r.0.0.mca": "chunk"}, readTree(t, dst))
	assert.Len(t, res.Files, 2)
	assert.Len(t, stager.paths, 2)
}

func TestSync_SingleFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{"steve.dat": "player"})

	stager := &recordingStager{}
	res, err := Sync(context.Background(), filepath.Join(src, "steve.dat"), dst, stager, Options{})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"steve.dat": "player"}, readTree(t, dst))
	assert.Equal(t, []string{filepath.Join(dst, "steve.dat")}, res.Files)
	assert.Equal(t, res.Files, stager.paths)
}

func TestSync_Filter(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"level.dat":      "level",
		"session.lock":   "lock",
		"cache/tmp.bin":  "tmp",
		"region/r.0.mca": "chunk",
	})

	_, err := Sync(context.Background(), src, dst, nil, Options{
		Filter: func(rel string, d fs.DirEntry) bool {
			return rel != "session.lock" && rel != "cache"
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"level.dat": "level", "region/r.0.mca": "chunk"}, readTree(t, dst))
}

func TestSync_PreservePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	src := t.TempDir()
	dst := t.TempDir()
	script := filepath.Join(src, "start.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh"), 0o755))

	_, err := Sync(context.Background(), src, dst, nil, Options{PreservePermissions: true})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "start.sh"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), info.Mode().Perm())
}

func TestSync_MissingSource(t *testing.T) {
	_, err := Sync(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir(), nil, Options{})
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestSync_StagerError(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	boom := errors.New("boom")

	_, err := Sync(context.Background(), src, t.TempDir(), &recordingStager{err: boom}, Options{})
	assert.ErrorIs(t, err, boom)
}

func TestSync_CancelledContext(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a", "b/c.txt": "c"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Sync(ctx, src, t.TempDir(), nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
