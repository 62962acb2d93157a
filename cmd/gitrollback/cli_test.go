// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args against the config at cfg.
func runCLI(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfg}, args...))
	t.Cleanup(func() {
		snapshotAll, rollbackForce, rollbackYes, rollbackWait = false, false, false, true
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeCLIConfig(t *testing.T) (cfg, survival, creative string) {
	t.Helper()
	if exec.Command("git", "--version").Run() != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	survival = filepath.Join(root, "live", "survival")
	creative = filepath.Join(root, "live", "creative")
	for _, dir := range []string{survival, creative} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	cfg = filepath.Join(root, "config.yaml")
	yaml := "backup_root: " + filepath.Join(root, "backups") + "\n" +
		"worlds:\n" +
		"  survival: " + survival + "\n" +
		"  creative: " + creative + "\n" +
		"default_world: survival\n" +
		"telemetry:\n  trace_exporter: none\n  metric_exporter: none\n"
	require.NoError(t, os.WriteFile(cfg, []byte(yaml), 0o644))
	return cfg, survival, creative
}

func TestCLI_SnapshotLogRollback(t *testing.T) {
	cfg, _, creative := writeCLIConfig(t)
	level := filepath.Join(creative, "level.dat")

	require.NoError(t, os.WriteFile(level, []byte("v1"), 0o644))
	out, err := runCLI(t, cfg, "snapshot", "world", "creative")
	require.NoError(t, err, out)
	assert.Contains(t, out, string(scheduler.StateSucceeded))

	require.NoError(t, os.WriteFile(level, []byte("v2"), 0o644))
	_, err = runCLI(t, cfg, "snapshot", "world", "creative")
	require.NoError(t, err)

	out, err = runCLI(t, cfg, "log", "world", "creative")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "creative 2"))

	out, err = runCLI(t, cfg, "rollback", "world", "creative", "1")
	require.NoError(t, err, out)
	data, err := os.ReadFile(level)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	out, err = runCLI(t, cfg, "rollback", "--wait=false", "world", "creative", "latest")
	require.NoError(t, err)
	assert.Contains(t, out, "Rollback accepted")

	out, err = runCLI(t, cfg, "status")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "rollback "), out)
}

func TestCLI_DefaultWorldNeedsYes(t *testing.T) {
	if interactive() {
		t.Skip("stdin is a terminal")
	}
	cfg, survival, _ := writeCLIConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(survival, "level.dat"), []byte("v1"), 0o644))
	_, err := runCLI(t, cfg, "snapshot", "--all")
	require.NoError(t, err)

	_, err = runCLI(t, cfg, "rollback", "world", "survival", "last")
	var ce *commandError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, exitNeedsConfirm, ce.code)

	out, err := runCLI(t, cfg, "rollback", "--yes", "world", "survival", "last")
	require.NoError(t, err, out)
}

func TestCLI_RejectsBadInput(t *testing.T) {
	cfg, _, _ := writeCLIConfig(t)

	_, err := runCLI(t, cfg, "snapshot", "world", "nether")
	assert.Error(t, err)

	_, err = runCLI(t, cfg, "rollback", "world", "creative", "yesterday")
	assert.Error(t, err)

	_, err = runCLI(t, cfg, "snapshot", "--all", "world", "creative")
	assert.Error(t, err)
}

func TestTaskResult(t *testing.T) {
	var out bytes.Buffer
	err := taskResult(&out, scheduler.Status{ID: "1", Kind: "rollback", State: scheduler.StateFailed, Error: "resource is busy"})
	var ce *commandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, exitTaskFailed, ce.code)
	assert.Contains(t, out.String(), "resource is busy")

	out.Reset()
	assert.NoError(t, taskResult(&out, scheduler.Status{ID: "2", Kind: "snapshot", State: scheduler.StateSucceeded, Detail: "no changes"}))
	assert.Contains(t, out.String(), "no changes")
}
