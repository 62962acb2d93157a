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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/scheduler"
)

// Config configures an Engine.
type Config struct {
	// BackupRoot holds worlds/<name> repositories and the shared players
	// repository. Required.
	BackupRoot string

	// PlayersDir is the live directory of player data files.
	PlayersDir string

	// Worlds maps world names to live directories.
	Worlds map[string]string

	// DefaultWorld is the world hosts refuse to detach without force.
	DefaultWorld string

	PrimaryBranch string
	AuditPrefix   string

	// Workers bounds concurrently running tasks.
	Workers int

	// AsyncSaves returns from OnResourceSave without waiting.
	AsyncSaves bool

	// SaveDelay waits before copying so the host can finish flushing.
	SaveDelay time.Duration

	// StateDir holds the task database, rollback journal and lock files.
	// Default: <BackupRoot>/.gitrollback
	StateDir string

	// TaskRetention expires finished task records. Zero keeps them.
	TaskRetention time.Duration

	// TaskTimeout bounds one task. Zero means no limit.
	TaskTimeout time.Duration

	// LockWait bounds how long a task waits for another process's lock on
	// its repository.
	LockWait time.Duration

	Git GitConfig

	// Tracing enables rollback spans.
	Tracing bool

	// InMemoryState keeps task status in memory only. Used by tests.
	InMemoryState bool

	// Runner overrides the git process runner. Used by tests.
	Runner gitcli.Runner

	// Store overrides the task status store.
	Store scheduler.Store

	Logger *slog.Logger
}

// GitConfig configures git subprocesses.
type GitConfig struct {
	Path        string
	Timeout     time.Duration
	AuthorName  string
	AuthorEmail string
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.PrimaryBranch == "" {
		c.PrimaryBranch = gitcli.DefaultPrimaryBranch
	}
	if c.Workers < 1 {
		c.Workers = 2
	}
	if c.StateDir == "" && c.BackupRoot != "" {
		c.StateDir = filepath.Join(c.BackupRoot, ".gitrollback")
	}
	if c.LockWait <= 0 {
		c.LockWait = 5 * time.Minute
	}
	if c.Git.Path == "" {
		c.Git.Path = "git"
	}
	if c.Git.AuthorName == "" {
		c.Git.AuthorName = "GitRollbacks"
	}
	if c.Git.AuthorEmail == "" {
		c.Git.AuthorEmail = "gitrollbacks@localhost"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// validate rejects configurations where a repository could end up inside
// the data it snapshots, or the reverse.
func (c Config) validate() error {
	if c.BackupRoot == "" {
		return fmt.Errorf("%w: backup_root", gitcli.ErrConfigurationMissing)
	}
	root, err := filepath.Abs(c.BackupRoot)
	if err != nil {
		return err
	}
	live := map[string]string{}
	for name, dir := range c.Worlds {
		if dir == "" {
			return fmt.Errorf("%w: path of world %q", gitcli.ErrConfigurationMissing, name)
		}
		if !validName(name) {
			return fmt.Errorf("invalid world name %q", name)
		}
		live["world "+name] = dir
	}
	if c.PlayersDir != "" {
		live["players_dir"] = c.PlayersDir
	}
	for label, dir := range live {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if within(abs, root) || within(root, abs) {
			return fmt.Errorf("backup_root %s overlaps %s %s", root, label, abs)
		}
	}
	if c.DefaultWorld != "" {
		if _, ok := c.Worlds[c.DefaultWorld]; !ok {
			return fmt.Errorf("default_world %q is not a configured world", c.DefaultWorld)
		}
	}
	return nil
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
