// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the gitrollback YAML configuration.
package config

import (
	"log/slog"
	"time"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/engine"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/telemetry"
)

// Config is the on-disk configuration.
type Config struct {
	// BackupRoot holds worlds/<name> and players repositories.
	BackupRoot string `yaml:"backup_root" validate:"required"`

	// PlayersDir is the live directory of player .dat files.
	PlayersDir string `yaml:"players_dir,omitempty"`

	// Worlds maps names to live world directories.
	Worlds map[string]string `yaml:"worlds" validate:"dive,keys,excludesall=/\\,endkeys,required"`

	// DefaultWorld needs explicit confirmation to roll back.
	DefaultWorld string `yaml:"default_world,omitempty"`

	PrimaryBranch string `yaml:"primary_branch" validate:"required"`
	AuditPrefix   string `yaml:"audit_prefix" validate:"required,excludesall=/ "`

	Workers       int           `yaml:"workers" validate:"min=1,max=64"`
	AsyncSaves    bool          `yaml:"async_saves"`
	SaveDelay     time.Duration `yaml:"save_delay" validate:"min=0"`
	StateDir      string        `yaml:"state_dir,omitempty"`
	TaskRetention time.Duration `yaml:"task_retention" validate:"min=0"`
	TaskTimeout   time.Duration `yaml:"task_timeout" validate:"min=0"`
	LockWait      time.Duration `yaml:"lock_wait" validate:"min=0"`

	Git       GitConfig        `yaml:"git"`
	Log       LogConfig        `yaml:"log"`
	Server    ServerConfig     `yaml:"server"`
	Watch     WatchConfig      `yaml:"watch"`
	Offsite   OffsiteConfig    `yaml:"offsite"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type GitConfig struct {
	Path        string        `yaml:"path"`
	Timeout     time.Duration `yaml:"timeout" validate:"min=0"`
	AuthorName  string        `yaml:"author_name"`
	AuthorEmail string        `yaml:"author_email"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" validate:"hostname_port"`
}

type WatchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Debounce    time.Duration `yaml:"debounce" validate:"min=0"`
	MinInterval time.Duration `yaml:"min_interval" validate:"min=0"`
}

// OffsiteConfig picks where exports go: a GCS bucket or a local directory.
type OffsiteConfig struct {
	Bucket          string `yaml:"bucket,omitempty" validate:"excluded_with=Dir"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	Dir             string `yaml:"dir,omitempty"`
	Prefix          string `yaml:"prefix"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		BackupRoot:    "~/.gitrollback/backups",
		Worlds:        map[string]string{},
		PrimaryBranch: "master",
		AuditPrefix:   "Rollback",
		Workers:       2,
		TaskRetention: 7 * 24 * time.Hour,
		TaskTimeout:   30 * time.Minute,
		LockWait:      5 * time.Minute,
		Git: GitConfig{
			Path:        "git",
			Timeout:     10 * time.Minute,
			AuthorName:  "GitRollbacks",
			AuthorEmail: "gitrollbacks@localhost",
		},
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Listen: "127.0.0.1:8787"},
		Watch: WatchConfig{
			Debounce:    5 * time.Second,
			MinInterval: time.Minute,
		},
		Offsite:   OffsiteConfig{Prefix: "gitrollback"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Engine converts c into an engine configuration.
func (c Config) Engine(logger *slog.Logger) engine.Config {
	return engine.Config{
		BackupRoot:    c.BackupRoot,
		PlayersDir:    c.PlayersDir,
		Worlds:        c.Worlds,
		DefaultWorld:  c.DefaultWorld,
		PrimaryBranch: c.PrimaryBranch,
		AuditPrefix:   c.AuditPrefix,
		Workers:       c.Workers,
		AsyncSaves:    c.AsyncSaves,
		SaveDelay:     c.SaveDelay,
		StateDir:      c.StateDir,
		TaskRetention: c.TaskRetention,
		TaskTimeout:   c.TaskTimeout,
		LockWait:      c.LockWait,
		Git: engine.GitConfig{
			Path:        c.Git.Path,
			Timeout:     c.Git.Timeout,
			AuthorName:  c.Git.AuthorName,
			AuthorEmail: c.Git.AuthorEmail,
		},
		Tracing: c.Telemetry.TracingEnabled(),
		Logger:  logger,
	}
}
