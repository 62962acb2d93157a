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
	"path/filepath"
	"sort"
	"strings"
)

// Kind distinguishes target layouts.
type Kind string

const (
	// KindWorld is a whole directory with its own repository.
	KindWorld Kind = "world"

	// KindPlayer is one file in the shared players repository.
	KindPlayer Kind = "player"
)

// ParseKind accepts "world" or "player", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindWorld:
		return KindWorld, nil
	case KindPlayer:
		return KindPlayer, nil
	default:
		return "", fmt.Errorf("%w: unknown target kind %q", ErrUnknownTarget, s)
	}
}

// Target is something that can be snapshotted and rolled back.
type Target struct {
	Kind Kind
	Name string

	// LivePath is the live directory: the world directory, or the players
	// directory for a player.
	LivePath string

	// RepoPath is the repository that stores the target's history.
	RepoPath string

	// File is the player data file relative to LivePath and RepoPath.
	// Empty for worlds.
	File string
}

// String returns "<kind>/<name>".
func (t Target) String() string {
	return string(t.Kind) + "/" + t.Name
}

// Source is what a snapshot copies into the repository.
func (t Target) Source() string {
	if t.File != "" {
		return filepath.Join(t.LivePath, t.File)
	}
	return t.LivePath
}

// World returns the target for a configured world.
func (e *Engine) World(name string) (Target, error) {
	live, ok := e.cfg.Worlds[name]
	if !ok {
		return Target{}, fmt.Errorf("%w: world %q", ErrUnknownTarget, name)
	}
	return Target{
		Kind:     KindWorld,
		Name:     name,
		LivePath: live,
		RepoPath: filepath.Join(e.cfg.BackupRoot, "worlds", name),
	}, nil
}

// Player returns the target for a player's data file. The file name is the
// lowercased player name with a .dat extension.
func (e *Engine) Player(name string) (Target, error) {
	if e.cfg.PlayersDir == "" {
		return Target{}, fmt.Errorf("%w: players_dir is not configured", ErrUnknownTarget)
	}
	if !validName(name) {
		return Target{}, fmt.Errorf("%w: player %q", ErrUnknownTarget, name)
	}
	return Target{
		Kind:     KindPlayer,
		Name:     name,
		LivePath: e.cfg.PlayersDir,
		RepoPath: filepath.Join(e.cfg.BackupRoot, "players"),
		File:     strings.ToLower(name) + ".dat",
	}, nil
}

// Resolve returns the target of the given kind and name.
func (e *Engine) Resolve(kind Kind, name string) (Target, error) {
	switch kind {
	case KindWorld:
		return e.World(name)
	case KindPlayer:
		return e.Player(name)
	default:
		return Target{}, fmt.Errorf("%w: kind %q", ErrUnknownTarget, kind)
	}
}

// Worlds returns every configured world target sorted by name.
func (e *Engine) Worlds() []Target {
	names := make([]string, 0, len(e.cfg.Worlds))
	for name := range e.cfg.Worlds {
		names = append(names, name)
	}
	sort.Strings(names)
	targets := make([]Target, 0, len(names))
	for _, name := range names {
		t, _ := e.World(name)
		targets = append(targets, t)
	}
	return targets
}

// IsDefaultWorld reports whether t is the configured default world.
func (e *Engine) IsDefaultWorld(t Target) bool {
	return t.Kind == KindWorld && e.cfg.DefaultWorld != "" && t.Name == e.cfg.DefaultWorld
}
