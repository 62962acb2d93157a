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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultBranchPrefix names audit branches Rollback1, Rollback2, ...
const DefaultBranchPrefix = "Rollback"

// counterFile lives inside the git directory so it travels with the
// repository but is never part of a snapshot.
const counterFile = "rollback-counter"

// NextAuditBranch reserves the next audit branch name for repo.
//
// # Description
//
// Reads the counter stored in the git directory, advances it past any
// name that already exists as a branch, and persists the new value. The
// counter only grows, so names are never reused even after branches are
// deleted.
//
// # Outputs
//
//   - string: Branch name "<prefix><N>".
//   - error: Counter file or branch listing failures.
func NextAuditBranch(ctx context.Context, repo Repository, prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	path := filepath.Join(repo.GitDir(), counterFile)

	n, err := readCounter(path)
	if err != nil {
		return "", err
	}

	branches, err := repo.Branches(ctx)
	if err != nil {
		return "", fmt.Errorf("listing branches: %w", err)
	}
	existing := make(map[string]bool, len(branches))
	for _, b := range branches {
		existing[b] = true
	}

	var name string
	for {
		n++
		name = prefix + strconv.Itoa(n)
		if !existing[name] && name != repo.PrimaryBranch() {
			break
		}
	}

	if err := writeCounter(path, n); err != nil {
		return "", err
	}
	return name, nil
}

func readCounter(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading rollback counter: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("corrupt rollback counter %s: %q", path, data)
	}
	return n, nil
}

func writeCounter(path string, n int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(n)+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing rollback counter: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing rollback counter: %w", err)
	}
	return nil
}
