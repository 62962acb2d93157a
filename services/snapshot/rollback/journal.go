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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is the persisted progress of one rollback.
type Entry struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	Repository  string    `json:"repository"`
	Selector    string    `json:"selector"`
	State       State     `json:"state"`
	Revision    string    `json:"revision,omitempty"`
	AuditBranch string    `json:"audit_branch,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Journal records rollback progress on disk so a crash mid-rollback is
// visible on the next start.
//
// # Description
//
// One JSON file per rollback under the journal directory, rewritten on
// every state transition. Files are removed once the rollback reaches a
// terminal state, so whatever remains was interrupted. Re-running an
// interrupted rollback with the same selector is safe: the audit branch
// step only adds a branch and the reset and restore steps are idempotent.
//
// # Thread Safety
//
// Safe for concurrent use.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// OpenJournal creates the journal directory if needed.
func OpenJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating rollback journal %s: %w", dir, err)
	}
	return &Journal{dir: dir}, nil
}

func (j *Journal) path(id string) string {
	return filepath.Join(j.dir, id+".json")
}

// Record writes entry, or removes it when its state is terminal.
func (j *Journal) Record(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.State.Terminal() {
		if err := os.Remove(j.path(entry.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing journal entry %s: %w", entry.ID, err)
		}
		return nil
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	tmp := j.path(entry.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing journal entry %s: %w", entry.ID, err)
	}
	if err := os.Rename(tmp, j.path(entry.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing journal entry %s: %w", entry.ID, err)
	}
	return nil
}

// Interrupted returns rollbacks left in a non-terminal state, oldest first.
// Unreadable files are skipped.
func (j *Journal) Interrupted() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("reading rollback journal: %w", err)
	}
	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(j.dir, f.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if json.Unmarshal(data, &e) != nil || e.State.Terminal() {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].StartedAt.Before(entries[b].StartedAt)
	})
	return entries, nil
}

// Discard removes an entry regardless of state.
func (j *Journal) Discard(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(j.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
