// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preview summarizes what a rollback would change before it runs.
package preview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ChangeKind classifies a file in a preview.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeModified ChangeKind = "modified"
	ChangeRenamed  ChangeKind = "renamed"
)

// FileChange is one file the rollback would touch.
type FileChange struct {
	Path    string     `json:"path"`
	OldPath string     `json:"old_path,omitempty"`
	Kind    ChangeKind `json:"kind"`
	Added   int        `json:"added"`
	Deleted int        `json:"deleted"`
	Binary  bool       `json:"binary"`
}

// Summary describes the difference between the current tip and the
// revision a rollback would restore.
type Summary struct {
	From    string       `json:"from"`
	To      string       `json:"to"`
	Files   []FileChange `json:"files"`
	Added   int          `json:"added"`
	Deleted int          `json:"deleted"`
}

// Empty reports whether the rollback would change nothing.
func (s Summary) Empty() bool {
	return len(s.Files) == 0
}

// Summarize parses a unified git diff from..to into per-file counts.
//
// # Description
//
// Line counts come from the hunks. World data is mostly binary, for which
// git emits no hunks; such files are reported with Binary set and zero
// counts. Files are sorted by path.
//
// # Outputs
//
//   - Summary: Per-file and total counts.
//   - error: The diff text could not be parsed.
func Summarize(from, to, unified string) (Summary, error) {
	s := Summary{From: from, To: to, Files: []FileChange{}}
	if strings.TrimSpace(unified) == "" {
		return s, nil
	}

	fileDiffs, err := diff.ParseMultiFileDiff([]byte(unified))
	if err != nil {
		return Summary{}, fmt.Errorf("parsing diff %s..%s: %w", from, to, err)
	}

	for _, fd := range fileDiffs {
		change := classify(fd)
		for _, h := range fd.Hunks {
			st := h.Stat()
			change.Added += int(st.Added + st.Changed)
			change.Deleted += int(st.Deleted + st.Changed)
		}
		s.Added += change.Added
		s.Deleted += change.Deleted
		s.Files = append(s.Files, change)
	}
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })
	return s, nil
}

func classify(fd *diff.FileDiff) FileChange {
	oldName, newName := stripPrefix(fd.OrigName, "a/"), stripPrefix(fd.NewName, "b/")
	if oldName == "" && newName == "" {
		oldName, newName = namesFromHeader(fd.Extended)
	}

	change := FileChange{Path: newName, Kind: ChangeModified}
	for _, line := range fd.Extended {
		switch {
		case strings.HasPrefix(line, "new file mode"):
			change.Kind = ChangeAdded
		case strings.HasPrefix(line, "deleted file mode"):
			change.Kind = ChangeDeleted
		case strings.HasPrefix(line, "rename from"):
			change.Kind = ChangeRenamed
		case strings.HasPrefix(line, "Binary files") || strings.HasPrefix(line, "GIT binary patch"):
			change.Binary = true
		}
	}

	switch {
	case fd.NewName == "/dev/null":
		change.Kind = ChangeDeleted
		change.Path = oldName
	case fd.OrigName == "/dev/null":
		change.Kind = ChangeAdded
	}
	if change.Kind == ChangeDeleted {
		change.Path = oldName
	}
	if change.Kind == ChangeRenamed {
		change.OldPath = oldName
	}
	return change
}

// namesFromHeader reads "diff --git a/x b/y" for diffs without ---/+++ lines.
func namesFromHeader(extended []string) (string, string) {
	for _, line := range extended {
		rest, ok := strings.CutPrefix(line, "diff --git ")
		if !ok {
			continue
		}
		if i := strings.Index(rest, " b/"); i >= 0 {
			return stripPrefix(rest[:i], "a/"), rest[i+3:]
		}
	}
	return "", ""
}

func stripPrefix(name, prefix string) string {
	if name == "/dev/null" {
		return ""
	}
	return strings.TrimPrefix(name, prefix)
}
