// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitcli

import (
	"testing"
)

func TestIsCommitID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"full lowercase", "0123456789abcdef0123456789abcdef01234567", true},
		{"full uppercase", "0123456789ABCDEF0123456789ABCDEF01234567", true},
		{"too short", "0123456789abcdef", false},
		{"too long", "0123456789abcdef0123456789abcdef012345678", false},
		{"non hex", "0123456789abcdef0123456789abcdef0123456g", false},
		{"empty", "", false},
		{"fatal message", "fatal: your current branch 'master' does", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCommitID(tc.in); got != tc.want {
				t.Errorf("IsCommitID(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestIsAbbreviatedID(t *testing.T) {
	if !IsAbbreviatedID("abc1234") {
		t.Error("7 hex chars should be accepted")
	}
	if IsAbbreviatedID("abc123") {
		t.Error("6 hex chars should be rejected")
	}
	if IsAbbreviatedID("last") {
		t.Error("non hex should be rejected")
	}
}

func TestParseRefNames(t *testing.T) {
	got := parseRefNames([]string{"Rollback1", "", "master", "origin/HEAD", "origin/master"})
	want := []string{"Rollback1", "master", "origin/master"}

	if len(got) != len(want) {
		t.Fatalf("expected %d names, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestParseShowHeader(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected CommitData
	}{
		{
			name: "fuller format",
			input: []string{
				"commit 0123456789abcdef0123456789abcdef01234567",
				"Author:     Steve <steve@example.com>",
				"AuthorDate: Mon Jan 1 00:00:00 2024 +0000",
				"Commit:     Alex <alex@example.com>",
				"CommitDate: Mon Jan 1 00:00:05 2024 +0000",
				"",
				"    world 2024-01-01 00:00:00",
			},
			expected: CommitData{
				Revision:  "0123456789abcdef0123456789abcdef01234567",
				Author:    "Steve <steve@example.com>",
				Committer: "Alex <alex@example.com>",
				Date:      "Mon Jan 1 00:00:00 2024 +0000",
			},
		},
		{
			name: "medium format without committer",
			input: []string{
				"commit 0123456789abcdef0123456789abcdef01234567 (HEAD -> master)",
				"Author: Steve <steve@example.com>",
				"Date:   Mon Jan 1 00:00:00 2024 +0000",
			},
			expected: CommitData{
				Revision: "0123456789abcdef0123456789abcdef01234567",
				Author:   "Steve <steve@example.com>",
				Date:     "Mon Jan 1 00:00:00 2024 +0000",
			},
		},
		{
			name:     "garbage leaves fields empty",
			input:    []string{"warning: something odd", "nonsense"},
			expected: CommitData{},
		},
		{
			name:     "empty output",
			input:    nil,
			expected: CommitData{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseShowHeader(tc.input)
			if got != tc.expected {
				t.Errorf("expected %+v, got %+v", tc.expected, got)
			}
		})
	}
}

func TestParseLog(t *testing.T) {
	lines := []string{
		"0123456789abcdef0123456789abcdef01234567\x1fSteve <s@example.com>\x1fSteve <s@example.com>\x1f2024-01-02T00:00:00+00:00\x1fworld 2024-01-02 00:00:00",
		"not a log line",
		"89abcdef0123456789abcdef0123456789abcdef\x1fSteve <s@example.com>\x1fSteve <s@example.com>\x1f2024-01-01T00:00:00+00:00\x1fFirst Save",
	}

	got := parseLog(lines)
	if len(got) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(got))
	}
	if got[0].Subject != "world 2024-01-02 00:00:00" {
		t.Errorf("unexpected subject %q", got[0].Subject)
	}
	if got[1].Subject != "First Save" {
		t.Errorf("unexpected subject %q", got[1].Subject)
	}
	if got[1].Date != "2024-01-01T00:00:00+00:00" {
		t.Errorf("unexpected date %q", got[1].Date)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"\n\n", 0},
		{"one\n", 1},
		{"one\r\ntwo\r\n", 2},
		{"one\n\nthree", 3},
	}
	for _, tc := range tests {
		if got := splitLines(tc.in); len(got) != tc.want {
			t.Errorf("splitLines(%q) returned %d lines, want %d", tc.in, len(got), tc.want)
		}
	}
}

func TestCommandLine(t *testing.T) {
	got := commandLine("git", []string{"log", "--grep=world 2024-01-01 00:00:00", ""})
	want := "git log '--grep=world 2024-01-01 00:00:00' ''"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
