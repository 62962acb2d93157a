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
	"strings"
)

// CommitData holds metadata derived from one commit.
type CommitData struct {
	Revision  string `json:"revision"`
	Subject   string `json:"subject"`
	Message   string `json:"message,omitempty"`
	Author    string `json:"author,omitempty"`
	Committer string `json:"committer,omitempty"`
	Date      string `json:"date,omitempty"`
}

// logFormat separates fields with the ASCII unit separator, which cannot
// appear in names or subjects.
const logFormat = "%H%x1f%an <%ae>%x1f%cn <%ce>%x1f%aI%x1f%s"

// IsCommitID reports whether s is a full 40-character hex object id.
func IsCommitID(s string) bool {
	if len(s) != 40 {
		return false
	}
	return isHex(s)
}

// IsAbbreviatedID reports whether s could be an abbreviated or full id.
func IsAbbreviatedID(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	return isHex(s)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// firstCommitID returns the first line if it is a valid id, else "".
func firstCommitID(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	id := strings.TrimSpace(lines[0])
	if !IsCommitID(id) {
		return ""
	}
	return strings.ToLower(id)
}

// parseRefNames filters for-each-ref output, dropping symbolic remote HEADs
// such as "origin/HEAD".
func parseRefNames(lines []string) []string {
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasSuffix(name, "/HEAD") {
			continue
		}
		names = append(names, name)
	}
	return names
}

// parseShowHeader reads the header block of "git show --format=fuller"
// (or the default medium format). Parsing stops at the first blank line.
func parseShowHeader(lines []string) CommitData {
	var data CommitData
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			break
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "commit":
			if id, _, _ := strings.Cut(value, " "); IsCommitID(id) {
				data.Revision = strings.ToLower(id)
			}
		case "Author:":
			data.Author = value
		case "Commit:":
			data.Committer = value
		case "AuthorDate:", "Date:":
			if data.Date == "" {
				data.Date = value
			}
		}
	}
	return data
}

// parseLog decodes lines produced with logFormat. Malformed lines are
// skipped.
func parseLog(lines []string) []CommitData {
	commits := make([]CommitData, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\x1f")
		if len(fields) < 5 || !IsCommitID(fields[0]) {
			continue
		}
		commits = append(commits, CommitData{
			Revision:  fields[0],
			Author:    fields[1],
			Committer: fields[2],
			Date:      fields[3],
			Subject:   strings.Join(fields[4:], "\x1f"),
		})
	}
	return commits
}
