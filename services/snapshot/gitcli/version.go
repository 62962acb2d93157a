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
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// MinimumVersion is the oldest git release the engine is tested against.
// for-each-ref --format and symbolic-ref on an unborn HEAD both predate it.
const MinimumVersion = "v2.0.0"

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Version describes the probed git installation.
type Version struct {
	// Path is the resolved executable path.
	Path string

	// Raw is the full "git version ..." line.
	Raw string

	// Semver is the canonical "vMAJOR.MINOR.PATCH" form.
	Semver string
}

// CheckAvailable verifies git can be executed and is recent enough.
//
// # Description
//
// Resolves gitPath via PATH, runs "git --version" and compares the result to
// MinimumVersion. Intended to run once at startup so a missing git surfaces
// as a blocking configuration error instead of failing individual snapshot
// tasks later.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - gitPath: Executable name or path. Empty means "git".
//
// # Outputs
//
//   - Version: Probed version information.
//   - error: Wraps ErrConfigurationMissing when git is absent, fails to run,
//     or is older than MinimumVersion.
func CheckAvailable(ctx context.Context, gitPath string) (Version, error) {
	if gitPath == "" {
		gitPath = "git"
	}

	resolved, err := exec.LookPath(gitPath)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %s not found: %v", ErrConfigurationMissing, gitPath, err)
	}

	out, err := exec.CommandContext(ctx, resolved, "--version").Output()
	if err != nil {
		return Version{}, fmt.Errorf("%w: running %s --version: %v", ErrConfigurationMissing, resolved, err)
	}

	raw := strings.TrimSpace(string(out))
	v, ok := parseVersion(raw)
	if !ok {
		return Version{}, fmt.Errorf("%w: unrecognized version output %q", ErrConfigurationMissing, raw)
	}
	if semver.Compare(v, MinimumVersion) < 0 {
		return Version{}, fmt.Errorf("%w: git %s is older than %s", ErrConfigurationMissing, v, MinimumVersion)
	}

	return Version{Path: resolved, Raw: raw, Semver: v}, nil
}

// parseVersion extracts a canonical semver from "git version 2.39.2" style
// output, including vendor suffixes such as ".windows.1" or " (Apple Git-143)".
func parseVersion(raw string) (string, bool) {
	m := versionPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}
