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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for repository operations.
var (
	// ErrPathNotFound indicates a path handed to a verb does not exist on disk.
	ErrPathNotFound = errors.New("path not found")

	// ErrAlreadyExists indicates Init found an existing repository.
	ErrAlreadyExists = errors.New("repository already exists")

	// ErrInitFailed indicates repository initialization failed.
	ErrInitFailed = errors.New("repository init failed")

	// ErrCommandFailed indicates git exited with a non-zero status.
	ErrCommandFailed = errors.New("git command failed")

	// ErrCommitFailed indicates git refused to create a commit, usually
	// because nothing was staged.
	ErrCommitFailed = errors.New("commit failed")

	// ErrInvalidRevision indicates an empty or malformed revision selector.
	ErrInvalidRevision = errors.New("invalid revision")

	// ErrPrimaryBranch indicates an attempt to delete or rename the primary branch.
	ErrPrimaryBranch = errors.New("primary branch is protected")

	// ErrConfigurationMissing indicates git is absent or unusable.
	ErrConfigurationMissing = errors.New("git is not available")
)

// CommandFailedError describes a git invocation that exited non-zero or
// timed out.
//
// # Description
//
// Output holds the combined stdout and stderr lines so the failure
// diagnostics travel with the error. ExitCode is -1 when the process was
// killed (timeout or cancellation) or never started.
type CommandFailedError struct {
	ExitCode    int
	CommandLine string
	Output      []string
	Err         error
}

// Error implements the error interface.
func (e *CommandFailedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: exit status %d", e.CommandLine, e.ExitCode)
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if len(e.Output) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Output, "\n"))
	}
	return sb.String()
}

// Is reports whether target is ErrCommandFailed.
func (e *CommandFailedError) Is(target error) bool {
	return target == ErrCommandFailed
}

// Unwrap returns the underlying process error, if any.
func (e *CommandFailedError) Unwrap() error {
	return e.Err
}

// PathNotFoundError reports the first missing path given to AddFiles.
type PathNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPathNotFound, e.Path)
}

// Is reports whether target is ErrPathNotFound.
func (e *PathNotFoundError) Is(target error) bool {
	return target == ErrPathNotFound
}

// ExitCode extracts the exit status from a *CommandFailedError chain.
//
// Returns -1 and false when err does not wrap a CommandFailedError.
func ExitCode(err error) (int, bool) {
	var cf *CommandFailedError
	if errors.As(err, &cf) {
		return cf.ExitCode, true
	}
	return -1, false
}
