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
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a single git command.
//
// # Description
//
// Implementations run git with dir as the working directory and return the
// combined stdout and stderr split into lines. A non-zero exit must be
// reported as *CommandFailedError so callers can tell "nothing found" exits
// apart from real failures.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]string, error)
}

// RunnerConfig configures an ExecRunner.
type RunnerConfig struct {
	// GitPath is the git executable. Default: "git" resolved via PATH.
	GitPath string

	// Timeout bounds every subprocess. Zero disables the bound.
	Timeout time.Duration

	// AuthorName and AuthorEmail are exported as GIT_AUTHOR_* and
	// GIT_COMMITTER_* so commits succeed without a global git identity.
	AuthorName  string
	AuthorEmail string

	// Logger receives debug output for every command. Default: slog.Default().
	Logger *slog.Logger
}

// ExecRunner runs git through os/exec.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state.
type ExecRunner struct {
	gitPath string
	timeout time.Duration
	env     []string
	logger  *slog.Logger
}

// NewExecRunner creates a Runner backed by the git binary.
//
// # Inputs
//
//   - config: Runner configuration. Zero value runs "git" with no timeout.
//
// # Outputs
//
//   - *ExecRunner: Ready-to-use runner.
func NewExecRunner(config RunnerConfig) *ExecRunner {
	if config.GitPath == "" {
		config.GitPath = "git"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	env := []string{
		// Keep output parseable regardless of the user's locale and pager.
		"LC_ALL=C",
		"GIT_PAGER=cat",
		"GIT_TERMINAL_PROMPT=0",
	}
	if config.AuthorName != "" {
		env = append(env,
			"GIT_AUTHOR_NAME="+config.AuthorName,
			"GIT_COMMITTER_NAME="+config.AuthorName)
	}
	if config.AuthorEmail != "" {
		env = append(env,
			"GIT_AUTHOR_EMAIL="+config.AuthorEmail,
			"GIT_COMMITTER_EMAIL="+config.AuthorEmail)
	}

	return &ExecRunner{
		gitPath: config.GitPath,
		timeout: config.Timeout,
		env:     env,
		logger:  config.Logger.With("component", "gitcli.ExecRunner"),
	}
}

// Run executes git with args in dir.
//
// # Description
//
// stderr is folded into stdout so diagnostics end up in the same stream as
// the regular output. Trailing blank lines are dropped. The configured
// timeout is layered on top of ctx; expiry is reported as a
// *CommandFailedError with ExitCode -1.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - dir: Working directory for the subprocess (the repository root).
//   - args: git arguments, without the leading "git".
//
// # Outputs
//
//   - []string: Output lines (never nil on success).
//   - error: *CommandFailedError on non-zero exit, timeout or start failure.
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	op := "git"
	if len(args) > 0 {
		op = args[0]
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, r.gitPath, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.env...)

	out, err := cmd.CombinedOutput()
	lines := splitLines(string(out))
	duration := time.Since(start)

	if err != nil {
		cf := &CommandFailedError{
			ExitCode:    -1,
			CommandLine: commandLine(r.gitPath, args),
			Output:      lines,
		}
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			cf.Err = ctx.Err()
		case errors.As(err, &exitErr):
			cf.ExitCode = exitErr.ExitCode()
		default:
			cf.Err = err
		}
		recordGitOp(ctx, op, duration, cf)
		r.logger.Debug("git command failed",
			"dir", dir,
			"command", cf.CommandLine,
			"exit_code", cf.ExitCode,
			"duration", duration)
		return lines, cf
	}

	recordGitOp(ctx, op, duration, nil)
	r.logger.Debug("git command finished",
		"dir", dir,
		"command", commandLine(r.gitPath, args),
		"duration", duration)
	return lines, nil
}

// splitLines splits output into lines, dropping trailing blank lines and
// carriage returns left by Windows builds of git.
func splitLines(s string) []string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return []string{}
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// commandLine renders a command for error messages with shell-style quoting.
func commandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n'\"\\$`*?[]{}()<>|&;#~") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
