// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitcli drives the git command line for snapshot repositories.
//
// Every invocation runs with an explicit working directory (the repository
// root) instead of changing the process working directory, so handles bound to
// different repositories can be used from concurrent goroutines.
//
// # Components
//
//   - Runner / ExecRunner: executes one git command and returns its combined
//     stdout and stderr as lines. Non-zero exits become *CommandFailedError.
//   - Repository: a handle bound to one repository root exposing the verbs the
//     snapshot engine needs (init, add, commit, branch, checkout, reset, log).
//   - CheckAvailable: startup probe that reports a missing or too old git as
//     ErrConfigurationMissing.
//
// # Example
//
//	runner := gitcli.NewExecRunner(gitcli.RunnerConfig{Timeout: time.Minute})
//	repo, err := gitcli.Init(ctx, "/srv/backups/worlds/world", gitcli.WithRunner(runner))
//	if errors.Is(err, gitcli.ErrAlreadyExists) {
//	    repo, err = gitcli.Open("/srv/backups/worlds/world", gitcli.WithRunner(runner))
//	}
package gitcli
