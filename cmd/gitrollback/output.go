// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/scheduler"
	"github.com/mattn/go-isatty"
)

var (
	colorAccent  = lipgloss.Color("#2DD4BF")
	colorMuted   = lipgloss.Color("#64748B")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
)

var styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Success: lipgloss.NewStyle().Foreground(colorSuccess),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1),
}

// commandError carries a process exit code.
type commandError struct {
	code int
	err  error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

// Exit codes.
const (
	exitFailure      = 1
	exitTaskFailed   = 2
	exitNeedsConfirm = 3
)

func interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printStatus renders one task status line.
func printStatus(w io.Writer, s scheduler.Status) {
	var state string
	switch s.State {
	case scheduler.StateSucceeded:
		state = styles.Success.Render(string(s.State))
	case scheduler.StateFailed:
		state = styles.Error.Render(string(s.State))
	default:
		state = styles.Warning.Render(string(s.State))
	}
	fmt.Fprintf(w, "%s  %-8s %-10s %s\n", styles.Muted.Render(s.ID), s.Kind, state, s.Target)
	if s.Detail != "" {
		fmt.Fprintf(w, "    %s\n", s.Detail)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "    %s\n", styles.Error.Render(s.Error))
	}
}

// taskResult turns a finished status into a command error when it failed.
func taskResult(w io.Writer, s scheduler.Status) error {
	printStatus(w, s)
	if s.State == scheduler.StateFailed {
		return &commandError{code: exitTaskFailed, err: fmt.Errorf("%s task failed", s.Kind)}
	}
	return nil
}
