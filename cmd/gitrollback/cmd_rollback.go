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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/engine"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/preview"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/selector"
	"github.com/spf13/cobra"
)

var (
	rollbackForce bool
	rollbackYes   bool
	rollbackWait  bool

	rollbackCmd = &cobra.Command{
		Use:   "rollback <world|player> <name> <selector>",
		Short: "Restore a target to an earlier snapshot",
		Long: `Restore a world or a player's data to an earlier snapshot.

The selector is one of:
  last | latest          the newest snapshot
  now                    the snapshot taken this second
  "YYYY-MM-DD HH:MM:SS"  the snapshot with that timestamp
  N                      N snapshots back from the newest
  <commit>               7 to 40 hex characters

The current history is kept on a new Rollback<N> branch. Rolling back the
default world asks for confirmation, or needs --yes when not interactive.`,
		Args: cobra.ExactArgs(3),
		RunE: runRollback,
	}

	previewCmd = &cobra.Command{
		Use:   "preview <world|player> <name> <selector>",
		Short: "Show which files a rollback would change",
		Args:  cobra.ExactArgs(3),
		RunE:  runPreview,
	}
)

func init() {
	rollbackCmd.Flags().BoolVarP(&rollbackForce, "force", "f", false, "roll back even when the live data is in use")
	rollbackCmd.Flags().BoolVarP(&rollbackYes, "yes", "y", false, "skip the default world confirmation")
	rollbackCmd.Flags().BoolVarP(&rollbackWait, "wait", "w", true, "wait for the rollback and report its outcome")
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	t, err := a.target(args[0], args[1])
	if err != nil {
		return err
	}
	sel, err := selector.Parse(args[2], nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if a.eng.IsDefaultWorld(t) && !rollbackYes {
		if err := confirmDefaultWorld(cmd, a.eng, t, sel); err != nil {
			return err
		}
	}

	id, err := a.eng.Rollback(ctx, t, sel, rollbackForce, nil)
	if err != nil {
		return err
	}
	if !rollbackWait {
		fmt.Fprintf(out, "%s %s\n", styles.Success.Render("Rollback accepted:"), id)
		fmt.Fprintln(out, styles.Muted.Render("check progress with: gitrollback status "+id))
		return nil
	}
	status, err := a.eng.Wait(ctx, id)
	if err != nil {
		return err
	}
	return taskResult(out, status)
}

// confirmDefaultWorld shows the preview and asks before touching the
// default world.
func confirmDefaultWorld(cmd *cobra.Command, eng *engine.Engine, t engine.Target, sel selector.Selector) error {
	if !interactive() {
		return &commandError{
			code: exitNeedsConfirm,
			err:  fmt.Errorf("%s is the default world; pass --yes to roll it back", t),
		}
	}

	if summary, err := eng.Preview(cmd.Context(), t, sel); err == nil {
		printSummary(cmd.OutOrStdout(), t, summary)
	}

	var confirmed bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Roll back the default world %q to %s?", t.Name, sel)).
		Description("Progress since that snapshot stays on an audit branch but leaves the live world.").
		Affirmative("Roll back").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	if err != nil && !errors.Is(err, huh.ErrUserAborted) {
		return err
	}
	if !confirmed {
		return &commandError{code: exitNeedsConfirm, err: errors.New("rollback cancelled")}
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	t, err := a.target(args[0], args[1])
	if err != nil {
		return err
	}
	sel, err := selector.Parse(args[2], nil)
	if err != nil {
		return err
	}
	summary, err := a.eng.Preview(ctx, t, sel)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), t, summary)
	return nil
}

func printSummary(w io.Writer, t engine.Target, s preview.Summary) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s → %s\n", styles.Title.Render(t.String()), short(s.From), short(s.To))
	if s.Empty() {
		b.WriteString(styles.Muted.Render("no changes"))
		fmt.Fprintln(w, styles.Box.Render(b.String()))
		return
	}
	for _, f := range s.Files {
		kind := string(f.Kind)
		switch f.Kind {
		case preview.ChangeAdded:
			kind = styles.Success.Render(kind)
		case preview.ChangeDeleted:
			kind = styles.Error.Render(kind)
		default:
			kind = styles.Warning.Render(kind)
		}
		counts := fmt.Sprintf("+%d -%d", f.Added, f.Deleted)
		if f.Binary {
			counts = "binary"
		}
		fmt.Fprintf(&b, "%-9s %s %s\n", kind, f.Path, styles.Muted.Render(counts))
	}
	fmt.Fprintf(&b, "%d files, +%d -%d", len(s.Files), s.Added, s.Deleted)
	fmt.Fprintln(w, styles.Box.Render(b.String()))
}

func short(rev string) string {
	if len(rev) > 10 {
		return rev[:10]
	}
	return rev
}
