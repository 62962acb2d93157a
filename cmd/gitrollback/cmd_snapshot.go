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
	"time"

	"github.com/spf13/cobra"
)

var (
	snapshotAll bool

	loadCmd = &cobra.Command{
		Use:   "load <world|player> <name>",
		Short: "Create a target's repository if needed and stage its live data",
		Long: `Run when the host loads a world or a player joins. A new repository
gets an initial "First Save" commit.`,
		Args: cobra.ExactArgs(2),
		RunE: runLoad,
	}

	snapshotCmd = &cobra.Command{
		Use:     "snapshot [<world|player> <name>]",
		Aliases: []string{"save"},
		Short:   "Commit the live data of a target, or of every world with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if snapshotAll {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: runSnapshot,
	}
)

func init() {
	snapshotCmd.Flags().BoolVarP(&snapshotAll, "all", "a", false, "snapshot every configured world")
}

func runLoad(cmd *cobra.Command, args []string) error {
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
	if err := a.eng.OnResourceLoad(ctx, t); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render("Loaded "+t.String()))
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	now := time.Now()
	out := cmd.OutOrStdout()

	if snapshotAll {
		ids, runErr := a.eng.SnapshotAll(ctx, now)
		for _, id := range ids {
			if id == "" {
				continue
			}
			if status, err := a.eng.Status(ctx, id); err == nil {
				printStatus(out, status)
			}
		}
		return runErr
	}

	t, err := a.target(args[0], args[1])
	if err != nil {
		return err
	}
	id, err := a.eng.OnResourceSave(ctx, t, now)
	if err != nil && id == "" {
		return err
	}
	status, waitErr := a.eng.Wait(ctx, id)
	if waitErr != nil {
		return waitErr
	}
	return taskResult(out, status)
}
