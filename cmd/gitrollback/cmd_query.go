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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jasonw4331/GitRollbacks/cmd/gitrollback/config"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/offsite"
	"github.com/spf13/cobra"
)

var (
	logLimit int

	logCmd = &cobra.Command{
		Use:     "log <world|player> <name>",
		Aliases: []string{"history"},
		Short:   "List a target's snapshots, newest first",
		Args:    cobra.ExactArgs(2),
		RunE:    runLog,
	}

	statusCmd = &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show recorded tasks and interrupted rollbacks",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}

	exportCmd = &cobra.Command{
		Use:   "export <world|player> <name>",
		Short: "Bundle a target's repository and upload it offsite",
		Args:  cobra.ExactArgs(2),
		RunE:  runExport,
	}
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "maximum snapshots to list")
}

func runLog(cmd *cobra.Command, args []string) error {
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
	commits, err := a.eng.Log(ctx, t, logLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.Title.Render(t.String()))
	for i, c := range commits {
		fmt.Fprintf(out, "%3d  %s  %s\n", i, styles.Muted.Render(short(c.Revision)), c.Subject)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		status, err := a.eng.Status(ctx, args[0])
		if err != nil {
			return err
		}
		printStatus(out, status)
		return nil
	}

	tasks, err := a.eng.Tasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("no recorded tasks"))
	}
	for _, s := range tasks {
		printStatus(out, s)
	}

	interrupted, err := a.eng.Interrupted()
	if err != nil {
		return err
	}
	if len(interrupted) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, styles.Warning.Render("Interrupted rollbacks (re-run to finish):"))
		for _, e := range interrupted {
			fmt.Fprintf(out, "  %s  %s  %s  stopped in %s\n",
				styles.Muted.Render(e.ID), e.Target, e.Selector, e.State)
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
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
	up, closeUp, err := newUploader(ctx, a.cfg.Offsite)
	if err != nil {
		return err
	}
	defer closeUp()

	receipt, err := a.eng.Export(ctx, t, up, a.cfg.Offsite.Prefix)
	if err != nil {
		return err
	}
	printReceipt(cmd.OutOrStdout(), receipt)
	return nil
}

// newUploader builds the configured offsite destination.
func newUploader(ctx context.Context, cfg config.OffsiteConfig) (offsite.Uploader, func(), error) {
	switch {
	case cfg.Bucket != "":
		g, err := offsite.NewGCSUploader(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	case cfg.Dir != "":
		return offsite.DirUploader{Root: cfg.Dir}, func() {}, nil
	default:
		return nil, nil, errors.New("offsite export needs offsite.bucket or offsite.dir in the config")
	}
}

func printReceipt(w io.Writer, r offsite.Receipt) {
	fmt.Fprintln(w, styles.Success.Render("Exported "+r.Location))
	fmt.Fprintf(w, "  %d bytes, sha256 %s\n", r.Bytes, r.SHA256)
}
