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
	"fmt"
	"log/slog"

	"github.com/jasonw4331/GitRollbacks/cmd/gitrollback/config"
	"github.com/jasonw4331/GitRollbacks/pkg/logging"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/engine"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	jsonLogs   bool
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "gitrollback",
		Short: "Snapshot and roll back game worlds and player data with git",
		Long: `gitrollback keeps a git repository per world and one shared repository
for player data files. Every save becomes a commit; a rollback restores an
earlier commit into the live directory and keeps the pre-rollback history on
an audit branch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the gitrollback version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "gitrollback", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $GITROLLBACK_CONFIG or ~/.gitrollback/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log JSON to stderr")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loadCmd, snapshotCmd)
	rootCmd.AddCommand(rollbackCmd, previewCmd)
	rootCmd.AddCommand(logCmd, statusCmd, exportCmd)
	rootCmd.AddCommand(serveCmd)
}

// app bundles what every command needs.
type app struct {
	cfg    config.Config
	log    *logging.Logger
	logger *slog.Logger
	eng    *engine.Engine
}

// openApp loads configuration, sets up logging and opens the engine.
func openApp(ctx context.Context, quietConsole bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	levelName := cfg.Log.Level
	if logLevel != "" {
		levelName = logLevel
	}
	if verbose {
		levelName = "debug"
	}
	level, ok := logging.ParseLevel(levelName)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", levelName)
	}

	lg := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "gitrollback",
		JSON:    jsonLogs || cfg.Log.JSON,
		Quiet:   quietConsole && !verbose,
	})
	logger := lg.Slog()

	eng, err := engine.New(ctx, cfg.Engine(logger))
	if err != nil {
		lg.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: lg, logger: logger, eng: eng}, nil
}

// close drains queued tasks. It ignores ctx cancellation so an interrupted
// command still lets an in-flight rollback finish.
func (a *app) close(ctx context.Context) {
	if err := a.eng.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("closing engine failed", "error", err)
	}
	a.log.Close()
}

// target parses "<kind> <name>" arguments.
func (a *app) target(kind, name string) (engine.Target, error) {
	k, err := engine.ParseKind(kind)
	if err != nil {
		return engine.Target{}, err
	}
	return a.eng.Resolve(k, name)
}
