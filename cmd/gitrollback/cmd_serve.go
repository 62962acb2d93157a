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
	"net/http"
	"time"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/api"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/rollback"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/telemetry"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/watch"
	"github.com/spf13/cobra"
)

var (
	serveListen string
	serveWatch  bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, optionally, the change watcher",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "override server.listen")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "snapshot targets when their files change (overrides watch.enabled)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	tcfg := a.cfg.Telemetry
	tcfg.ServiceVersion = version
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	gitcli.SetMetricsEnabled(tcfg.MetricsEnabled())
	rollback.SetMetricsEnabled(tcfg.MetricsEnabled())

	if serveWatch || a.cfg.Watch.Enabled {
		w, err := watch.New(a.eng, watch.Options{
			Worlds:      a.eng.Worlds(),
			PlayersDir:  a.cfg.PlayersDir,
			Debounce:    a.cfg.Watch.Debounce,
			MinInterval: a.cfg.Watch.MinInterval,
			Logger:      a.logger,
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	api.ServiceVersion = version
	router := api.NewRouter(api.NewHandlers(a.eng, a.logger), telemetry.MetricsHandler())

	listen := a.cfg.Server.Listen
	if serveListen != "" {
		listen = serveListen
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", listen, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
