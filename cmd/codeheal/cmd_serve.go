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
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codeheal/services/api"
	"github.com/AleutianAI/codeheal/services/store"
	"github.com/AleutianAI/codeheal/services/telemetry"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the healing HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTelemetry(sctx)
			}()

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()
			log := a.logger.Slog()

			storeCfg := store.DefaultConfig()
			storeCfg.Path = cfg.Store.Path
			storeCfg.InMemory = cfg.Store.InMemory
			storeCfg.TTL = cfg.Store.TTL
			storeCfg.Logger = log.With(slog.String("component", "store"))
			results, err := store.Open(storeCfg)
			if err != nil {
				return fmt.Errorf("session store: %w", err)
			}
			defer results.Close()

			gin.SetMode(gin.ReleaseMode)
			apiCfg := api.DefaultConfig()
			apiCfg.ServiceName = cfg.Telemetry.ServiceName
			apiCfg.Version = version
			apiCfg.RateLimit = cfg.Server.RateLimit
			apiCfg.RateBurst = cfg.Server.RateBurst
			router := api.NewRouter(apiCfg, a.orchestrator, results, log)

			return serve(ctx, a, router, log)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

// serve runs the HTTP server and the prompt watcher until ctx ends, then
// drains in-flight requests.
func serve(ctx context.Context, a *app, handler http.Handler, log *slog.Logger) error {
	cfg := a.cfg
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.Prompts.Watch && cfg.Prompts.Dir != "" {
		g.Go(func() error {
			if err := a.prompts.Watch(gctx); err != nil {
				log.Warn("Prompt hot reload disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	return g.Wait()
}
