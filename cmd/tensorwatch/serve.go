// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/tensorwatch/pkg/logging"
	"github.com/AleutianAI/tensorwatch/services/debugger/routes"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
	"github.com/AleutianAI/tensorwatch/services/debugger/stream"
	"github.com/AleutianAI/tensorwatch/services/debugger/telemetry"
)

var (
	servePort  int
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the debugger API server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the debugger protocol version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(stream.Version)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug mode")
}

// envBool reads a boolean environment variable with a default.
func envBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid boolean environment variable, using default",
			"key", key, "value", raw, "default", def)
		return def
	}
	return v
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("TENSORWATCH_LOG_LEVEL")),
		LogDir:  os.Getenv("TENSORWATCH_LOG_DIR"),
		Service: "tensorwatch",
	})
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownMetrics, err := telemetry.Init(cmd.Context(), stream.Version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			slog.Warn("metrics shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mgr, err := session.NewManager(session.Config{
		DumpRoot:     os.Getenv("TENSORWATCH_DUMP_ROOT"),
		EnableOnline: envBool("TENSORWATCH_ENABLE_ONLINE", true),
		WatchDumps:   envBool("TENSORWATCH_WATCH_DUMPS", false),
		Logger:       logger.Logger,
		Stream: stream.Config{
			OnHeartbeatMiss: func(int) {
				metrics.HeartbeatMisses.Add(context.Background(), 1)
			},
		},
	})
	if err != nil {
		return fmt.Errorf("init session manager: %w", err)
	}
	defer mgr.Exit()

	router := routes.NewRouter(mgr, metrics)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("shutting down tensorwatch server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown failed", "error", err)
		}
	}()

	slog.Info("starting tensorwatch server",
		"address", srv.Addr, "version", stream.Version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
