// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command tensorwatch starts the training debugger API server.
//
// The server exposes the debugger REST API under /v1/debugger, the trainer
// websocket under /v1/debugger/sessions/:sessionId/trainer, and Prometheus
// metrics under /metrics.
//
// Usage:
//
//	go run ./cmd/tensorwatch serve
//	go run ./cmd/tensorwatch serve --port 9090
//
// Environment:
//
//	TENSORWATCH_DUMP_ROOT      root directory of offline dump sessions
//	TENSORWATCH_ENABLE_ONLINE  create the online session eagerly (default true)
//	TENSORWATCH_LOG_LEVEL      debug | info | warn | error
//	TENSORWATCH_LOG_DIR        enables JSON file logging when set
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tensorwatch",
	Short: "Training debugger watchpoint engine",
	Long: "tensorwatch inspects running or dumped deep-learning training jobs:\n" +
		"it receives computational graphs, tensors and watchpoint hits from a\n" +
		"training client and serves them to a debugging UI.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
