// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tensorwatch/services/debugger/datatypes"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
	"github.com/AleutianAI/tensorwatch/services/debugger/stream"
)

// ControlSession queues a run, pause or terminate directive for the
// training client. Continuing first drains pending watchpoint directives
// so the client always evaluates the current watchpoint set.
func ControlSession(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		var req datatypes.ControlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeBadRequest(c, err)
			return
		}

		srv := sess.Server
		switch req.Mode {
		case "continue":
			if req.Level == string(stream.RunLevelRecheck) && !srv.Watchpoints().Recheckable() {
				writeError(c, derrors.New(derrors.CodeParamValue,
					"nothing to recheck, watchpoints unchanged since last run"))
				return
			}
			srv.QueueWatchpointCommands()
			run := stream.RunCommand{
				Level:    stream.RunLevel(req.Level),
				Steps:    req.Steps,
				NodeName: req.NodeName,
			}
			if run.Level == "" {
				run.Level = stream.RunLevelStep
			}
			srv.PutCommand(stream.Command{Run: &run})
		case "pause":
			srv.PutCommand(stream.Command{Run: &stream.RunCommand{
				Level: stream.RunLevelStep,
				Steps: 0,
			}})
		case "terminate":
			srv.PutCommand(stream.Command{Exit: true})
		}

		slog.Info("control directive queued",
			"sessionId", sess.ID, "mode", req.Mode, "level", req.Level)
		c.JSON(http.StatusOK, gin.H{"metadata": gin.H{"state": srv.Status().String()}})
	}
}

// ViewTensors queues a tensor retrieval directive for the training client.
func ViewTensors(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		var req datatypes.ViewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeBadRequest(c, err)
			return
		}

		sess.Server.PutCommand(stream.Command{View: &stream.ViewCommand{
			Tensors:   req.Tensors,
			Level:     stream.ViewLevel(req.Level),
			NodeName:  req.NodeName,
			GraphName: req.GraphName,
		}})
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}
