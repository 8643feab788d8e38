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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tensorwatch/services/debugger/datatypes"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
	"github.com/AleutianAI/tensorwatch/services/debugger/telemetry"
	"github.com/AleutianAI/tensorwatch/services/debugger/watchpoint"
)

// groupWatchNodes converts payload nodes into per-rank engine nodes.
func groupWatchNodes(nodes []datatypes.WatchNode) map[int][]watchpoint.NodeInfo {
	if len(nodes) == 0 {
		return nil
	}
	byRank := make(map[int][]watchpoint.NodeInfo)
	for _, n := range nodes {
		byRank[n.RankID] = append(byRank[n.RankID], watchpoint.NodeInfo{
			Name:     n.Name,
			FullName: n.FullName,
			Type:     n.Type,
		})
	}
	return byRank
}

// ListWatchpoints returns every watchpoint of a session.
func ListWatchpoints(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		infos, err := sess.Server.Watchpoints().Get(0)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"watch_points": infos})
	}
}

// CreateWatchpoint registers a watchpoint on a session.
func CreateWatchpoint(mgr *session.Manager, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		var req datatypes.CreateWatchpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeBadRequest(c, err)
			return
		}

		id, err := sess.Server.Watchpoints().Create(watchpoint.CreateRequest{
			ConditionKey: req.Condition.ID,
			Params:       req.ConditionParams(),
			Name:         req.Name,
			WatchNodes:   groupWatchNodes(req.WatchNodes),
			CopyFrom:     req.CopyFrom,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		metrics.RecordWatchpointCreated(c.Request.Context(), req.Condition.ID)
		slog.Info("watchpoint created",
			"sessionId", sess.ID, "watchpointId", id, "condition", req.Condition.ID)
		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

// UpdateWatchpoint adds nodes to or removes nodes from a watchpoint.
func UpdateWatchpoint(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		var req datatypes.UpdateWatchpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeBadRequest(c, err)
			return
		}

		reg := sess.Server.Watchpoints()
		watched := req.Mode == "add"
		for rank, nodes := range groupWatchNodes(req.WatchNodes) {
			if err := reg.Update(req.WatchpointID, nodes, watched, rank); err != nil {
				writeError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// DeleteWatchpoint removes one watchpoint, or every watchpoint when the
// id parameter is "all".
func DeleteWatchpoint(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		reg := sess.Server.Watchpoints()

		raw := c.Param("watchpointId")
		if raw == "all" {
			if err := reg.DeleteAll(); err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "success"})
			return
		}

		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, derrors.New(derrors.CodeParamType,
				"invalid watchpoint id %q", raw))
			return
		}
		if err := reg.Delete(id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}
