// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tensorwatch/services/debugger/datatypes"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
	"github.com/AleutianAI/tensorwatch/services/debugger/watchpoint"
)

// GetWatchpointHits returns one page of grouped hits for a session.
func GetWatchpointHits(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		var q datatypes.HitsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeBadRequest(c, err)
			return
		}
		if err := q.Validate(); err != nil {
			writeBadRequest(c, err)
			return
		}

		cond := watchpoint.GroupCondition{
			Limit:        q.Limit,
			Offset:       q.Offset,
			GraphID:      q.GraphID,
			WatchpointID: q.WatchpointID,
		}
		if q.FocusedNode != "" {
			cond.FocusedNode = &watchpoint.NodeIdent{
				NodeName:  q.FocusedNode,
				GraphName: q.GraphName,
			}
		}

		result, err := sess.Server.Hits().GroupBy(q.RankID, cond)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// GetTensorHistory lists the output tensors of one node annotated with
// their hit flags.
func GetTensorHistory(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		var q datatypes.TensorHistoryQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeBadRequest(c, err)
			return
		}
		if err := q.Validate(); err != nil {
			writeBadRequest(c, err)
			return
		}

		g, ok := sess.Server.Graphs().Graph(q.GraphName)
		if !ok {
			writeError(c, derrors.New(derrors.CodeGraphNotExist,
				"graph %q not found", q.GraphName))
			return
		}
		h, ok := g.ByName(q.NodeName)
		if !ok {
			writeError(c, derrors.New(derrors.CodeParamValue,
				"node %q not found in graph %q", q.NodeName, q.GraphName))
			return
		}
		node, _ := g.Node(h)

		entries := make([]watchpoint.TensorHistoryEntry, node.Slots)
		for slot := 0; slot < node.Slots; slot++ {
			entries[slot] = watchpoint.TensorHistoryEntry{
				Name:      fmt.Sprintf("%s:%d", node.Name, slot),
				GraphName: q.GraphName,
			}
		}
		sess.Server.Hits().UpdateTensorHistory(q.RankID, entries)
		c.JSON(http.StatusOK, gin.H{"tensor_history": entries})
	}
}
