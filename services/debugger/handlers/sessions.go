// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tensorwatch/services/debugger/datatypes"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
	"github.com/AleutianAI/tensorwatch/services/debugger/telemetry"
)

func describeSession(sess *session.Session) datatypes.SessionResponse {
	return datatypes.SessionResponse{
		SessionID:   sess.ID,
		SessionType: string(sess.Mode),
		TrainJob:    sess.TrainJob,
		State:       sess.Server.Status().String(),
	}
}

// CreateSession opens an online or offline debugger session.
func CreateSession(mgr *session.Manager, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeBadRequest(c, err)
			return
		}

		var (
			id  string
			err error
		)
		if req.SessionType == "ONLINE" {
			id, err = mgr.CreateOnline()
		} else {
			id, err = mgr.CreateOffline(req.DumpDir)
		}
		if err != nil {
			slog.Warn("session creation rejected",
				"type", req.SessionType, "error", err)
			writeError(c, err)
			return
		}

		sess, err := mgr.Get(id)
		if err != nil {
			writeError(c, err)
			return
		}
		metrics.RecordSessionDelta(c.Request.Context(), 1, req.SessionType)
		slog.Info("debugger session created", "sessionId", id, "type", req.SessionType)
		c.JSON(http.StatusOK, describeSession(sess))
	}
}

// GetSession returns one session's description.
func GetSession(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, describeSession(sess))
	}
}

// ListTrainJobs returns the train job to session id mapping of offline
// sessions.
func ListTrainJobs(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"train_jobs": mgr.TrainJobs()})
	}
}

// DeleteSession closes a session and releases its slot.
func DeleteSession(mgr *session.Manager, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		sess, err := mgr.Get(id)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := mgr.Delete(sess.ID); err != nil {
			writeError(c, err)
			return
		}
		metrics.RecordSessionDelta(c.Request.Context(), -1, string(sess.Mode))
		slog.Info("debugger session deleted", "sessionId", sess.ID)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sess.ID})
	}
}

// ListDumpIterations returns the persisted dump iterations of an offline
// session for one rank.
func ListDumpIterations(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		if sess.Store == nil {
			writeError(c, derrors.New(derrors.CodeParamValue,
				"session %s is not dump-backed", sess.ID))
			return
		}
		rank, err := strconv.Atoi(c.DefaultQuery("rank_id", "0"))
		if err != nil || rank < 0 {
			writeBadRequest(c, fmt.Errorf("invalid rank_id %q", c.Query("rank_id")))
			return
		}
		iterations, err := sess.Store.Iterations(rank)
		if err != nil {
			writeError(c, err)
			return
		}
		graphs, err := sess.Store.GraphNames(rank)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"iterations":  iterations,
			"graph_names": graphs,
		})
	}
}

// GetSessionMetadata returns the trainer-reported metadata of a session.
func GetSessionMetadata(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}
		md := sess.Server.Metadata()
		c.JSON(http.StatusOK, gin.H{
			"metadata":    md,
			"graph_names": sess.Server.Graphs().GraphNames(),
		})
	}
}
