// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the debugger REST and websocket endpoints onto a
// gin router.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/tensorwatch/services/debugger/handlers"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
	"github.com/AleutianAI/tensorwatch/services/debugger/telemetry"
)

// requestID tags every request with an X-Request-ID header, honoring one
// supplied by the caller.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// NewRouter builds the debugger service router.
//
// Endpoints:
//
//	POST   /v1/debugger/sessions - Open a session
//	GET    /v1/debugger/sessions/train-jobs - List offline train jobs
//	GET    /v1/debugger/sessions/:sessionId - Describe a session
//	DELETE /v1/debugger/sessions/:sessionId - Close a session
//	GET    /v1/debugger/sessions/:sessionId/metadata - Trainer metadata
//	GET    /v1/debugger/sessions/:sessionId/iterations - Offline dump index
//	GET    /v1/debugger/sessions/:sessionId/events - Long-poll UI events
//	POST   /v1/debugger/sessions/:sessionId/control - Run/pause/terminate
//	POST   /v1/debugger/sessions/:sessionId/tensors/view - Request tensors
//	GET    /v1/debugger/sessions/:sessionId/watchpoints - List watchpoints
//	POST   /v1/debugger/sessions/:sessionId/watchpoints - Create watchpoint
//	PUT    /v1/debugger/sessions/:sessionId/watchpoints - Update nodes
//	DELETE /v1/debugger/sessions/:sessionId/watchpoints/:watchpointId - Delete
//	GET    /v1/debugger/sessions/:sessionId/hits - Grouped watchpoint hits
//	GET    /v1/debugger/sessions/:sessionId/tensor-history - Node tensors with hit flags
//	GET    /v1/debugger/conditions - Watch condition catalog
//	GET    /v1/debugger/sessions/:sessionId/trainer - Trainer websocket
//	GET    /metrics - Prometheus exposition
//	GET    /health - Liveness
func NewRouter(mgr *session.Manager, metrics *telemetry.Metrics) *gin.Engine {
	router := gin.Default()
	router.Use(requestID())
	router.Use(otelgin.Middleware(telemetry.ServiceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(telemetry.PrometheusHandler()))

	v1 := router.Group("/v1/debugger")
	RegisterRoutes(v1, mgr, metrics)
	return router
}

// RegisterRoutes registers the debugger endpoints on a router group.
func RegisterRoutes(rg *gin.RouterGroup, mgr *session.Manager, metrics *telemetry.Metrics) {
	rg.GET("/conditions", handlers.ListConditions())

	sessions := rg.Group("/sessions")
	{
		sessions.POST("", handlers.CreateSession(mgr, metrics))
		sessions.GET("/train-jobs", handlers.ListTrainJobs(mgr))
		sessions.GET("/:sessionId", handlers.GetSession(mgr))
		sessions.DELETE("/:sessionId", handlers.DeleteSession(mgr, metrics))
		sessions.GET("/:sessionId/metadata", handlers.GetSessionMetadata(mgr))
		sessions.GET("/:sessionId/iterations", handlers.ListDumpIterations(mgr))
		sessions.GET("/:sessionId/events", handlers.PollEvents(mgr))
		sessions.POST("/:sessionId/control", handlers.ControlSession(mgr))
		sessions.POST("/:sessionId/tensors/view", handlers.ViewTensors(mgr))

		sessions.GET("/:sessionId/watchpoints", handlers.ListWatchpoints(mgr))
		sessions.POST("/:sessionId/watchpoints", handlers.CreateWatchpoint(mgr, metrics))
		sessions.PUT("/:sessionId/watchpoints", handlers.UpdateWatchpoint(mgr))
		sessions.DELETE("/:sessionId/watchpoints/:watchpointId", handlers.DeleteWatchpoint(mgr))

		sessions.GET("/:sessionId/hits", handlers.GetWatchpointHits(mgr))
		sessions.GET("/:sessionId/tensor-history", handlers.GetTensorHistory(mgr))

		sessions.GET("/:sessionId/trainer", handlers.TrainerSocket(mgr, metrics))
	}
}
