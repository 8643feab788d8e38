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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/tensorwatch/services/debugger/session"
	"github.com/AleutianAI/tensorwatch/services/debugger/stream"
	"github.com/AleutianAI/tensorwatch/services/debugger/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	// Tensor chunks dominate frame size.
	ReadBufferSize:  10 * 1024 * 1024,
	WriteBufferSize: 10 * 1024 * 1024,
}

// TrainerFrame is one message from the training client. Action selects
// which payload field applies; byte fields arrive base64-encoded per
// encoding/json.
type TrainerFrame struct {
	Action string `json:"action"`

	Metadata        *stream.MetadataRequest    `json:"metadata,omitempty"`
	GraphChunks     [][]byte                   `json:"graph_chunks,omitempty"`
	MultiGraphs     []stream.GraphChunk        `json:"multi_graphs,omitempty"`
	Tensors         []stream.TensorChunk       `json:"tensors,omitempty"`
	TensorBases     []stream.TensorBaseRecord  `json:"tensor_bases,omitempty"`
	TensorStats     []stream.TensorStatsRecord `json:"tensor_stats,omitempty"`
	Hits            []stream.HitReport         `json:"watchpoint_hits,omitempty"`
	HeartbeatPeriod int                        `json:"heartbeat_period,omitempty"`
	Wait            *stream.WaitRequest        `json:"wait,omitempty"`
}

// TrainerAck answers every non-poll frame.
type TrainerAck struct {
	Action string `json:"action"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	Metadata *stream.MetadataAck `json:"metadata,omitempty"`
	Reply    *stream.Reply       `json:"reply,omitempty"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("failed to write websocket JSON", "error", err)
	}
	return err
}

// TrainerSocket upgrades the trainer connection and dispatches its frames
// onto the session's stream server. One trainer connection serves one
// session; frames are handled sequentially in arrival order, matching the
// stream server's per-request semantics.
func TrainerSocket(mgr *session.Manager, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := mgr.Get(c.Param("sessionId"))
		if err != nil {
			writeError(c, err)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the trainer websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("trainer connected", "sessionId", sess.ID)

		srv := sess.Server
		for {
			var frame TrainerFrame
			if err := ws.ReadJSON(&frame); err != nil {
				slog.Info("trainer disconnected", "sessionId", sess.ID, "error", err.Error())
				return
			}
			if !dispatchTrainerFrame(c, ws, srv, metrics, frame) {
				return
			}
		}
	}
}

// dispatchTrainerFrame handles one frame, returning false when the
// connection should close.
func dispatchTrainerFrame(c *gin.Context, ws *websocket.Conn,
	srv *stream.Server, metrics *telemetry.Metrics, frame TrainerFrame) bool {

	ack := TrainerAck{Action: frame.Action}
	switch frame.Action {
	case "metadata":
		if frame.Metadata == nil {
			ack.Status = 1
			ack.Error = "metadata frame without payload"
			break
		}
		md := srv.SendMetadata(*frame.Metadata)
		ack.Metadata = &md

	case "graph":
		if err := srv.SendGraph(frame.GraphChunks); err != nil {
			ack.Status = 1
			ack.Error = err.Error()
		}

	case "multi_graphs":
		if err := srv.SendMultiGraphs(frame.MultiGraphs); err != nil {
			ack.Status = 1
			ack.Error = err.Error()
		}

	case "tensors":
		var bytes int64
		for _, chunk := range frame.Tensors {
			bytes += int64(len(chunk.Content))
		}
		if metrics != nil && bytes > 0 {
			metrics.TensorBytesReceived.Add(c.Request.Context(), bytes)
		}
		dropped := srv.SendTensors(frame.Tensors)
		if metrics != nil && dropped > 0 {
			metrics.TensorsOversized.Add(c.Request.Context(), int64(dropped))
		}

	case "tensor_bases":
		srv.SendTensorBase(frame.TensorBases)

	case "tensor_stats":
		srv.SendTensorStats(frame.TensorStats)

	case "watchpoint_hits":
		srv.SendWatchpointHits(frame.Hits)
		metrics.RecordHits(c.Request.Context(), int64(len(frame.Hits)))

	case "heartbeat":
		period := time.Duration(frame.HeartbeatPeriod) * time.Second
		if err := srv.SendHeartbeat(period); err != nil {
			ack.Status = 1
			ack.Error = err.Error()
		}

	case "wait":
		if frame.Wait == nil {
			ack.Status = 1
			ack.Error = "wait frame without payload"
			break
		}
		start := time.Now()
		reply := srv.WaitCommand(c.Request.Context(), *frame.Wait)
		metrics.RecordPoll(c.Request.Context(), pollOutcome(reply),
			time.Since(start).Seconds())
		ack.Reply = &reply

	default:
		ack.Status = 1
		ack.Error = "unknown action " + frame.Action
	}

	return sendJSON(ws, ack) == nil
}

func pollOutcome(r stream.Reply) string {
	switch {
	case r.Status != 0:
		return "rejected"
	case r.Exit:
		return "exit"
	case r.Run != nil:
		return "run"
	case r.View != nil:
		return "view"
	case r.Set != nil:
		return "set"
	default:
		return "empty"
	}
}
