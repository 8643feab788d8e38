// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tensorwatch/services/debugger/graph"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestEnv builds a router with a live session manager. The debugger
// routes are registered manually to keep the test free of the telemetry
// and otelgin layers.
func newTestEnv(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	root := t.TempDir()
	for _, job := range []string{"job_a", "job_b"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, job), 0750))
	}

	mgr, err := session.NewManager(session.Config{
		DumpRoot:     root,
		EnableOnline: true,
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Exit)

	router := gin.New()
	v1 := router.Group("/v1/debugger")
	v1.GET("/conditions", ListConditions())
	sessions := v1.Group("/sessions")
	sessions.POST("", CreateSession(mgr, nil))
	sessions.GET("/train-jobs", ListTrainJobs(mgr))
	sessions.GET("/:sessionId", GetSession(mgr))
	sessions.DELETE("/:sessionId", DeleteSession(mgr, nil))
	sessions.GET("/:sessionId/metadata", GetSessionMetadata(mgr))
	sessions.GET("/:sessionId/iterations", ListDumpIterations(mgr))
	sessions.POST("/:sessionId/control", ControlSession(mgr))
	sessions.POST("/:sessionId/tensors/view", ViewTensors(mgr))
	sessions.GET("/:sessionId/watchpoints", ListWatchpoints(mgr))
	sessions.POST("/:sessionId/watchpoints", CreateWatchpoint(mgr, nil))
	sessions.PUT("/:sessionId/watchpoints", UpdateWatchpoint(mgr))
	sessions.DELETE("/:sessionId/watchpoints/:watchpointId", DeleteWatchpoint(mgr))
	sessions.GET("/:sessionId/hits", GetWatchpointHits(mgr))
	sessions.GET("/:sessionId/tensor-history", GetTensorHistory(mgr))
	return router, mgr
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// feedGraph pushes a small graph into a session so watchpoint hits can
// resolve node names.
func feedGraph(t *testing.T, mgr *session.Manager, sessionID string) {
	t.Helper()
	sess, err := mgr.Get(sessionID)
	require.NoError(t, err)
	d := graph.Def{
		Name: "kernel_graph_0",
		Nodes: []graph.NodeDef{
			{Name: "Default/conv1/Conv2D-op1", FullName: "Conv2D-op1", Type: "Conv2D"},
		},
	}
	buf, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, sess.Server.SendGraph([][]byte{buf}))
}

func TestListConditions(t *testing.T) {
	router, _ := newTestEnv(t)
	w := doJSON(t, router, http.MethodGet, "/v1/debugger/conditions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	conds, ok := body["conditions"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, conds)

	found := false
	for _, raw := range conds {
		c := raw.(map[string]any)
		if c["id"] == "tensor_too_large" {
			found = true
			assert.Equal(t, float64(15), c["code"])
			assert.Equal(t, "TL", c["abbr"])
			assert.Equal(t, "tensor", c["target"])
			assert.NotEmpty(t, c["parameters"])
		}
	}
	assert.True(t, found, "catalog must list tensor_too_large")
}

func TestSessionLifecycle(t *testing.T) {
	router, _ := newTestEnv(t)

	t.Run("online session exists eagerly", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/debugger/sessions/0", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "0", body["session_id"])
		assert.Equal(t, "ONLINE", body["session_type"])
		assert.Equal(t, "pending", body["state"])
	})

	t.Run("create offline session", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/debugger/sessions",
			map[string]any{"session_type": "OFFLINE", "dump_dir": "job_a"})
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "1", body["session_id"])
		assert.Equal(t, "job_a", body["train_job"])
	})

	t.Run("train jobs lists the offline session", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/debugger/sessions/train-jobs", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		jobs := body["train_jobs"].(map[string]any)
		assert.Equal(t, "1", jobs["job_a"])
	})

	t.Run("traversal in dump dir is rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/debugger/sessions",
			map[string]any{"session_type": "OFFLINE", "dump_dir": "../secrets"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(50540001), body["error_code"])
	})

	t.Run("missing dump dir fails validation", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/debugger/sessions",
			map[string]any{"session_type": "OFFLINE"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/debugger/sessions/42", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(50540003), body["error_code"])
	})

	t.Run("session table cap maps to 429", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/debugger/sessions",
			map[string]any{"session_type": "OFFLINE", "dump_dir": "job_b"})
		require.Equal(t, http.StatusOK, w.Code)

		// Third distinct job exceeds MAX_SESSION_NUM.
		w = doJSON(t, router, http.MethodPost, "/v1/debugger/sessions",
			map[string]any{"session_type": "OFFLINE", "dump_dir": "job_c"})
		require.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("delete releases the slot", func(t *testing.T) {
		w := doJSON(t, router, http.MethodDelete, "/v1/debugger/sessions/1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		w = doJSON(t, router, http.MethodGet, "/v1/debugger/sessions/1", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWatchpointEndpoints(t *testing.T) {
	router, _ := newTestEnv(t)
	base := "/v1/debugger/sessions/0/watchpoints"

	create := map[string]any{
		"condition": map[string]any{
			"id":     "tensor_too_large",
			"params": []map[string]any{{"name": "max_gt", "value": 0.1}},
		},
		"watch_nodes": []map[string]any{
			{"name": "Default/conv1/Conv2D-op1", "full_name": "Conv2D-op1"},
		},
	}

	t.Run("create", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, base, create)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), decodeBody(t, w)["id"])
	})

	t.Run("unknown condition is rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, base, map[string]any{
			"condition": map[string]any{"id": "no_such_condition"},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, float64(50540001), decodeBody(t, w)["error_code"])
	})

	t.Run("list", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, w.Code)
		points := decodeBody(t, w)["watch_points"].([]any)
		require.Len(t, points, 1)
		wp := points[0].(map[string]any)
		cond := wp["watch_condition"].(map[string]any)
		assert.Equal(t, "tensor_too_large", cond["id"])
	})

	t.Run("update removes nodes", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPut, base, map[string]any{
			"watch_point_id": 1,
			"mode":           "remove",
			"watch_nodes": []map[string]any{
				{"name": "Default/conv1/Conv2D-op1", "full_name": "Conv2D-op1"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("update unknown id fails", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPut, base, map[string]any{
			"watch_point_id": 99,
			"mode":           "add",
			"watch_nodes":    []map[string]any{{"name": "Default/x"}},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delete by id", func(t *testing.T) {
		w := doJSON(t, router, http.MethodDelete, base+"/1", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("delete with junk id is a type error", func(t *testing.T) {
		w := doJSON(t, router, http.MethodDelete, base+"/abc", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, float64(50540002), decodeBody(t, w)["error_code"])
	})

	t.Run("delete all on empty registry succeeds", func(t *testing.T) {
		w := doJSON(t, router, http.MethodDelete, base+"/all", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHitsEndpoint(t *testing.T) {
	router, _ := newTestEnv(t)

	t.Run("empty recorder first page", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			"/v1/debugger/sessions/0/hits?limit=10", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(0), body["total"])
	})

	t.Run("non-positive limit is rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			"/v1/debugger/sessions/0/hits?limit=0", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown rank is rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			"/v1/debugger/sessions/0/hits?limit=10&rank_id=7", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestControlEndpoint(t *testing.T) {
	router, mgr := newTestEnv(t)
	feedGraph(t, mgr, "0")
	base := "/v1/debugger/sessions/0/control"

	t.Run("pause", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, base, map[string]any{"mode": "pause"})
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("continue with steps", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, base,
			map[string]any{"mode": "continue", "steps": 2})
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown mode fails validation", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, base, map[string]any{"mode": "sprint"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("view requires tensors", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			"/v1/debugger/sessions/0/tensors/view",
			map[string]any{"level": "stats"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("view queues a command", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost,
			"/v1/debugger/sessions/0/tensors/view",
			map[string]any{"level": "stats", "tensors": []string{"Conv2D-op1:0"}})
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("recheck needs changed watchpoints", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, base,
			map[string]any{"mode": "continue", "level": "recheck"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, float64(50540001), decodeBody(t, w)["error_code"])
	})

	t.Run("recheck after a watchpoint change", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/debugger/sessions/0/watchpoints",
			map[string]any{
				"condition": map[string]any{
					"id":     "tensor_too_large",
					"params": []map[string]any{{"name": "max_gt", "value": 0.1}},
				},
			})
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, http.MethodPost, base,
			map[string]any{"mode": "continue", "level": "recheck"})
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestDumpIterationsEndpoint(t *testing.T) {
	router, mgr := newTestEnv(t)

	w := doJSON(t, router, http.MethodPost, "/v1/debugger/sessions",
		map[string]any{"session_type": "OFFLINE", "dump_dir": "job_a"})
	require.Equal(t, http.StatusOK, w.Code)

	sess, err := mgr.Get("1")
	require.NoError(t, err)
	require.NotNil(t, sess.Store)
	require.NoError(t, sess.Store.PutTensor(0, 3, "Conv2D-op1:0", []byte{1, 2}))
	require.NoError(t, sess.Store.PutTensor(0, 1, "Conv2D-op1:0", []byte{3, 4}))

	t.Run("iterations are sorted", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			"/v1/debugger/sessions/1/iterations", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		iters := body["iterations"].([]any)
		require.Len(t, iters, 2)
		assert.Equal(t, float64(1), iters[0])
		assert.Equal(t, float64(3), iters[1])
	})

	t.Run("online session has no dump store", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			"/v1/debugger/sessions/0/iterations", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad rank id", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			"/v1/debugger/sessions/1/iterations?rank_id=-1", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTensorHistoryEndpoint(t *testing.T) {
	router, mgr := newTestEnv(t)
	feedGraph(t, mgr, "0")
	base := "/v1/debugger/sessions/0/tensor-history"

	t.Run("known node lists its slots", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			base+"?node_name=Default%2Fconv1%2FConv2D-op1&graph_name=kernel_graph_0", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		history := body["tensor_history"].([]any)
		require.Len(t, history, 1)
		entry := history[0].(map[string]any)
		assert.Equal(t, "Default/conv1/Conv2D-op1:0", entry["name"])
		assert.Equal(t, false, entry["is_hit"])
	})

	t.Run("unknown graph", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			base+"?node_name=Default%2Fx&graph_name=no_such_graph", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, float64(50540005), decodeBody(t, w)["error_code"])
	})

	t.Run("unknown node", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet,
			base+"?node_name=Default%2Fmissing&graph_name=kernel_graph_0", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing params fail validation", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, base, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionMetadataEndpoint(t *testing.T) {
	router, mgr := newTestEnv(t)
	feedGraph(t, mgr, "0")

	w := doJSON(t, router, http.MethodGet, "/v1/debugger/sessions/0/metadata", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	names := body["graph_names"].([]any)
	require.Len(t, names, 1)
	assert.Equal(t, "kernel_graph_0", names[0])
}
