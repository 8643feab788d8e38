// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watchpoint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
)

func tooLargeSnapshot(t *testing.T, id int, maxGT float64) Snapshot {
	t.Helper()
	inst, err := condition.NewInstance("tensor_too_large",
		[]condition.ParamValue{{Name: "max_gt", Value: maxGT}})
	require.NoError(t, err)
	return Snapshot{ID: id, Condition: inst}
}

func testHit(t *testing.T, wpID int, node, graphName string, slot string) Hit {
	t.Helper()
	return Hit{
		Tensor: TensorRef{
			NodeName:  node,
			Slot:      slot,
			GraphName: graphName,
			Iteration: 1,
		},
		Watchpoint: tooLargeSnapshot(t, wpID, 1.0),
	}
}

func TestRecorder_Put(t *testing.T) {
	t.Run("duplicate record is suppressed", func(t *testing.T) {
		r := NewRecorder()
		h := testHit(t, 1, "Default/conv1", "kernel_graph_0", "0")
		r.Put(h)
		r.Put(h)

		res, err := r.GroupBy(GroupCondition{Limit: 10})
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)
		require.Len(t, res.Hits[0].Tensors, 1)
		assert.Len(t, res.Hits[0].Tensors[0].WatchPoints, 1)
	})

	t.Run("different watchpoints share a slot", func(t *testing.T) {
		r := NewRecorder()
		r.Put(testHit(t, 2, "Default/conv1", "kernel_graph_0", "0"))
		r.Put(testHit(t, 1, "Default/conv1", "kernel_graph_0", "0"))

		res, err := r.GroupBy(GroupCondition{Limit: 10})
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)
		wps := res.Hits[0].Tensors[0].WatchPoints
		require.Len(t, wps, 2)
		assert.Equal(t, 1, wps[0].WatchpointID, "hit detail sorted by watchpoint id")
		assert.Equal(t, 2, wps[1].WatchpointID)
	})
}

func TestRecorder_GroupBy(t *testing.T) {
	fill := func(t *testing.T, n int) *Recorder {
		r := NewRecorder()
		for i := 0; i < n; i++ {
			r.Put(testHit(t, 1, fmt.Sprintf("Default/op-%d", i), "kernel_graph_0", "0"))
		}
		return r
	}

	t.Run("limit must be positive", func(t *testing.T) {
		_, err := fill(t, 1).GroupBy(GroupCondition{Limit: 0})
		assert.Equal(t, derrors.CodeParamValue, derrors.CodeOf(err))
	})

	t.Run("pagination never splits a node", func(t *testing.T) {
		r := fill(t, 5)
		page0, err := r.GroupBy(GroupCondition{Limit: 2, Offset: 0})
		require.NoError(t, err)
		page2, err := r.GroupBy(GroupCondition{Limit: 2, Offset: 2})
		require.NoError(t, err)

		assert.Equal(t, 5, page0.Total)
		assert.Len(t, page0.Hits, 2)
		assert.Len(t, page2.Hits, 1, "last page holds the remainder")
	})

	t.Run("offset past the end is an error", func(t *testing.T) {
		_, err := fill(t, 5).GroupBy(GroupCondition{Limit: 2, Offset: 3})
		assert.Equal(t, derrors.CodeParamValue, derrors.CodeOf(err))
	})

	t.Run("offset zero on empty recorder is fine", func(t *testing.T) {
		res, err := NewRecorder().GroupBy(GroupCondition{Limit: 2})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
		assert.Empty(t, res.Hits)
	})

	t.Run("default order follows the graph id suffix", func(t *testing.T) {
		r := NewRecorder()
		r.Put(testHit(t, 1, "Default/op-a", "kernel_graph_10", "0"))
		r.Put(testHit(t, 1, "Default/op-b", "kernel_graph_2", "0"))

		res, err := r.GroupBy(GroupCondition{Limit: 10})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)
		assert.Equal(t, "kernel_graph_2", res.Hits[0].GraphID)
		assert.Equal(t, "kernel_graph_10", res.Hits[1].GraphID)
	})

	t.Run("graph filter", func(t *testing.T) {
		r := NewRecorder()
		r.Put(testHit(t, 1, "Default/op-a", "kernel_graph_0", "0"))
		r.Put(testHit(t, 1, "Default/op-b", "kernel_graph_1", "0"))

		res, err := r.GroupBy(GroupCondition{Limit: 10, GraphID: "kernel_graph_1"})
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)
		assert.Equal(t, "Default/op-b", res.Hits[0].NodeName)
	})

	t.Run("watchpoint filter", func(t *testing.T) {
		r := NewRecorder()
		r.Put(testHit(t, 1, "Default/op-a", "kernel_graph_0", "0"))
		r.Put(testHit(t, 2, "Default/op-b", "kernel_graph_0", "0"))

		res, err := r.GroupBy(GroupCondition{Limit: 10, WatchpointID: 2})
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)
		assert.Equal(t, "Default/op-b", res.Hits[0].NodeName)
	})

	t.Run("focused node selects its page", func(t *testing.T) {
		r := fill(t, 7)
		res, err := r.GroupBy(GroupCondition{
			Limit: 2,
			FocusedNode: &NodeIdent{
				NodeName: "Default/op-5", GraphName: "kernel_graph_0",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Offset)
		require.Len(t, res.Hits, 2)
		assert.Equal(t, "Default/op-5", res.Hits[1].NodeName)
	})
}

func TestRecorder_TooLargeScenario(t *testing.T) {
	// A max_gt watchpoint fires with the observed maximum as actual value.
	inst, err := condition.NewInstance("tensor_too_large",
		[]condition.ParamValue{{Name: "max_gt", Value: 0.1}})
	require.NoError(t, err)
	inst.Params[0].ActualValue = 0.5

	r := NewRecorder()
	r.Put(Hit{
		Tensor: TensorRef{
			NodeName: "Default/conv1/Conv2D-op1", Slot: "0",
			GraphName: "kernel_graph_0", Iteration: 2,
		},
		Watchpoint: Snapshot{ID: 1, Condition: inst},
	})

	res, err := r.GroupBy(GroupCondition{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	wp := res.Hits[0].Tensors[0].WatchPoints[0]
	assert.Equal(t, "tensor_too_large", wp.ConditionID)
	require.Len(t, wp.Params, 1)
	assert.Equal(t, 0.5, wp.Params[0].ActualValue)
	assert.Empty(t, wp.ErrorList)
}

func TestRecorder_ErrorCodes(t *testing.T) {
	h := testHit(t, 1, "Default/conv1", "kernel_graph_0", "0")
	h.ErrorCode = ErrBitNaN | ErrBitNoPrevTensor

	r := NewRecorder()
	r.Put(h)
	res, err := r.GroupBy(GroupCondition{Limit: 10})
	require.NoError(t, err)
	wp := res.Hits[0].Tensors[0].WatchPoints[0]
	assert.Equal(t, []string{"nan", "no_prev_tensor"}, wp.ErrorList)
}

func TestRecorder_TensorLookups(t *testing.T) {
	r := NewRecorder()
	r.Put(testHit(t, 1, "Default/conv1", "kernel_graph_0", "0"))

	t.Run("is tensor hit", func(t *testing.T) {
		assert.True(t, r.IsTensorHit("Default/conv1", "0", "kernel_graph_0"))
		assert.False(t, r.IsTensorHit("Default/conv1", "1", "kernel_graph_0"))
		assert.False(t, r.IsTensorHit("Default/conv2", "0", "kernel_graph_0"))
	})

	t.Run("tensor hit infos splits on the last colon", func(t *testing.T) {
		detail, ok := r.TensorHitInfos("Default/conv1:0", "kernel_graph_0")
		require.True(t, ok)
		assert.Equal(t, "0", detail.Slot)
		require.Len(t, detail.WatchPoints, 1)
		assert.Equal(t, 1, detail.WatchPoints[0].WatchpointID)
	})

	t.Run("malformed tensor name", func(t *testing.T) {
		_, ok := r.TensorHitInfos("Default/conv1", "kernel_graph_0")
		assert.False(t, ok)
	})

	t.Run("update tensor history", func(t *testing.T) {
		entries := []TensorHistoryEntry{
			{Name: "Default/conv1:0", GraphName: "kernel_graph_0"},
			{Name: "Default/conv2:0", GraphName: "kernel_graph_0"},
		}
		r.UpdateTensorHistory(entries)
		assert.True(t, entries[0].IsHit)
		assert.False(t, entries[1].IsHit)
	})
}

func TestRecorder_Clean(t *testing.T) {
	r := NewRecorder()
	r.Put(testHit(t, 1, "Default/conv1", "kernel_graph_0", "0"))
	r.Clean()

	assert.True(t, r.Empty())
	res, err := r.GroupBy(GroupCondition{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestMultiRankRecorder(t *testing.T) {
	t.Run("hits partition by rank", func(t *testing.T) {
		m := NewMultiRankRecorder()
		h0 := testHit(t, 1, "Default/conv1", "kernel_graph_0", "0")
		h1 := testHit(t, 1, "Default/conv2", "kernel_graph_0", "0")
		h1.Tensor.Rank = 1
		m.Put(map[int][]Hit{0: {h0}, 1: {h1}})

		res0, err := m.GroupBy(0, GroupCondition{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, "Default/conv1", res0.Hits[0].NodeName)

		res1, err := m.GroupBy(1, GroupCondition{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, "Default/conv2", res1.Hits[0].NodeName)
	})

	t.Run("unknown rank retrieval fails", func(t *testing.T) {
		m := NewMultiRankRecorder()
		_, err := m.GroupBy(3, GroupCondition{Limit: 10})
		assert.Equal(t, derrors.CodeParamValue, derrors.CodeOf(err))
	})

	t.Run("unknown rank history marks all unhit", func(t *testing.T) {
		m := NewMultiRankRecorder()
		entries := []TensorHistoryEntry{
			{Name: "Default/conv1:0", GraphName: "kernel_graph_0", IsHit: true},
		}
		m.UpdateTensorHistory(5, entries)
		assert.False(t, entries[0].IsHit)
	})

	t.Run("rank zero is preset", func(t *testing.T) {
		m := NewMultiRankRecorder()
		res, err := m.GroupBy(0, GroupCondition{Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
	})
}
