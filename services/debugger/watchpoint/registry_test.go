// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watchpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
)

func tooLargeRequest(nodes ...NodeInfo) CreateRequest {
	req := CreateRequest{
		ConditionKey: "tensor_too_large",
		Params:       []condition.ParamValue{{Name: "max_gt", Value: 1.0}},
	}
	if len(nodes) > 0 {
		req.WatchNodes = map[int][]NodeInfo{0: nodes}
	}
	return req
}

func TestRegistry_Create(t *testing.T) {
	t.Run("ids are monotone from one", func(t *testing.T) {
		r := NewRegistry(nil)
		id1, err := r.Create(tooLargeRequest())
		require.NoError(t, err)
		id2, err := r.Create(tooLargeRequest())
		require.NoError(t, err)
		assert.Equal(t, 1, id1)
		assert.Equal(t, 2, id2)
	})

	t.Run("deleted id is never reused", func(t *testing.T) {
		r := NewRegistry(nil)
		id1, _ := r.Create(tooLargeRequest())
		require.NoError(t, r.Delete(id1))
		id2, err := r.Create(tooLargeRequest())
		require.NoError(t, err)
		assert.Equal(t, id1+1, id2)
	})

	t.Run("validation failure mutates nothing", func(t *testing.T) {
		r := NewRegistry(nil)
		_, err := r.Create(CreateRequest{
			ConditionKey: "tensor_too_large",
			Params:       []condition.ParamValue{{Name: "bogus", Value: 1.0}},
		})
		require.Error(t, err)
		assert.True(t, derrors.IsParamError(err))
		assert.True(t, r.Empty())

		id, err := r.Create(tooLargeRequest())
		require.NoError(t, err)
		assert.Equal(t, 1, id, "failed creation must not consume an id")
	})

	t.Run("rank outside device amount is rejected", func(t *testing.T) {
		r := NewRegistry(nil)
		req := tooLargeRequest(NodeInfo{Name: "Default/conv1"})
		req.WatchNodes[8] = []NodeInfo{{Name: "Default/conv2"}}
		_, err := r.Create(req)
		require.Error(t, err)
		assert.Equal(t, derrors.CodeParamValue, derrors.CodeOf(err))
	})

	t.Run("copy from clones the node set", func(t *testing.T) {
		r := NewRegistry(nil)
		src, _ := r.Create(tooLargeRequest(NodeInfo{Name: "Default/conv1"}))

		req := tooLargeRequest()
		req.CopyFrom = src
		cp, err := r.Create(req)
		require.NoError(t, err)

		require.NoError(t, r.Update(src, []NodeInfo{{Name: "Default/conv1"}}, false, 0))
		cmds := r.PendingCommands()
		byID := map[int]SetCommand{}
		for _, c := range cmds {
			byID[c.ID] = c
		}
		assert.Empty(t, byID[src].WatchNodes[0])
		assert.Len(t, byID[cp].WatchNodes[0], 1)
	})

	t.Run("copy from unknown id fails", func(t *testing.T) {
		r := NewRegistry(nil)
		req := tooLargeRequest()
		req.CopyFrom = 42
		_, err := r.Create(req)
		assert.Equal(t, derrors.CodeParamValue, derrors.CodeOf(err))
	})
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Create(tooLargeRequest())
	require.NoError(t, err)
	require.True(t, r.Recheckable())

	r.Reset()

	assert.True(t, r.Empty())
	assert.False(t, r.Recheckable())
	assert.Empty(t, r.PendingCommands())

	// Ids restart from one, like a freshly built registry.
	id, err := r.Create(tooLargeRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestRegistry_UpdateRoundTrip(t *testing.T) {
	r := NewRegistry(nil)
	id, _ := r.Create(tooLargeRequest())

	node := NodeInfo{Name: "Default/conv1/Conv2D-op1", FullName: "Conv2D-op1"}
	require.NoError(t, r.Update(id, []NodeInfo{node}, true, 0))
	require.NoError(t, r.Update(id, []NodeInfo{node}, false, 0))

	cmds := r.PendingCommands()
	require.Len(t, cmds, 1)
	assert.Empty(t, cmds[0].WatchNodes[0], "add then remove leaves no watched node")
}

func TestRegistry_Delete(t *testing.T) {
	t.Run("never sent watchpoint is dropped silently", func(t *testing.T) {
		r := NewRegistry(nil)
		id, _ := r.Create(tooLargeRequest())
		require.NoError(t, r.Delete(id))
		assert.Empty(t, r.PendingCommands())
	})

	t.Run("sent watchpoint queues a deletion directive", func(t *testing.T) {
		r := NewRegistry(nil)
		id, _ := r.Create(tooLargeRequest())
		r.PendingCommands()
		r.Ack(id)

		require.NoError(t, r.Delete(id))
		cmds := r.PendingCommands()
		require.Len(t, cmds, 1)
		assert.True(t, cmds[0].Delete)
		assert.Equal(t, id, cmds[0].ID)
	})

	t.Run("delete all", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Create(tooLargeRequest())
		r.Create(tooLargeRequest())
		require.NoError(t, r.DeleteAll())
		assert.True(t, r.Empty())
	})

	t.Run("unknown id", func(t *testing.T) {
		r := NewRegistry(nil)
		err := r.Delete(9)
		assert.Equal(t, derrors.CodeParamValue, derrors.CodeOf(err))
	})
}

func TestRegistry_PendingCommands(t *testing.T) {
	t.Run("idempotent until acked", func(t *testing.T) {
		r := NewRegistry(nil)
		id, _ := r.Create(tooLargeRequest(NodeInfo{Name: "Default/conv1"}))

		first := r.PendingCommands()
		second := r.PendingCommands()
		require.Len(t, first, 1)
		assert.Equal(t, first[0].ID, second[0].ID)
		assert.Equal(t, first[0].ConditionID, second[0].ConditionID)

		r.Ack(id)
		assert.Empty(t, r.PendingCommands())
	})

	t.Run("sorted by id", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Create(tooLargeRequest())
		r.Create(tooLargeRequest())
		r.Create(tooLargeRequest())
		cmds := r.PendingCommands()
		require.Len(t, cmds, 3)
		for i := 1; i < len(cmds); i++ {
			assert.Less(t, cmds[i-1].ID, cmds[i].ID)
		}
	})

	t.Run("drain clears the recheck flag", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Create(tooLargeRequest())
		assert.True(t, r.Recheckable())
		r.PendingCommands()
		assert.False(t, r.Recheckable())
	})
}

func TestRegistry_GetAndSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	id, _ := r.Create(CreateRequest{
		ConditionKey: "tensor_too_large",
		Params:       []condition.ParamValue{{Name: "max_gt", Value: 1.0}},
		Name:         "watch_large",
	})

	t.Run("get all", func(t *testing.T) {
		infos, err := r.Get(0)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "tensor_too_large", infos[0].Condition.ID)
		assert.Equal(t, "TL", infos[0].Condition.Abbr)
	})

	t.Run("snapshot is detached", func(t *testing.T) {
		snap, err := r.Snapshot(id)
		require.NoError(t, err)
		assert.Equal(t, "watch_large", snap.Name)

		require.NoError(t, r.Delete(id))
		assert.Equal(t, id, snap.ID)
		assert.Equal(t, condition.TensorTooLarge, snap.Condition.Def.ID)
	})

	t.Run("id zero is a type error", func(t *testing.T) {
		err := r.ValidateID(0)
		assert.Equal(t, derrors.CodeParamType, derrors.CodeOf(err))
	})
}
