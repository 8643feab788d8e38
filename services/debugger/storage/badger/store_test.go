// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tensorwatch/services/debugger/tensor"
)

func newTestStore(t *testing.T) *DumpStore {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestDumpStore_TensorRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutTensor(0, 3, "Conv2D-op1:0", []byte{1, 2, 3}))
	got, err := s.GetTensor(0, 3, "Conv2D-op1:0")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	t.Run("missing record", func(t *testing.T) {
		_, err := s.GetTensor(0, 4, "Conv2D-op1:0")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ranks do not collide", func(t *testing.T) {
		_, err := s.GetTensor(1, 3, "Conv2D-op1:0")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDumpStore_Stats(t *testing.T) {
	s := newTestStore(t)

	in := tensor.Stats{Max: 2.5, Min: -1, NaNCount: 3}
	require.NoError(t, s.PutStats(0, 1, "Conv2D-op1:0", in))

	got, err := s.GetStats(0, 1, "Conv2D-op1:0")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	_, err = s.GetStats(0, 2, "Conv2D-op1:0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDumpStore_Graphs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutGraph(0, "kernel_graph_1", []byte(`{"name":"kernel_graph_1"}`)))
	require.NoError(t, s.PutGraph(0, "kernel_graph_0", []byte(`{"name":"kernel_graph_0"}`)))

	blob, err := s.GetGraph(0, "kernel_graph_0")
	require.NoError(t, err)
	assert.Contains(t, string(blob), "kernel_graph_0")

	names, err := s.GraphNames(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"kernel_graph_0", "kernel_graph_1"}, names)

	names, err = s.GraphNames(7)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDumpStore_Iterations(t *testing.T) {
	s := newTestStore(t)

	for _, iter := range []int{10, 2, 2, 5} {
		require.NoError(t, s.PutTensor(0, iter, "Conv2D-op1:0", []byte{0}))
	}
	require.NoError(t, s.PutTensor(1, 99, "Conv2D-op1:0", []byte{0}))

	iters, err := s.Iterations(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 10}, iters)
}
