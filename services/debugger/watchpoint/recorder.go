// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watchpoint

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
)

// bucketKey identifies a per-(graph,node) hit bucket.
type bucketKey struct {
	graph string
	node  string
}

// Recorder stores watchpoint hits of one rank, bucketed by (graph, node)
// in first-seen order and sub-bucketed by slot, which keeps pagination
// stable across inserts.
//
// Thread Safety: safe for concurrent use.
type Recorder struct {
	mu      sync.RWMutex
	ordered []map[string][]Hit
	index   map[bucketKey]int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{index: map[bucketKey]int{}}
}

// Empty reports whether no hit is recorded.
func (r *Recorder) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index) == 0
}

// Clean drops all recorded hits.
func (r *Recorder) Clean() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ordered = nil
	r.index = map[bucketKey]int{}
}

// Put records a hit. A duplicate (tensor, watchpoint) pairing within the
// same slot bucket is ignored.
func (r *Recorder) Put(hit Hit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := bucketKey{graph: hit.Tensor.GraphName, node: hit.Tensor.NodeName}
	pos, ok := r.index[key]
	if !ok {
		pos = len(r.ordered)
		r.ordered = append(r.ordered, map[string][]Hit{})
		r.index[key] = pos
	}
	bucket := r.ordered[pos]
	for _, existing := range bucket[hit.Tensor.Slot] {
		if existing.sameRecord(hit) {
			return
		}
	}
	bucket[hit.Tensor.Slot] = append(bucket[hit.Tensor.Slot], hit)
}

// HitEntry is one watchpoint's hit detail on a slot.
type HitEntry struct {
	WatchpointID int                    `json:"id"`
	Name         string                 `json:"name,omitempty"`
	ConditionID  string                 `json:"condition_id"`
	Params       []condition.ParamValue `json:"params"`
	ErrorCode    int                    `json:"error_code"`
	ErrorList    []string               `json:"error_list"`
}

// SlotHits groups the hit details of one tensor slot, sorted by
// watchpoint id.
type SlotHits struct {
	Slot        string     `json:"slot"`
	WatchPoints []HitEntry `json:"watch_points"`
}

// NodeHits groups the slot details of one hit node.
type NodeHits struct {
	NodeName      string     `json:"node_name"`
	GraphName     string     `json:"graph_name"`
	GraphID       string     `json:"graph_id"`
	WatchpointIDs []int      `json:"watchpoint_id"`
	Tensors       []SlotHits `json:"tensors"`
}

// NodeIdent identifies a node within a graph for focused lookups.
type NodeIdent struct {
	NodeName  string `json:"node_name"`
	GraphName string `json:"graph_name"`
}

// GroupCondition filters and paginates hit retrieval.
type GroupCondition struct {
	// Limit is the page size; it must be positive.
	Limit int
	// Offset is the zero-based page index.
	Offset int
	// GraphID filters to one graph when non-empty.
	GraphID string
	// WatchpointID filters to hits of one watchpoint when non-zero.
	WatchpointID int
	// FocusedNode, when set, selects the page containing that node
	// instead of using Offset.
	FocusedNode *NodeIdent
}

// GroupResult is one page of grouped hits.
type GroupResult struct {
	Offset int        `json:"offset"`
	Total  int        `json:"total"`
	Hits   []NodeHits `json:"watch_point_hits"`
}

// GroupBy returns hits grouped per node, filtered and paginated. An
// offset beyond the filtered total is a validation error, not an empty
// page.
func (r *Recorder) GroupBy(cond GroupCondition) (GroupResult, error) {
	if cond.Limit <= 0 {
		return GroupResult{}, derrors.New(derrors.CodeParamValue,
			"limit must be a positive integer")
	}
	if cond.Offset < 0 {
		return GroupResult{}, derrors.New(derrors.CodeParamValue,
			"offset must not be negative")
	}

	all := r.collect()

	if cond.GraphID != "" {
		filtered := all[:0:0]
		for _, nh := range all {
			if nh.GraphID == cond.GraphID {
				filtered = append(filtered, nh)
			}
		}
		all = filtered
	} else {
		// Stable default ordering by the graph id's numeric suffix.
		sort.SliceStable(all, func(i, j int) bool {
			return graphSuffix(all[i].GraphID) < graphSuffix(all[j].GraphID)
		})
	}
	if cond.WatchpointID != 0 {
		filtered := all[:0:0]
		for _, nh := range all {
			for _, id := range nh.WatchpointIDs {
				if id == cond.WatchpointID {
					filtered = append(filtered, nh)
					break
				}
			}
		}
		all = filtered
	}

	total := len(all)
	offset := cond.Offset
	if cond.FocusedNode != nil {
		for i, nh := range all {
			if nh.GraphName == cond.FocusedNode.GraphName &&
				nh.NodeName == cond.FocusedNode.NodeName {
				offset = i / cond.Limit
				break
			}
		}
	}

	if cond.Limit*offset >= total && offset != 0 {
		return GroupResult{}, derrors.New(derrors.CodeParamValue,
			"offset %d out of bounds", offset)
	}

	start := cond.Limit * offset
	end := start + cond.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return GroupResult{Offset: offset, Total: total, Hits: all[start:end]}, nil
}

// collect flattens every bucket into NodeHits in insertion order.
func (r *Recorder) collect() []NodeHits {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeHits, 0, len(r.ordered))
	for _, bucket := range r.ordered {
		out = append(out, flattenBucket(bucket))
	}
	return out
}

func flattenBucket(bucket map[string][]Hit) NodeHits {
	slots := make([]string, 0, len(bucket))
	for slot := range bucket {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	nh := NodeHits{}
	for _, slot := range slots {
		hits := bucket[slot]
		if nh.NodeName == "" && len(hits) > 0 {
			nh.NodeName = hits[0].Tensor.NodeName
			nh.GraphName = hits[0].Tensor.GraphName
			nh.GraphID = hits[0].Tensor.GraphName
		}
		nh.Tensors = append(nh.Tensors, slotDetail(slot, hits))
		for _, h := range hits {
			nh.WatchpointIDs = append(nh.WatchpointIDs, h.Watchpoint.ID)
		}
	}
	return nh
}

func slotDetail(slot string, hits []Hit) SlotHits {
	entries := make([]HitEntry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, HitEntry{
			WatchpointID: h.Watchpoint.ID,
			Name:         h.Watchpoint.Name,
			ConditionID:  h.Watchpoint.Condition.Def.ID.Key(),
			Params:       h.Watchpoint.Condition.Params,
			ErrorCode:    h.ErrorCode,
			ErrorList:    DecodeErrorList(h.ErrorCode),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].WatchpointID < entries[j].WatchpointID
	})
	return SlotHits{Slot: slot, WatchPoints: entries}
}

// graphSuffix extracts the trailing numeric suffix of a graph id, e.g. 3
// for "kernel_graph_3". Non-numeric suffixes sort first.
func graphSuffix(graphID string) int {
	idx := strings.LastIndex(graphID, "_")
	if idx < 0 || idx == len(graphID)-1 {
		return -1
	}
	n, err := strconv.Atoi(graphID[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// IsTensorHit reports whether any hit is recorded for the slot.
func (r *Recorder) IsTensorHit(nodeName, slot, graphName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.index[bucketKey{graph: graphName, node: nodeName}]
	if !ok {
		return false
	}
	return len(r.ordered[pos][slot]) > 0
}

// TensorHitInfos returns the per-slot hit detail for one tensor, named
// "node:slot" as shown on the UI.
func (r *Recorder) TensorHitInfos(tensorName, graphName string) (SlotHits, bool) {
	nodeName, slot, ok := splitTensorName(tensorName)
	if !ok {
		return SlotHits{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, found := r.index[bucketKey{graph: graphName, node: nodeName}]
	if !found {
		return SlotHits{}, false
	}
	hits := r.ordered[pos][slot]
	if len(hits) == 0 {
		return SlotHits{}, false
	}
	return slotDetail(slot, hits), true
}

// TensorHistoryEntry is one row of a tensor-history listing to annotate.
type TensorHistoryEntry struct {
	Name      string `json:"name"`
	GraphName string `json:"graph_name"`
	IsHit     bool   `json:"is_hit"`
}

// UpdateTensorHistory annotates history entries with their hit flags.
func (r *Recorder) UpdateTensorHistory(entries []TensorHistoryEntry) {
	for i := range entries {
		nodeName, slot, ok := splitTensorName(entries[i].Name)
		if !ok {
			entries[i].IsHit = false
			continue
		}
		entries[i].IsHit = r.IsTensorHit(nodeName, slot, entries[i].GraphName)
	}
}

func splitTensorName(tensorName string) (node, slot string, ok bool) {
	idx := strings.LastIndex(tensorName, ":")
	if idx <= 0 || idx == len(tensorName)-1 {
		return "", "", false
	}
	return tensorName[:idx], tensorName[idx+1:], true
}

// MultiRankRecorder partitions hits per execution rank.
//
// Thread Safety: safe for concurrent use.
type MultiRankRecorder struct {
	mu        sync.Mutex
	recorders map[int]*Recorder
}

// NewMultiRankRecorder returns a recorder set with rank 0 preallocated.
func NewMultiRankRecorder() *MultiRankRecorder {
	return &MultiRankRecorder{recorders: map[int]*Recorder{0: NewRecorder()}}
}

// Rank returns the recorder for a rank, creating it on first use when
// create is true.
func (m *MultiRankRecorder) Rank(rank int, create bool) (*Recorder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recorders[rank]
	if !ok && create {
		r = NewRecorder()
		m.recorders[rank] = r
		ok = true
	}
	return r, ok
}

// Put records hits partitioned by rank.
func (m *MultiRankRecorder) Put(hitsByRank map[int][]Hit) {
	for rank, hits := range hitsByRank {
		r, _ := m.Rank(rank, true)
		for _, h := range hits {
			r.Put(h)
		}
	}
}

// GroupBy retrieves one rank's grouped hits.
func (m *MultiRankRecorder) GroupBy(rank int, cond GroupCondition) (GroupResult, error) {
	r, ok := m.Rank(rank, false)
	if !ok {
		return GroupResult{}, derrors.New(derrors.CodeParamValue,
			"no hit data for rank %d", rank)
	}
	return r.GroupBy(cond)
}

// UpdateTensorHistory annotates a history listing for one rank. An
// unknown rank marks every entry unhit rather than failing.
func (m *MultiRankRecorder) UpdateTensorHistory(rank int, entries []TensorHistoryEntry) {
	r, ok := m.Rank(rank, false)
	if !ok {
		for i := range entries {
			entries[i].IsHit = false
		}
		return
	}
	r.UpdateTensorHistory(entries)
}

// Clean resets every rank, keeping rank 0 preallocated.
func (m *MultiRankRecorder) Clean() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorders = map[int]*Recorder{0: NewRecorder()}
}
