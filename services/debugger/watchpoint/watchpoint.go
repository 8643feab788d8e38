// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watchpoint implements the watchpoint registry and the hit
// recorder of the debugger engine.
//
// A Watchpoint binds a validated condition instance to a per-rank set of
// watched graph nodes. The Registry tracks the active set, computes the
// pending create/update/delete directives for the training client, and
// annotates graph scope listings with watch states. The Recorder stores
// hit reports for paginated retrieval.
package watchpoint

import (
	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
	"github.com/AleutianAI/tensorwatch/services/debugger/graph"
)

// Watchpoint binds a condition instance to watched nodes, scoped per rank.
type Watchpoint struct {
	ID        int
	Name      string
	Condition condition.Instance

	trees map[int]*nodeTree
}

func newWatchpoint(id int, cond condition.Instance, name string) *Watchpoint {
	return &Watchpoint{
		ID:        id,
		Name:      name,
		Condition: cond,
		trees:     map[int]*nodeTree{},
	}
}

func (w *Watchpoint) tree(rank int) *nodeTree {
	t, ok := w.trees[rank]
	if !ok {
		t = newNodeTree()
		w.trees[rank] = t
	}
	return t
}

// AddNodes watches the given nodes for one rank.
func (w *Watchpoint) AddNodes(nodes []NodeInfo, rank int) {
	t := w.tree(rank)
	for _, n := range nodes {
		t.add(n)
	}
}

// RemoveNodes unwatches the given nodes for one rank.
func (w *Watchpoint) RemoveNodes(nodes []NodeInfo, rank int) {
	t := w.tree(rank)
	for _, n := range nodes {
		t.remove(n)
	}
}

// CopyNodesFrom clones the source watchpoint's node trees. Later mutation
// of the source does not affect the copy.
func (w *Watchpoint) CopyNodesFrom(src *Watchpoint) {
	for rank, t := range src.trees {
		w.trees[rank] = t.clone()
	}
}

// WatchedNodes returns the totally watched nodes for one rank.
func (w *Watchpoint) WatchedNodes(rank int) []NodeInfo {
	t, ok := w.trees[rank]
	if !ok {
		return nil
	}
	return t.watchedLeaves()
}

// Ranks returns the ranks holding a non-empty node set.
func (w *Watchpoint) Ranks() []int {
	var out []int
	for rank, t := range w.trees {
		if !t.empty() {
			out = append(out, rank)
		}
	}
	return out
}

// NodeStatus computes the watch state of one graph node for this
// watchpoint. A node whose category the condition cannot apply to is
// invalid regardless of the tree contents.
func (w *Watchpoint) NodeStatus(name string, category graph.Category, rank int) WatchState {
	if w.Condition.Def.Target == condition.TargetParameter &&
		category != graph.CategoryParameter {
		return StateInvalid
	}
	t, ok := w.trees[rank]
	if !ok {
		return StateNotWatch
	}
	return t.status(name)
}

// Info is the UI-facing description of a watchpoint.
type Info struct {
	ID        int                    `json:"id"`
	Name      string                 `json:"name,omitempty"`
	Condition ConditionInfo          `json:"watch_condition"`
	Params    []condition.ParamValue `json:"-"`
}

// ConditionInfo is the condition portion of a watchpoint description.
type ConditionInfo struct {
	ID     string                 `json:"id"`
	Abbr   string                 `json:"abbr"`
	Params []condition.ParamValue `json:"params"`
}

// Describe returns the watchpoint's UI description.
func (w *Watchpoint) Describe() Info {
	cond := w.Condition.Clone()
	return Info{
		ID:   w.ID,
		Name: w.Name,
		Condition: ConditionInfo{
			ID:     cond.Def.ID.Key(),
			Abbr:   cond.Def.Abbr,
			Params: cond.Params,
		},
	}
}

// AnnotateScopeTree computes the watch state of every entry in a scope
// listing for one watchpoint and rank. States are returned as a side
// table keyed by scoped name; the listing itself is not mutated, so the
// same graph can be annotated for several watchpoints concurrently.
func (w *Watchpoint) AnnotateScopeTree(scopes []*graph.ScopeNode, rank int) map[string]WatchState {
	states := make(map[string]WatchState)
	var visit func(s *graph.ScopeNode) WatchState
	visit = func(s *graph.ScopeNode) WatchState {
		var st WatchState
		if s.IsLeaf() {
			st = w.NodeStatus(s.Name, s.Category, rank)
		} else {
			children := make([]WatchState, 0, len(s.Children))
			for _, c := range s.Children {
				children = append(children, visit(c))
			}
			st = AggregateState(children)
		}
		states[s.Name] = st
		return st
	}
	for _, s := range scopes {
		visit(s)
	}
	return states
}
