// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watchpoint

import "strings"

// WatchState is the watch status of a graph node relative to a watchpoint.
type WatchState int

const (
	// StateInvalid marks nodes the condition cannot apply to; they are
	// excluded from the watched/unwatched tally of their container.
	StateInvalid WatchState = -1
	// StateNotWatch means neither the node nor any descendant is watched.
	StateNotWatch WatchState = 0
	// StatePartialWatch means some but not all valid descendants are watched.
	StatePartialWatch WatchState = 1
	// StateTotalWatch means the node and all valid descendants are watched.
	StateTotalWatch WatchState = 2
)

func (s WatchState) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateNotWatch:
		return "not_watch"
	case StatePartialWatch:
		return "partial_watch"
	case StateTotalWatch:
		return "total_watch"
	default:
		return "unknown"
	}
}

// NodeInfo references one graph node added to or removed from a watchpoint.
type NodeInfo struct {
	// Name is the scoped UI name, e.g. "Default/conv1/Conv2D-op1".
	Name string `json:"name"`
	// FullName is the backend identifier sent to the training client.
	FullName string `json:"full_name"`
	// Type is the node or scope type.
	Type string `json:"type,omitempty"`
}

// nodeTree holds the watched node set of one rank as a prefix tree over
// "/"-separated scope names. Watching a name watches the whole subtree
// under it; intermediate scopes become partially watched.
type nodeTree struct {
	root *treeNode
}

type treeNode struct {
	state    WatchState
	fullName string
	nodeType string
	children map[string]*treeNode
}

func newNodeTree() *nodeTree {
	return &nodeTree{root: &treeNode{children: map[string]*treeNode{}}}
}

func (t *nodeTree) empty() bool { return len(t.root.children) == 0 }

// add marks info's name as totally watched, creating the scope path.
func (t *nodeTree) add(info NodeInfo) {
	cur := t.root
	parts := strings.Split(info.Name, "/")
	for i, part := range parts {
		next, ok := cur.children[part]
		if !ok {
			next = &treeNode{state: StatePartialWatch, children: map[string]*treeNode{}}
			cur.children[part] = next
		}
		if i == len(parts)-1 {
			next.state = StateTotalWatch
			next.fullName = info.FullName
			next.nodeType = info.Type
		}
		cur = next
	}
}

// remove unmarks info's name and prunes scope nodes left without watched
// descendants. Removing a name under a totally watched ancestor demotes
// that ancestor to partial.
func (t *nodeTree) remove(info NodeInfo) {
	parts := strings.Split(info.Name, "/")
	t.removeAt(t.root, parts)
}

func (t *nodeTree) removeAt(cur *treeNode, parts []string) bool {
	child, ok := cur.children[parts[0]]
	if !ok {
		return false
	}
	if len(parts) == 1 {
		delete(cur.children, parts[0])
		return true
	}
	if child.state == StateTotalWatch {
		child.state = StatePartialWatch
	}
	removed := t.removeAt(child, parts[1:])
	if removed && len(child.children) == 0 && child.state != StateTotalWatch {
		delete(cur.children, parts[0])
	}
	return removed
}

// status returns the watch state recorded for a scoped name. A name under
// a totally watched ancestor is itself totally watched.
func (t *nodeTree) status(name string) WatchState {
	cur := t.root
	for _, part := range strings.Split(name, "/") {
		next, ok := cur.children[part]
		if !ok {
			return StateNotWatch
		}
		if next.state == StateTotalWatch {
			return StateTotalWatch
		}
		cur = next
	}
	return cur.state
}

// watchedLeaves returns every totally watched node in the tree.
func (t *nodeTree) watchedLeaves() []NodeInfo {
	var out []NodeInfo
	var walk func(prefix string, n *treeNode)
	walk = func(prefix string, n *treeNode) {
		for name, child := range n.children {
			scoped := name
			if prefix != "" {
				scoped = prefix + "/" + name
			}
			if child.state == StateTotalWatch {
				out = append(out, NodeInfo{
					Name:     scoped,
					FullName: child.fullName,
					Type:     child.nodeType,
				})
			}
			walk(scoped, child)
		}
	}
	walk("", t.root)
	return out
}

// clone deep-copies the tree so a copied watchpoint never aliases the
// source's node set.
func (t *nodeTree) clone() *nodeTree {
	var cp func(n *treeNode) *treeNode
	cp = func(n *treeNode) *treeNode {
		out := &treeNode{
			state:    n.state,
			fullName: n.fullName,
			nodeType: n.nodeType,
			children: make(map[string]*treeNode, len(n.children)),
		}
		for name, child := range n.children {
			out.children[name] = cp(child)
		}
		return out
	}
	return &nodeTree{root: cp(t.root)}
}

// AggregateState derives a container's state from its children per the
// bottom-up rule: no valid children means invalid; all valid children
// totally watched means totally watched; none watched means not watched;
// anything else is partial.
func AggregateState(children []WatchState) WatchState {
	valid := 0
	total := 0
	watched := 0
	for _, s := range children {
		if s == StateInvalid {
			continue
		}
		valid++
		if s == StateTotalWatch {
			total++
		}
		if s == StateTotalWatch || s == StatePartialWatch {
			watched++
		}
	}
	switch {
	case valid == 0:
		return StateInvalid
	case total == valid:
		return StateTotalWatch
	case watched == 0:
		return StateNotWatch
	default:
		return StatePartialWatch
	}
}
