// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph indexes the computation graphs received from a training
// client.
//
// Nodes are stored in a flat arena per graph and referenced by handle.
// Watch-state annotations live in side tables owned by the callers, so the
// same graph can be inspected by multiple watchpoints concurrently without
// mutating shared tree nodes.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Category classifies a node for condition applicability.
type Category string

const (
	CategoryOperator  Category = "operator"
	CategoryParameter Category = "parameter"
	CategoryConst     Category = "const"
)

// NodeDef is the wire form of one graph node.
type NodeDef struct {
	// Name is the UI-facing scoped name, e.g. "Default/conv1/Conv2D-op156".
	Name string `json:"name"`
	// FullName is the backend identifier the training client reports.
	FullName string `json:"full_name"`
	// Type is the operator type, e.g. "Conv2D" or "Parameter".
	Type string `json:"type"`
	// Category classifies the node; empty means operator.
	Category Category `json:"category,omitempty"`
	// Slots is the number of output tensors; 0 means 1.
	Slots int `json:"slots,omitempty"`
}

// Def is the wire form of one sub-graph.
type Def struct {
	Name  string    `json:"name"`
	Nodes []NodeDef `json:"nodes"`
}

// ParseDef decodes a serialized sub-graph reassembled from chunks.
func ParseDef(buf []byte) (Def, error) {
	var d Def
	if err := json.Unmarshal(buf, &d); err != nil {
		return Def{}, fmt.Errorf("decode graph: %w", err)
	}
	if d.Name == "" {
		return Def{}, fmt.Errorf("decode graph: missing name")
	}
	return d, nil
}

// Handle references a node inside one Graph's arena.
type Handle int

// Node is one indexed graph node.
type Node struct {
	Name     string
	FullName string
	Type     string
	Category Category
	Slots    int
}

// Graph is an indexed sub-graph.
type Graph struct {
	Name string

	nodes      []Node
	byFullName map[string]Handle
	byName     map[string]Handle
}

// newGraph builds the arena and indexes from a decoded definition.
func newGraph(d Def) *Graph {
	g := &Graph{
		Name:       d.Name,
		nodes:      make([]Node, 0, len(d.Nodes)),
		byFullName: make(map[string]Handle, len(d.Nodes)),
		byName:     make(map[string]Handle, len(d.Nodes)),
	}
	for _, nd := range d.Nodes {
		n := Node{
			Name:     nd.Name,
			FullName: nd.FullName,
			Type:     nd.Type,
			Category: nd.Category,
			Slots:    nd.Slots,
		}
		if n.Category == "" {
			n.Category = CategoryOperator
		}
		if n.Slots == 0 {
			n.Slots = 1
		}
		h := Handle(len(g.nodes))
		g.nodes = append(g.nodes, n)
		g.byFullName[n.FullName] = h
		g.byName[n.Name] = h
	}
	return g
}

// Node returns the node for a handle.
func (g *Graph) Node(h Handle) (Node, bool) {
	if h < 0 || int(h) >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[h], true
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// ByFullName resolves a backend full name to a handle.
func (g *Graph) ByFullName(fullName string) (Handle, bool) {
	h, ok := g.byFullName[fullName]
	return h, ok
}

// ByName resolves a UI name to a handle.
func (g *Graph) ByName(name string) (Handle, bool) {
	h, ok := g.byName[name]
	return h, ok
}

// Walk calls fn for every node in arena order.
func (g *Graph) Walk(fn func(Handle, Node)) {
	for i, n := range g.nodes {
		fn(Handle(i), n)
	}
}

// ScopeNode is one entry of the hierarchical scope listing.
type ScopeNode struct {
	// Name is the scoped UI name of this level.
	Name string
	// Handle is valid only for leaves; -1 for pure scope containers.
	Handle Handle
	// Type is the node type for leaves, "name_scope" for containers.
	Type     string
	Category Category
	Children []*ScopeNode
}

// IsLeaf reports whether the entry is a concrete node.
func (s *ScopeNode) IsLeaf() bool { return s.Handle >= 0 }

// ScopeTree groups the graph's nodes by their "/"-separated scopes.
// Children are ordered by name for stable listings.
func (g *Graph) ScopeTree() []*ScopeNode {
	root := &ScopeNode{Handle: -1}
	index := map[string]*ScopeNode{"": root}

	for i, n := range g.nodes {
		parts := strings.Split(n.Name, "/")
		prefix := ""
		parent := root
		for d := 0; d < len(parts)-1; d++ {
			if prefix == "" {
				prefix = parts[d]
			} else {
				prefix = prefix + "/" + parts[d]
			}
			sc, ok := index[prefix]
			if !ok {
				sc = &ScopeNode{Name: prefix, Handle: -1, Type: "name_scope"}
				index[prefix] = sc
				parent.Children = append(parent.Children, sc)
			}
			parent = sc
		}
		parent.Children = append(parent.Children, &ScopeNode{
			Name:     n.Name,
			Handle:   Handle(i),
			Type:     n.Type,
			Category: n.Category,
		})
	}

	var sortChildren func(*ScopeNode)
	sortChildren = func(s *ScopeNode) {
		sort.Slice(s.Children, func(i, j int) bool {
			return s.Children[i].Name < s.Children[j].Name
		})
		for _, c := range s.Children {
			sortChildren(c)
		}
	}
	sortChildren(root)
	return root.Children
}

// Store holds the sub-graphs of one rank, keyed by graph name.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
	order  []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{graphs: make(map[string]*Graph)}
}

// Put indexes a decoded sub-graph, replacing any previous graph of the
// same name.
func (s *Store) Put(d Def) *Graph {
	g := newGraph(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.graphs[d.Name]; !exists {
		s.order = append(s.order, d.Name)
	}
	s.graphs[d.Name] = g
	return g
}

// Graph returns the sub-graph with the given name.
func (s *Store) Graph(name string) (*Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[name]
	return g, ok
}

// GraphNames returns the graph names in arrival order.
func (s *Store) GraphNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Empty reports whether any graph has been received.
func (s *Store) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.graphs) == 0
}

// Clear drops all graphs.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs = make(map[string]*Graph)
	s.order = nil
}

// GraphIDByFullName returns the name of the graph containing the node with
// the given backend full name, or "" if no graph contains it.
func (s *Store) GraphIDByFullName(fullName string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.order {
		if _, ok := s.graphs[name].byFullName[fullName]; ok {
			return name
		}
	}
	return ""
}

// NodeNameByFullName resolves a backend full name to the UI name within the
// given graph, or "" if unknown.
func (s *Store) NodeNameByFullName(fullName, graphName string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[graphName]
	if !ok {
		return ""
	}
	if h, ok := g.byFullName[fullName]; ok {
		return g.nodes[h].Name
	}
	return ""
}

// FullNameByNodeName resolves a UI name within a graph to the backend full
// name, or "" if unknown.
func (s *Store) FullNameByNodeName(nodeName, graphName string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[graphName]
	if !ok {
		return ""
	}
	if h, ok := g.byName[nodeName]; ok {
		return g.nodes[h].FullName
	}
	return ""
}

// SearchByCategory returns every node of the given category across all
// graphs, in arrival order.
func (s *Store) SearchByCategory(cat Category) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for _, name := range s.order {
		for _, n := range s.graphs[name].nodes {
			if n.Category == cat {
				out = append(out, n)
			}
		}
	}
	return out
}
