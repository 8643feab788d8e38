// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"encoding/json"
	"testing"
)

func sampleDef() Def {
	return Def{
		Name: "kernel_graph_0",
		Nodes: []NodeDef{
			{Name: "Default/conv1/Conv2D-op1", FullName: "Conv2D-op1", Type: "Conv2D"},
			{Name: "Default/conv1/weight", FullName: "weight.0", Type: "Parameter", Category: CategoryParameter},
			{Name: "Default/relu/ReLU-op2", FullName: "ReLU-op2", Type: "ReLU", Slots: 2},
		},
	}
}

func TestParseDef(t *testing.T) {
	buf, err := json.Marshal(sampleDef())
	if err != nil {
		t.Fatal(err)
	}
	d, err := ParseDef(buf)
	if err != nil {
		t.Fatalf("ParseDef failed: %v", err)
	}
	if d.Name != "kernel_graph_0" || len(d.Nodes) != 3 {
		t.Errorf("unexpected def: %+v", d)
	}

	if _, err := ParseDef([]byte(`{"nodes":[]}`)); err == nil {
		t.Error("expected error for missing graph name")
	}
	if _, err := ParseDef([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestStoreLookups(t *testing.T) {
	s := NewStore()
	s.Put(sampleDef())

	if got := s.GraphIDByFullName("Conv2D-op1"); got != "kernel_graph_0" {
		t.Errorf("GraphIDByFullName = %q", got)
	}
	if got := s.GraphIDByFullName("missing-op"); got != "" {
		t.Errorf("GraphIDByFullName for unknown node = %q, want empty", got)
	}
	if got := s.NodeNameByFullName("weight.0", "kernel_graph_0"); got != "Default/conv1/weight" {
		t.Errorf("NodeNameByFullName = %q", got)
	}
	if got := s.FullNameByNodeName("Default/relu/ReLU-op2", "kernel_graph_0"); got != "ReLU-op2" {
		t.Errorf("FullNameByNodeName = %q", got)
	}

	params := s.SearchByCategory(CategoryParameter)
	if len(params) != 1 || params[0].FullName != "weight.0" {
		t.Errorf("SearchByCategory = %+v", params)
	}
}

func TestStoreReplaceKeepsOrder(t *testing.T) {
	s := NewStore()
	s.Put(Def{Name: "g_1", Nodes: []NodeDef{{Name: "a", FullName: "a"}}})
	s.Put(Def{Name: "g_2", Nodes: []NodeDef{{Name: "b", FullName: "b"}}})
	s.Put(Def{Name: "g_1", Nodes: []NodeDef{{Name: "c", FullName: "c"}}})

	names := s.GraphNames()
	if len(names) != 2 || names[0] != "g_1" || names[1] != "g_2" {
		t.Errorf("GraphNames = %v", names)
	}
	if got := s.NodeNameByFullName("c", "g_1"); got != "c" {
		t.Errorf("replacement graph not active, got %q", got)
	}
}

func TestScopeTree(t *testing.T) {
	s := NewStore()
	g := s.Put(sampleDef())

	tree := g.ScopeTree()
	if len(tree) != 1 || tree[0].Name != "Default" {
		t.Fatalf("unexpected root scopes: %+v", tree)
	}
	root := tree[0]
	if root.IsLeaf() {
		t.Error("scope container reported as leaf")
	}
	// conv1 scope and relu scope, sorted by name.
	if len(root.Children) != 2 || root.Children[0].Name != "Default/conv1" {
		t.Fatalf("unexpected children: %+v", root.Children)
	}
	conv := root.Children[0]
	if len(conv.Children) != 2 {
		t.Fatalf("conv1 children = %d, want 2", len(conv.Children))
	}
	for _, leaf := range conv.Children {
		if !leaf.IsLeaf() {
			t.Errorf("expected leaf, got container %q", leaf.Name)
		}
	}
}

func TestDefaultsApplied(t *testing.T) {
	s := NewStore()
	g := s.Put(sampleDef())
	h, ok := g.ByFullName("Conv2D-op1")
	if !ok {
		t.Fatal("node missing")
	}
	n, _ := g.Node(h)
	if n.Category != CategoryOperator || n.Slots != 1 {
		t.Errorf("defaults not applied: %+v", n)
	}
}
