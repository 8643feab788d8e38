// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import "github.com/AleutianAI/tensorwatch/services/debugger/watchpoint"

// RunLevel selects how far a run command advances the training script.
type RunLevel string

const (
	// RunLevelStep advances a number of steps; 0 steps pauses.
	RunLevelStep RunLevel = "step"
	// RunLevelNode advances to a named node.
	RunLevelNode RunLevel = "node"
	// RunLevelRecheck re-evaluates current watchpoints without advancing.
	RunLevelRecheck RunLevel = "recheck"
)

// RunCommand resumes or pauses the training script.
type RunCommand struct {
	Level RunLevel `json:"run_level"`
	// Steps is the step count at step level; -1 runs until the training
	// ends and 0 pauses.
	Steps int `json:"run_steps,omitempty"`
	// NodeName is the target backend node at node level.
	NodeName string `json:"node_name,omitempty"`
}

// ViewLevel selects how much tensor detail a view command requests.
type ViewLevel string

const (
	ViewLevelValue ViewLevel = "value"
	ViewLevelBase  ViewLevel = "base"
	ViewLevelStats ViewLevel = "stats"
)

// ViewCommand requests tensor data from the trainer.
type ViewCommand struct {
	// Tensors holds "full_name:slot" names to retrieve.
	Tensors   []string  `json:"tensors"`
	Level     ViewLevel `json:"level"`
	NodeName  string    `json:"node_name"`
	GraphName string    `json:"graph_name"`
}

// Command is the tagged union placed on the command queue. Exactly one
// field is set.
type Command struct {
	Run  *RunCommand
	View *ViewCommand
	Set  *watchpoint.SetCommand
	Exit bool
}

// Reply is the answer to one command poll.
type Reply struct {
	// Status is non-zero when the poll is rejected, e.g. before any graph
	// arrived.
	Status int `json:"status,omitempty"`

	Run  *RunCommand          `json:"run_cmd,omitempty"`
	View *ViewCommand         `json:"view_cmd,omitempty"`
	Set  *watchpoint.SetCommand `json:"set_cmd,omitempty"`
	Exit bool                 `json:"exit,omitempty"`
}

// MetadataAck is the answer to a metadata handshake.
type MetadataAck struct {
	Status         int  `json:"status,omitempty"`
	VersionMatched bool `json:"version_matched"`
}
