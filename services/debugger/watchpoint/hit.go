// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watchpoint

import "github.com/AleutianAI/tensorwatch/services/debugger/condition"

// TensorRef identifies one tensor snapshot.
type TensorRef struct {
	NodeName  string `json:"node_name"`
	Slot      string `json:"slot"`
	GraphName string `json:"graph_name"`
	Iteration int    `json:"iteration"`
	Rank      int    `json:"rank"`
}

// Snapshot is a deep copy of a watchpoint's identity and condition taken
// at hit time, so later registry mutation cannot alter recorded hits.
type Snapshot struct {
	ID        int
	Name      string
	Condition condition.Instance
}

// Hit is one immutable (tensor, watchpoint) pairing. Two hits are the
// same record when they reference the same tensor and the same watchpoint
// id; a slot can still accumulate hits from different watchpoints.
type Hit struct {
	Tensor     TensorRef
	Watchpoint Snapshot
	// ErrorCode is the evaluation error bitmask; zero means the condition
	// was evaluated normally.
	ErrorCode int
}

func (h Hit) sameRecord(other Hit) bool {
	return h.Tensor == other.Tensor && h.Watchpoint.ID == other.Watchpoint.ID
}

// Bit positions of the hit-report error code. The no-value taxonomy below
// overlaps this table but is deliberately kept separate; unifying the two
// would silently change which bit means what.
const (
	ErrBitNaN = 1 << iota
	ErrBitInf
	ErrBitNoPrevTensor
	ErrBitOutOfMemory
	ErrBitNoHistory
	ErrBitNoValue
)

// NoValueErrorCode is the fixed code reported when a watched tensor has no
// value at all (bit 5 set, nothing else).
const NoValueErrorCode = 32

// hitErrorNames is the 5-bit short-code table used in hit detail listings.
var hitErrorNames = []string{"nan", "inf", "no_prev_tensor", "out_of_mem", "no_history"}

// errorMessages is the 6-entry human-readable table used at the API layer.
var errorMessages = []string{
	"Tensor contains NaN.",
	"Tensor contains +/-INF.",
	"The previous step value cannot be found.",
	"The tensor size exceeds the memory limit.",
	"Graph history file is not available.",
	"Tensor has no value.",
}

// DecodeErrorList expands a hit error code into its short codes.
func DecodeErrorList(code int) []string {
	out := []string{}
	for i, name := range hitErrorNames {
		if (code>>i)&1 == 1 {
			out = append(out, name)
		}
	}
	return out
}

// ErrorMessages expands an error code into human-readable messages,
// covering the no-value bit as well.
func ErrorMessages(code int) []string {
	out := []string{}
	for i, msg := range errorMessages {
		if (code>>i)&1 == 1 {
			out = append(out, msg)
		}
	}
	return out
}
