// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

// Status is the lifecycle state of a debugger session's stream server.
//
// The machine runs PENDING -> RECEIVE_GRAPH -> WAITING <-> RUNNING.
// MISMATCH is terminal until a fresh metadata handshake arrives.
type Status int

const (
	// StatusPending means no graph has been received yet.
	StatusPending Status = iota
	// StatusReceiveGraph means a graph arrived but the first command poll
	// has not promoted the session to waiting.
	StatusReceiveGraph
	// StatusWaiting means the trainer is blocked on a command.
	StatusWaiting
	// StatusRunning means a run command is being executed.
	StatusRunning
	// StatusMismatch means the client and server versions are incompatible.
	StatusMismatch
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReceiveGraph:
		return "received graph"
	case StatusWaiting:
		return "waiting for training"
	case StatusRunning:
		return "running"
	case StatusMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}
