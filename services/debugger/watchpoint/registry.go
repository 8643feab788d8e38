// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watchpoint

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
)

// SetCommand is one watchpoint directive for the training client.
type SetCommand struct {
	ID     int
	Delete bool

	// Upsert detail, resolved at drain time.
	ConditionID condition.ID
	Params      []condition.ParamValue
	// WatchNodes holds the totally watched nodes per rank.
	WatchNodes map[int][]NodeInfo
}

// CreateRequest describes a watchpoint to create.
type CreateRequest struct {
	// ConditionKey is the condition's wire id, e.g. "tensor_too_large".
	ConditionKey string
	Params       []condition.ParamValue
	Name         string

	// WatchNodes supplies the initial nodes per rank. Mutually exclusive
	// with CopyFrom.
	WatchNodes map[int][]NodeInfo
	// CopyFrom clones the node set of an existing watchpoint.
	CopyFrom int

	// DeviceCount bounds the accepted rank ids; 0 means the default of 8.
	DeviceCount int
}

// Registry tracks the active watchpoints of one session and the directives
// pending transmission to the training client.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	logger *slog.Logger

	watchpoints map[int]*Watchpoint
	latestID    int

	// created holds ids of watchpoints the client has never seen; deleting
	// one of these cancels it locally without queueing a directive.
	created map[int]bool
	// updated holds watchpoints with unsent create/update state.
	updated map[int]*Watchpoint
	// deleted holds queued deletion directives.
	deleted []SetCommand
	// cache holds every outstanding directive keyed by watchpoint id until
	// the client acknowledges it, so repeated drains are idempotent.
	cache map[int]SetCommand

	// outdated flags registry changes since the last drain; it gates the
	// recheck run level.
	outdated bool
}

const defaultDeviceCount = 8

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:      logger.With(slog.String("component", "watchpoint_registry")),
		watchpoints: map[int]*Watchpoint{},
		created:     map[int]bool{},
		updated:     map[int]*Watchpoint{},
		cache:       map[int]SetCommand{},
	}
}

// Reset drops every watchpoint and pending directive, restarting ids
// from 1. Callers holding the registry pointer stay valid across a reset.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchpoints = map[int]*Watchpoint{}
	r.latestID = 0
	r.created = map[int]bool{}
	r.updated = map[int]*Watchpoint{}
	r.deleted = nil
	r.cache = map[int]SetCommand{}
	r.outdated = false
}

// Empty reports whether no watchpoint is registered.
func (r *Registry) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchpoints) == 0
}

// Recheckable reports whether the watchpoint set changed since the last
// drain, which is the precondition for a recheck run.
func (r *Registry) Recheckable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outdated
}

// Create validates the condition and registers a new watchpoint. The new
// id is always latest+1; nothing is mutated when validation fails.
func (r *Registry) Create(req CreateRequest) (int, error) {
	cond, err := condition.NewInstance(req.ConditionKey, req.Params)
	if err != nil {
		return 0, err
	}

	deviceCount := req.DeviceCount
	if deviceCount <= 0 {
		deviceCount = defaultDeviceCount
	}
	for rank := range req.WatchNodes {
		if rank < 0 || rank >= deviceCount {
			return 0, derrors.New(derrors.CodeParamValue,
				"rank id %d outside device amount %d", rank, deviceCount)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var source *Watchpoint
	if req.CopyFrom != 0 {
		source, err = r.lookupLocked(req.CopyFrom)
		if err != nil {
			return 0, err
		}
	}

	id := r.latestID + 1
	wp := newWatchpoint(id, cond, req.Name)
	if source != nil {
		wp.CopyNodesFrom(source)
	} else {
		for rank, nodes := range req.WatchNodes {
			wp.AddNodes(nodes, rank)
		}
	}

	r.watchpoints[id] = wp
	r.created[id] = true
	r.updated[id] = wp
	r.latestID = id
	r.outdated = true
	r.logger.Debug("watchpoint created", "watchpoint_id", id, "condition", req.ConditionKey)
	return id, nil
}

// Update adds nodes to or removes nodes from an existing watchpoint.
func (r *Registry) Update(id int, nodes []NodeInfo, watched bool, rank int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wp, err := r.lookupLocked(id)
	if err != nil {
		return err
	}
	if watched {
		wp.AddNodes(nodes, rank)
	} else {
		wp.RemoveNodes(nodes, rank)
	}
	r.updated[id] = wp
	r.outdated = true
	r.logger.Debug("watchpoint updated", "watchpoint_id", id, "watched", watched)
	return nil
}

// Delete removes one watchpoint. A watchpoint the client never saw is
// dropped silently; otherwise a deletion directive is queued.
func (r *Registry) Delete(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.deleteLocked(id); err != nil {
		return err
	}
	r.outdated = true
	return nil
}

// DeleteAll removes every watchpoint.
func (r *Registry) DeleteAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.watchpoints))
	for id := range r.watchpoints {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := r.deleteLocked(id); err != nil {
			return err
		}
	}
	r.outdated = true
	return nil
}

func (r *Registry) deleteLocked(id int) error {
	if _, err := r.lookupLocked(id); err != nil {
		return err
	}
	delete(r.watchpoints, id)
	if r.created[id] {
		delete(r.created, id)
		delete(r.updated, id)
		r.logger.Debug("watchpoint creation cancelled", "watchpoint_id", id)
		return nil
	}
	r.deleted = append(r.deleted, SetCommand{ID: id, Delete: true})
	r.logger.Debug("watchpoint deletion queued", "watchpoint_id", id)
	return nil
}

// Get returns the UI descriptions, all of them or one by id.
func (r *Registry) Get(id int) ([]Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 {
		ids := make([]int, 0, len(r.watchpoints))
		for wid := range r.watchpoints {
			ids = append(ids, wid)
		}
		sort.Ints(ids)
		out := make([]Info, 0, len(ids))
		for _, wid := range ids {
			out = append(out, r.watchpoints[wid].Describe())
		}
		return out, nil
	}
	wp, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return []Info{wp.Describe()}, nil
}

// Snapshot returns a deep copy of one watchpoint's id, name and condition
// for hit recording.
func (r *Registry) Snapshot(id int) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, err := r.lookupLocked(id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ID: wp.ID, Name: wp.Name, Condition: wp.Condition.Clone()}, nil
}

// PendingCommands drains the change set into wire directives, merges them
// into the outstanding cache, and returns the full outstanding list sorted
// by watchpoint id. Calling it again without intervening mutation returns
// the same set.
func (r *Registry) PendingCommands() []SetCommand {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, wp := range r.updated {
		cmd := SetCommand{
			ID:          id,
			ConditionID: wp.Condition.Def.ID,
			Params:      wp.Condition.Clone().Params,
			WatchNodes:  map[int][]NodeInfo{},
		}
		for _, rank := range wp.Ranks() {
			cmd.WatchNodes[rank] = wp.WatchedNodes(rank)
		}
		r.cache[id] = cmd
	}
	for _, cmd := range r.deleted {
		r.cache[cmd.ID] = cmd
	}

	r.created = map[int]bool{}
	r.updated = map[int]*Watchpoint{}
	r.deleted = nil
	r.outdated = false

	out := make([]SetCommand, 0, len(r.cache))
	for _, cmd := range r.cache {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ack removes an acknowledged directive from the outstanding cache.
func (r *Registry) Ack(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}

// ValidateID checks a watchpoint id. Zero is a reserved sentinel and is
// rejected as a type error rather than a lookup miss.
func (r *Registry) ValidateID(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.lookupLocked(id)
	return err
}

func (r *Registry) lookupLocked(id int) (*Watchpoint, error) {
	if id == 0 {
		return nil, derrors.New(derrors.CodeParamType,
			"watchpoint id must be a positive integer")
	}
	wp, ok := r.watchpoints[id]
	if !ok {
		return nil, derrors.New(derrors.CodeParamValue,
			"invalid watchpoint id: %d", id)
	}
	return wp, nil
}
