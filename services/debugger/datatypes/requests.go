// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response types for the debugger
// REST API.
package datatypes

import (
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
)

// MaxWatchNodesPerRequest bounds one create/update payload.
const MaxWatchNodesPerRequest = 10000

// validate is the shared validator instance for debugger datatypes.
var validate = validator.New()

// CreateSessionRequest opens a debugger session.
type CreateSessionRequest struct {
	// SessionType selects the live or dump-backed mode.
	SessionType string `json:"session_type" validate:"required,oneof=ONLINE OFFLINE"`
	// DumpDir is the train job directory of an offline session, relative
	// to the configured dump root.
	DumpDir string `json:"dump_dir,omitempty" validate:"required_if=SessionType OFFLINE,max=1024"`
}

// Validate checks the payload.
func (r *CreateSessionRequest) Validate() error {
	return validate.Struct(r)
}

// SessionResponse is the created or fetched session description.
type SessionResponse struct {
	SessionID   string `json:"session_id"`
	SessionType string `json:"session_type"`
	TrainJob    string `json:"train_job,omitempty"`
	State       string `json:"state"`
}

// WatchNode is one node reference in a watch set payload.
type WatchNode struct {
	Name     string `json:"name" validate:"required,max=2048"`
	FullName string `json:"full_name,omitempty" validate:"max=2048"`
	Type     string `json:"type,omitempty" validate:"max=256"`
	RankID   int    `json:"rank_id" validate:"gte=0"`
}

// ConditionParam is one parameter value in a watch condition payload.
type ConditionParam struct {
	Name  string `json:"name" validate:"required,max=128"`
	Value any    `json:"value"`
}

// WatchCondition is the condition portion of a watchpoint payload.
type WatchCondition struct {
	ID     string           `json:"id" validate:"required,max=128"`
	Params []ConditionParam `json:"params" validate:"dive"`
}

// CreateWatchpointRequest registers a watchpoint on a session.
type CreateWatchpointRequest struct {
	Condition  WatchCondition `json:"condition" validate:"required"`
	Name       string         `json:"name,omitempty" validate:"max=256"`
	WatchNodes []WatchNode    `json:"watch_nodes,omitempty" validate:"max=10000,dive"`
	// CopyFrom clones the node set of an existing watchpoint.
	CopyFrom int `json:"copy_from,omitempty" validate:"gte=0"`
}

// Validate checks the payload.
func (r *CreateWatchpointRequest) Validate() error {
	return validate.Struct(r)
}

// ConditionParams converts the payload params to engine values.
func (r *CreateWatchpointRequest) ConditionParams() []condition.ParamValue {
	out := make([]condition.ParamValue, 0, len(r.Condition.Params))
	for _, p := range r.Condition.Params {
		out = append(out, condition.ParamValue{Name: p.Name, Value: p.Value})
	}
	return out
}

// UpdateWatchpointRequest adds or removes watched nodes.
type UpdateWatchpointRequest struct {
	WatchpointID int         `json:"watch_point_id" validate:"required"`
	Mode         string      `json:"mode" validate:"required,oneof=add remove"`
	WatchNodes   []WatchNode `json:"watch_nodes" validate:"required,min=1,max=10000,dive"`
}

// Validate checks the payload.
func (r *UpdateWatchpointRequest) Validate() error {
	return validate.Struct(r)
}

// HitsQuery paginates watchpoint hit retrieval.
type HitsQuery struct {
	Limit        int    `form:"limit,default=10" validate:"gt=0,lte=1000"`
	Offset       int    `form:"offset" validate:"gte=0"`
	GraphID      string `form:"graph_id" validate:"max=256"`
	WatchpointID int    `form:"watch_point_id" validate:"gte=0"`
	FocusedNode  string `form:"focused_node" validate:"max=2048"`
	GraphName    string `form:"graph_name" validate:"max=256"`
	RankID       int    `form:"rank_id" validate:"gte=0"`
}

// Validate checks the query.
func (q *HitsQuery) Validate() error {
	return validate.Struct(q)
}

// TensorHistoryQuery identifies the node whose output tensors to list.
type TensorHistoryQuery struct {
	NodeName  string `form:"node_name" validate:"required,max=2048"`
	GraphName string `form:"graph_name" validate:"required,max=256"`
	RankID    int    `form:"rank_id" validate:"gte=0"`
}

// Validate checks the query.
func (q *TensorHistoryQuery) Validate() error {
	return validate.Struct(q)
}

// ControlRequest drives the training client from the UI.
type ControlRequest struct {
	Mode string `json:"mode" validate:"required,oneof=continue pause terminate"`
	// Level applies in continue mode; empty defaults to step level.
	Level string `json:"level,omitempty" validate:"omitempty,oneof=step node recheck"`
	// Steps is the step count at step level; -1 runs until training ends.
	Steps int `json:"steps,omitempty" validate:"gte=-1"`
	// NodeName is the target backend node at node level.
	NodeName string `json:"node_name,omitempty" validate:"max=2048"`
}

// Validate checks the payload.
func (r *ControlRequest) Validate() error {
	return validate.Struct(r)
}

// ViewRequest asks the training client to send tensor data.
type ViewRequest struct {
	Tensors   []string `json:"tensors" validate:"required,min=1,max=1000,dive,max=2048"`
	Level     string   `json:"level" validate:"required,oneof=value base stats"`
	NodeName  string   `json:"node_name,omitempty" validate:"max=2048"`
	GraphName string   `json:"graph_name,omitempty" validate:"max=256"`
}

// Validate checks the payload.
func (r *ViewRequest) Validate() error {
	return validate.Struct(r)
}

// ConditionDescription is one catalog entry in a condition listing.
type ConditionDescription struct {
	ID         string                `json:"id"`
	Code       int                   `json:"code"`
	Abbr       string                `json:"abbr"`
	Target     string                `json:"target"`
	Parameters []ParameterDescriptor `json:"parameters"`
}

// ParameterDescriptor describes one declared condition parameter.
type ParameterDescriptor struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Kind         string   `json:"kind"`
	Default      any      `json:"default,omitempty"`
	VisibleOnUI  bool     `json:"visible_on_ui"`
	RequiredWith []string `json:"required_params,omitempty"`
}

// ErrorResponse is the REST error envelope.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}
