// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package derrors defines the typed errors surfaced by the debugger engine.
//
// Validation and lookup failures carry a stable Code so the REST layer can
// map them to responses without string matching. Transport and liveness
// failures are absorbed inside the engine and never reach this taxonomy.
package derrors

import (
	"errors"
	"fmt"
)

// Code is a stable error code for the REST/UI boundary.
type Code int

const (
	// CodeParamValue indicates a parameter value that fails validation
	// (out of range, unknown name, bad pagination, mismatched bounds).
	CodeParamValue Code = 50540001

	// CodeParamType indicates a parameter of the wrong type, including the
	// watchpoint id sentinel 0 which is rejected at the type level.
	CodeParamType Code = 50540002

	// CodeSessionNotFound indicates an unknown session id.
	CodeSessionNotFound Code = 50540003

	// CodeSessionOverBound indicates the offline session table is full.
	CodeSessionOverBound Code = 50540004

	// CodeGraphNotExist indicates no graph has been received yet.
	CodeGraphNotExist Code = 50540005

	// CodeTensorTooLarge indicates a tensor exceeded the cache ceiling.
	CodeTensorTooLarge Code = 50540006

	// CodeHeartbeatPeriod indicates a heartbeat period outside [5,3600]s.
	CodeHeartbeatPeriod Code = 50540007
)

// Error is a debugger engine error with a stable code.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping err.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the Code from err, or 0 if err is not a debugger error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return 0
}

// IsParamError reports whether err is a parameter validation failure,
// either by value or by type.
func IsParamError(err error) bool {
	c := CodeOf(err)
	return c == CodeParamValue || c == CodeParamType
}
