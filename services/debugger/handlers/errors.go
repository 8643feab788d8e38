// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the gin handlers of the debugger REST API and
// the trainer websocket endpoint.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tensorwatch/services/debugger/datatypes"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
	"github.com/AleutianAI/tensorwatch/services/debugger/session"
)

// httpStatus maps a debugger error to its REST status.
func httpStatus(err error) int {
	if errors.Is(err, session.ErrExiting) {
		return http.StatusServiceUnavailable
	}
	switch derrors.CodeOf(err) {
	case derrors.CodeSessionNotFound:
		return http.StatusNotFound
	case derrors.CodeSessionOverBound:
		return http.StatusTooManyRequests
	case derrors.CodeParamValue, derrors.CodeParamType,
		derrors.CodeGraphNotExist, derrors.CodeHeartbeatPeriod:
		return http.StatusBadRequest
	case derrors.CodeTensorTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the debugger error envelope.
func writeError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), datatypes.ErrorResponse{
		ErrorCode: int(derrors.CodeOf(err)),
		ErrorMsg:  err.Error(),
	})
}

// writeBadRequest renders a plain 400 for payload binding failures.
func writeBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
		ErrorCode: int(derrors.CodeParamValue),
		ErrorMsg:  err.Error(),
	})
}

// fetchSession resolves the :sessionId path parameter, rendering the error
// itself on failure.
func fetchSession(c *gin.Context, mgr *session.Manager) (*session.Session, bool) {
	sess, err := mgr.Get(c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}
