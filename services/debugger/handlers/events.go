// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tensorwatch/services/debugger/session"
)

const (
	defaultPollTimeout = 15 * time.Second
	maxPollTimeout     = 60 * time.Second
)

// PollEvents long-polls the session event queue. The optional ?timeout=
// query is in seconds; an empty body with status 200 means the poll timed
// out with nothing queued.
func PollEvents(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := fetchSession(c, mgr)
		if !ok {
			return
		}

		timeout := defaultPollTimeout
		if raw := c.Query("timeout"); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs < 0 {
				writeBadRequest(c, fmt.Errorf("invalid timeout %q", raw))
				return
			}
			timeout = time.Duration(secs) * time.Second
			if timeout > maxPollTimeout {
				timeout = maxPollTimeout
			}
		}

		event, ok := sess.Server.Events().Poll(timeout)
		if !ok {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, event)
	}
}
