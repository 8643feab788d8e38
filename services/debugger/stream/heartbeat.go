// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"log/slog"
	"sync"
	"time"
)

// heartbeatGrace pads each wait so a beat arriving right on the period
// boundary is not counted as a miss.
const heartbeatGrace = 500 * time.Millisecond

// heartbeatMaxMisses is the number of consecutive missed periods before
// the session is considered dead.
const heartbeatMaxMisses = 3

// HeartbeatListener watches trainer liveness in a background goroutine.
// Each period it waits for a beat; after three consecutive misses it fires
// the expiry callback once and exits.
//
// Thread Safety: safe for concurrent use.
type HeartbeatListener struct {
	period   time.Duration
	onExpire func()
	logger   *slog.Logger

	// OnMiss, when set before Start, is called once per missed period with
	// the consecutive miss count.
	OnMiss func(misses int)

	beats    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	alive bool
}

// NewHeartbeatListener builds a listener; Start launches it.
func NewHeartbeatListener(period time.Duration, onExpire func(), logger *slog.Logger) *HeartbeatListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatListener{
		period:   period + heartbeatGrace,
		onExpire: onExpire,
		logger:   logger.With(slog.String("component", "heartbeat")),
		beats:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start launches the listener goroutine.
func (h *HeartbeatListener) Start() {
	h.mu.Lock()
	if h.alive {
		h.mu.Unlock()
		return
	}
	h.alive = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run()
}

// Alive reports whether the listener goroutine is running.
func (h *HeartbeatListener) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *HeartbeatListener) run() {
	defer h.wg.Done()
	h.logger.Info("heartbeat listener started", "period", h.period)
	timer := time.NewTimer(h.period)
	defer timer.Stop()

	misses := 0
	for {
		select {
		case <-h.stop:
			h.setAlive(false)
			return
		case <-h.beats:
			misses = 0
		case <-timer.C:
			misses++
			if h.OnMiss != nil {
				h.OnMiss(misses)
			}
			if misses >= heartbeatMaxMisses {
				h.setAlive(false)
				h.logger.Warn("heartbeat missed repeatedly, expiring session")
				if h.onExpire != nil {
					h.onExpire()
				}
				return
			}
			h.logger.Info("heartbeat missed, trying again", "misses", misses)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(h.period)
	}
}

func (h *HeartbeatListener) setAlive(v bool) {
	h.mu.Lock()
	h.alive = v
	h.mu.Unlock()
}

// Send registers one beat without blocking; surplus beats are dropped.
func (h *HeartbeatListener) Send() {
	select {
	case h.beats <- struct{}{}:
	default:
		h.logger.Debug("surplus heartbeat dropped")
	}
}

// Stop terminates the listener and joins its goroutine. The expiry
// callback does not fire on a clean stop.
func (h *HeartbeatListener) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()
}
