// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"sync/atomic"
	"testing"
	"time"
)

// The grace padding dominates short test periods, so waits below are
// sized in multiples of heartbeatGrace.

func TestHeartbeat_ExpiresAfterThreeMisses(t *testing.T) {
	var expired atomic.Int32
	h := NewHeartbeatListener(time.Millisecond, func() { expired.Add(1) }, nil)
	h.Start()
	defer h.Stop()

	deadline := time.After(5 * heartbeatMaxMisses * heartbeatGrace)
	for expired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("listener never expired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := expired.Load(); got != 1 {
		t.Fatalf("expiry must fire once, got %d", got)
	}
	if h.Alive() {
		t.Fatal("listener must not report alive after expiry")
	}
}

func TestHeartbeat_BeatsKeepAlive(t *testing.T) {
	var expired atomic.Int32
	h := NewHeartbeatListener(time.Millisecond, func() { expired.Add(1) }, nil)
	h.Start()
	defer h.Stop()

	stop := time.After(2 * heartbeatGrace)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for alive := true; alive; {
		select {
		case <-stop:
			alive = false
		case <-tick.C:
			h.Send()
		}
	}
	if expired.Load() != 0 {
		t.Fatal("regular beats must keep the session alive")
	}
	if !h.Alive() {
		t.Fatal("listener must still be running")
	}
}

func TestHeartbeat_OnMissCountsMissedPeriods(t *testing.T) {
	var expired atomic.Int32
	var misses atomic.Int32
	h := NewHeartbeatListener(time.Millisecond, func() { expired.Add(1) }, nil)
	h.OnMiss = func(int) { misses.Add(1) }
	h.Start()
	defer h.Stop()

	deadline := time.After(5 * heartbeatMaxMisses * heartbeatGrace)
	for expired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("listener never expired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := misses.Load(); got != heartbeatMaxMisses {
		t.Fatalf("expected %d recorded misses, got %d", heartbeatMaxMisses, got)
	}
}

func TestHeartbeat_StopJoinsWithoutExpiry(t *testing.T) {
	var expired atomic.Int32
	h := NewHeartbeatListener(time.Millisecond, func() { expired.Add(1) }, nil)
	h.Start()

	h.Stop()
	h.Stop() // idempotent

	if expired.Load() != 0 {
		t.Fatal("clean stop must not fire the expiry callback")
	}
	if h.Alive() {
		t.Fatal("stopped listener must not report alive")
	}
}

func TestHeartbeat_SurplusBeatsDropped(t *testing.T) {
	h := NewHeartbeatListener(time.Millisecond, nil, nil)
	// Not started: sends must never block.
	for i := 0; i < 10; i++ {
		h.Send()
	}
}
