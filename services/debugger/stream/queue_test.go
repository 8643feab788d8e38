// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"testing"
	"time"
)

func TestEventQueue_DropOldest(t *testing.T) {
	q := NewEventQueue(2)
	q.Put(Event{"n": 1})
	q.Put(Event{"n": 2})
	q.Put(Event{"n": 3})

	e, ok := q.Poll(time.Millisecond)
	if !ok || e["n"] != 2 {
		t.Fatalf("oldest event must be dropped when full, got %v", e)
	}
}

func TestEventQueue_PollTimeout(t *testing.T) {
	q := NewEventQueue(0)
	start := time.Now()
	_, ok := q.Poll(20 * time.Millisecond)
	if ok {
		t.Fatal("empty queue must time out")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("poll returned before the timeout")
	}
}

func TestEventQueue_PollWakesOnPut(t *testing.T) {
	q := NewEventQueue(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Put(Event{"n": 1})
	}()
	e, ok := q.Poll(time.Second)
	if !ok || e["n"] != 1 {
		t.Fatalf("poll must wake on put, got %v ok=%v", e, ok)
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := NewEventQueue(0)
	q.Close()
	if _, ok := q.Poll(time.Second); ok {
		t.Fatal("closed queue must not deliver")
	}
	q.Put(Event{"n": 1})
	if q.Len() != 0 {
		t.Fatal("put after close must be discarded")
	}
}

func TestCommandQueue_Positions(t *testing.T) {
	q := NewCommandQueue()
	q.Put(Command{Exit: true})
	q.Put(Command{Run: &RunCommand{Level: RunLevelStep, Steps: 1}})

	cmd, pos, ok := q.Get(0)
	if !ok || !cmd.Exit {
		t.Fatalf("got %+v ok=%v", cmd, ok)
	}
	cmd, pos, ok = q.Get(pos)
	if !ok || cmd.Run == nil {
		t.Fatalf("got %+v ok=%v", cmd, ok)
	}
	if _, _, ok = q.Get(pos); ok {
		t.Fatal("queue must be exhausted")
	}

	// A stale position re-reads from the current backlog start.
	if cmd, _, ok := q.Get(0); !ok || !cmd.Exit {
		t.Fatal("re-reading from an old position must work")
	}
}

func TestCommandQueue_CleanAdvancesPositions(t *testing.T) {
	q := NewCommandQueue()
	q.Put(Command{Exit: true})
	q.Clean()
	q.Put(Command{Run: &RunCommand{Level: RunLevelStep, Steps: 1}})

	cmd, _, ok := q.Get(0)
	if !ok || cmd.Run == nil {
		t.Fatalf("cleaned commands must never replay, got %+v", cmd)
	}
}

func TestCommandQueue_WaitWakesOnPut(t *testing.T) {
	q := NewCommandQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Put(Command{Exit: true})
	}()
	cmd, _, ok := q.Wait(0, time.Second)
	if !ok || !cmd.Exit {
		t.Fatalf("wait must wake on put, got %+v ok=%v", cmd, ok)
	}
}
