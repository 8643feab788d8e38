// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"sync"
	"time"
)

// Event is one UI-facing data record pushed to the web layer.
type Event map[string]any

// EventQueue is the bounded UI data channel. The stream server pushes
// metadata snapshots, graphs and hit flags; the web layer polls. When the
// queue is full the oldest event is dropped.
//
// Thread Safety: safe for concurrent use.
type EventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	limit  int
	closed bool
}

const defaultEventQueueLimit = 100

// NewEventQueue returns a queue bounded at limit events; limit <= 0 uses
// the default.
func NewEventQueue(limit int) *EventQueue {
	if limit <= 0 {
		limit = defaultEventQueueLimit
	}
	q := &EventQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends an event, dropping the oldest one when full. Puts on a
// closed queue are discarded.
func (q *EventQueue) Put(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.events) >= q.limit {
		q.events = q.events[1:]
	}
	q.events = append(q.events, e)
	q.cond.Broadcast()
}

// Poll returns the next event, waiting up to timeout. The second return
// is false on timeout or close.
func (q *EventQueue) Poll(timeout time.Duration) (Event, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		waitCond(q.cond, remaining)
	}
	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Clean drops all queued events.
func (q *EventQueue) Clean() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
}

// Close wakes all pollers; subsequent puts are no-ops.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// CommandQueue holds pending UI commands for the trainer poll loop.
// Commands are kept after retrieval and addressed by position so a poll
// interrupted mid-delivery can resume; Clean discards the backlog.
//
// Thread Safety: safe for concurrent use.
type CommandQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	commands []Command
	// base is the absolute position of commands[0]; positions survive
	// cleaning so a stale poller never replays dropped commands.
	base   int
	closed bool
}

// NewCommandQueue returns an empty command queue.
func NewCommandQueue() *CommandQueue {
	q := &CommandQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a command and wakes waiting pollers.
func (q *CommandQueue) Put(c Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.commands = append(q.commands, c)
	q.cond.Broadcast()
}

// Has reports whether a command at or after pos is available.
func (q *CommandQueue) Has(pos int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextIndexLocked(pos) < len(q.commands)
}

// Get returns the command at or after pos without waiting, plus the next
// position. When no command is available it returns ok=false.
func (q *CommandQueue) Get(pos int) (Command, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.nextIndexLocked(pos)
	if idx >= len(q.commands) {
		return Command{}, pos, false
	}
	return q.commands[idx], q.base + idx + 1, true
}

// Wait blocks until a command at or after pos is available or timeout
// elapses, then behaves like Get.
func (q *CommandQueue) Wait(pos int, timeout time.Duration) (Command, int, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.nextIndexLocked(pos) >= len(q.commands) && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Command{}, pos, false
		}
		waitCond(q.cond, remaining)
	}
	idx := q.nextIndexLocked(pos)
	if idx >= len(q.commands) {
		return Command{}, pos, false
	}
	return q.commands[idx], q.base + idx + 1, true
}

func (q *CommandQueue) nextIndexLocked(pos int) int {
	idx := pos - q.base
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Clean discards the backlog; positions keep advancing.
func (q *CommandQueue) Clean() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.base += len(q.commands)
	q.commands = nil
	q.cond.Broadcast()
}

// Close wakes all waiters; subsequent puts are no-ops.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// waitCond waits on c for at most d. The caller must hold c's lock.
// Broadcast does not require the lock, so a timer can issue the wakeup.
func waitCond(c *sync.Cond, d time.Duration) {
	t := time.AfterFunc(d, c.Broadcast)
	c.Wait()
	t.Stop()
}
