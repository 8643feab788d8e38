// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/tensorwatch/services/debugger/stream"
)

// Watcher observes an offline dump directory and pushes a UI event each
// time the trainer writes a new iteration directory.
//
// Thread Safety: safe for concurrent use.
type Watcher struct {
	dir    string
	events *stream.EventQueue
	logger *slog.Logger

	fsw  *fsnotify.Watcher
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewWatcher builds a watcher over an existing dump directory.
func NewWatcher(dir string, events *stream.EventQueue, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		dir:    dir,
		events: events,
		logger: logger.With(slog.String("component", "dump_watcher"), slog.String("dir", dir)),
		fsw:    fsw,
		stop:   make(chan struct{}),
	}, nil
}

// Start launches the watch goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	w.logger.Info("dump watcher started")
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			w.logger.Debug("new dump entry", "name", name)
			w.events.Put(stream.Event{"new_dump_entry": name})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("dump watch error", "error", err)
		}
	}
}

// Stop closes the watcher and joins its goroutine.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
	w.wg.Wait()
}
