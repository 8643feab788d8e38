// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session manages debugger session lifecycles.
//
// One online session backs a live training client; offline sessions are
// created per dump directory and capped. Each session owns a stream
// server; deleting a session stops the server synchronously, joining its
// heartbeat listener.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
	dumpstore "github.com/AleutianAI/tensorwatch/services/debugger/storage/badger"
	"github.com/AleutianAI/tensorwatch/services/debugger/stream"
)

// Mode distinguishes live and dump-backed sessions.
type Mode string

const (
	ModeOnline  Mode = "ONLINE"
	ModeOffline Mode = "OFFLINE"
)

const (
	// OnlineSessionID is the reserved id of the single online session.
	OnlineSessionID = "0"
	// MaxSessionNum caps concurrently open offline sessions.
	MaxSessionNum = 2
)

// ErrExiting is returned when session creation races a manager shutdown.
var ErrExiting = errors.New("session manager is exiting")

// Session is one debugger session.
type Session struct {
	ID       string
	Mode     Mode
	TrainJob string
	// DumpDir is the normalized absolute dump path of an offline session.
	DumpDir string
	Server  *stream.Server
	// Store indexes persisted dump data; nil for online sessions.
	Store *dumpstore.DumpStore

	watcher *Watcher
}

// Stop shuts the session down synchronously.
func (s *Session) Stop() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.Server.Stop()
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			slog.Warn("dump store close failed", "session_id", s.ID, "error", err)
		}
	}
}

// Config configures the session manager.
type Config struct {
	// DumpRoot is the base directory offline train jobs resolve under.
	DumpRoot string
	// EnableOnline creates the online session eagerly.
	EnableOnline bool
	// WatchDumps starts an fsnotify watcher per offline session.
	WatchDumps bool
	Stream     stream.Config
	Logger     *slog.Logger
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Stream.Logger = c.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DumpRoot != "" && !filepath.IsAbs(c.DumpRoot) {
		return fmt.Errorf("dump root must be absolute, got %q", c.DumpRoot)
	}
	return nil
}

// Manager owns the session table.
//
// Thread Safety: safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	online    *Session
	sessions  map[string]*Session
	trainJobs map[string]string
	nextID    int
	exiting   bool
}

// NewManager builds a session manager; with EnableOnline the online
// session starts immediately.
func NewManager(cfg Config) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:       cfg,
		logger:    cfg.Logger.With(slog.String("component", "session_manager")),
		sessions:  map[string]*Session{},
		trainJobs: map[string]string{},
		nextID:    1,
	}
	if cfg.EnableOnline {
		if _, err := m.CreateOnline(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CreateOnline returns the online session id, creating the session when
// absent.
func (m *Manager) CreateOnline() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exiting {
		return "", ErrExiting
	}
	if m.online != nil {
		return OnlineSessionID, nil
	}
	srv, err := stream.NewServer(m.cfg.Stream)
	if err != nil {
		return "", err
	}
	m.online = &Session{ID: OnlineSessionID, Mode: ModeOnline, Server: srv}
	m.logger.Info("online session created")
	return OnlineSessionID, nil
}

// CreateOffline opens an offline session for a train job's dump directory.
// An existing session for the same job is reused; the table is capped.
func (m *Manager) CreateOffline(trainJob string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exiting {
		return "", ErrExiting
	}
	if id, ok := m.trainJobs[trainJob]; ok {
		return id, nil
	}
	if len(m.sessions) >= MaxSessionNum {
		return "", derrors.New(derrors.CodeSessionOverBound,
			"no more than %d offline sessions may be open", MaxSessionNum)
	}
	dumpDir, err := resolveDumpDir(m.cfg.DumpRoot, trainJob)
	if err != nil {
		return "", err
	}
	srv, err := stream.NewServer(m.cfg.Stream)
	if err != nil {
		return "", err
	}
	store, err := dumpstore.Open(dumpstore.Config{
		Path:   filepath.Join(dumpDir, ".tensorwatch"),
		Logger: m.cfg.Logger,
	})
	if err != nil {
		srv.Stop()
		return "", fmt.Errorf("open dump store: %w", err)
	}
	sess := &Session{
		ID:       strconv.Itoa(m.nextID),
		Mode:     ModeOffline,
		TrainJob: trainJob,
		DumpDir:  dumpDir,
		Server:   srv,
		Store:    store,
	}
	if m.cfg.WatchDumps {
		w, werr := NewWatcher(dumpDir, srv.Events(), m.cfg.Logger)
		if werr != nil {
			sess.Server.Stop()
			if cerr := store.Close(); cerr != nil {
				m.logger.Warn("dump store close failed", "error", cerr)
			}
			return "", werr
		}
		sess.watcher = w
		w.Start()
	}
	m.sessions[sess.ID] = sess
	m.trainJobs[trainJob] = sess.ID
	m.nextID++
	m.logger.Info("offline session created", "session_id", sess.ID, "dump_dir", dumpDir)
	return sess.ID, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == OnlineSessionID && m.online != nil {
		return m.online, nil
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, derrors.New(derrors.CodeSessionNotFound, "session %s not found", id)
}

// TrainJobs returns the train job to session id index.
func (m *Manager) TrainJobs() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.trainJobs))
	for job, id := range m.trainJobs {
		out[job] = id
	}
	return out
}

// Delete stops and removes a session. The stop is synchronous so the
// heartbeat goroutine is joined before the id is released.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	var sess *Session
	if id == OnlineSessionID {
		if m.online == nil {
			m.mu.Unlock()
			return derrors.New(derrors.CodeSessionNotFound, "session %s not found", id)
		}
		sess = m.online
		m.online = nil
	} else {
		s, ok := m.sessions[id]
		if !ok {
			m.mu.Unlock()
			return derrors.New(derrors.CodeSessionNotFound, "session %s not found", id)
		}
		sess = s
		delete(m.sessions, id)
		delete(m.trainJobs, s.TrainJob)
	}
	m.mu.Unlock()

	sess.Stop()
	m.logger.Info("session deleted", "session_id", id)
	return nil
}

// Exit stops every session; later creations fail with ErrExiting.
func (m *Manager) Exit() {
	m.mu.Lock()
	m.exiting = true
	var all []*Session
	if m.online != nil {
		all = append(all, m.online)
		m.online = nil
	}
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.trainJobs = map[string]string{}
	m.mu.Unlock()

	m.logger.Info("stopping all sessions", "count", len(all))
	for _, s := range all {
		s.Stop()
	}
}

// resolveDumpDir joins a train job onto the dump root and validates the
// result: the path must stay inside the root, so "../" segments and
// absolute jobs are rejected.
func resolveDumpDir(root, trainJob string) (string, error) {
	if trainJob == "" {
		return "", derrors.New(derrors.CodeParamValue, "train job must not be empty")
	}
	if root == "" {
		return "", derrors.New(derrors.CodeParamValue, "dump root is not configured")
	}
	if filepath.IsAbs(trainJob) {
		return "", derrors.New(derrors.CodeParamValue,
			"train job must be relative to the dump root")
	}
	root = filepath.Clean(root)
	resolved := filepath.Clean(filepath.Join(root, trainJob))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", derrors.New(derrors.CodeParamValue,
			"train job escapes the dump root")
	}
	return resolved, nil
}
