// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger persists offline dump data in an embedded BadgerDB.
//
// Offline sessions replay training dumps instead of a live client; the
// store keeps tensor values, statistics and graph blobs keyed by rank,
// iteration and tensor name so a session can be reopened without
// re-reading the dump directory.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/tensorwatch/services/debugger/tensor"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Config holds configuration for a dump store.
type Config struct {
	// Path is the directory for database files; required unless InMemory.
	Path string

	// InMemory disables disk persistence, for tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection;
	// 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC rewrites.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal logging; nil disables it.
	Logger *slog.Logger
}

// ApplyDefaults fills unset fields with production values.
func (c *Config) ApplyDefaults() {
	if c.GCDiscardRatio == 0 {
		c.GCDiscardRatio = 0.5
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for a persistent dump store")
	}
	return nil
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DumpStore is the persisted view of one training dump.
//
// Thread Safety: safe for concurrent use.
type DumpStore struct {
	db     *badger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open creates and opens a dump store.
func Open(cfg Config) (*DumpStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create dump store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dump store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &DumpStore{
		db:     db,
		logger: logger.With(slog.String("component", "dump_store")),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory() (*DumpStore, error) {
	return Open(Config{InMemory: true})
}

// Close stops garbage collection and closes the database.
func (s *DumpStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

func (s *DumpStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Key layout. Tensor names may contain any byte except newline, so the
// segments are joined with '\n'.
func tensorKey(rank, iteration int, name string) []byte {
	return []byte(fmt.Sprintf("t\n%d\n%d\n%s", rank, iteration, name))
}

func statsKey(rank, iteration int, name string) []byte {
	return []byte(fmt.Sprintf("s\n%d\n%d\n%s", rank, iteration, name))
}

func graphKey(rank int, name string) []byte {
	return []byte(fmt.Sprintf("g\n%d\n%s", rank, name))
}

// PutTensor persists one tensor value.
func (s *DumpStore) PutTensor(rank, iteration int, name string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tensorKey(rank, iteration, name), value)
	})
}

// GetTensor loads one tensor value.
func (s *DumpStore) GetTensor(rank, iteration int, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tensorKey(rank, iteration, name))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// PutStats persists summary statistics for one tensor.
func (s *DumpStore) PutStats(rank, iteration int, name string, stats tensor.Stats) error {
	buf, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statsKey(rank, iteration, name), buf)
	})
}

// GetStats loads summary statistics for one tensor.
func (s *DumpStore) GetStats(rank, iteration int, name string) (tensor.Stats, error) {
	var stats tensor.Stats
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statsKey(rank, iteration, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stats)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return tensor.Stats{}, ErrNotFound
	}
	return stats, err
}

// PutGraph persists one serialized sub-graph.
func (s *DumpStore) PutGraph(rank int, name string, blob []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(graphKey(rank, name), blob)
	})
}

// GetGraph loads one serialized sub-graph.
func (s *DumpStore) GetGraph(rank int, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(graphKey(rank, name))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// GraphNames lists the persisted sub-graph names of one rank, sorted.
func (s *DumpStore) GraphNames(rank int) ([]string, error) {
	prefix := []byte(fmt.Sprintf("g\n%d\n", rank))
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Iterations lists the iterations with persisted tensors for one rank, in
// ascending order.
func (s *DumpStore) Iterations(rank int) ([]int, error) {
	prefix := []byte(fmt.Sprintf("t\n%d\n", rank))
	seen := map[int]bool{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := string(it.Item().Key()[len(prefix):])
			iterStr, _, ok := strings.Cut(rest, "\n")
			if !ok {
				continue
			}
			n, err := strconv.Atoi(iterStr)
			if err != nil {
				continue
			}
			seen[n] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
