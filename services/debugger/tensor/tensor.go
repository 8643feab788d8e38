// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tensor caches tensor values and statistics received from the
// training client.
//
// Values arrive in chunks and are reassembled by the caller; the cache
// stores the finished record per tensor name and step, enforces a
// per-tensor byte ceiling, and invalidates old steps while keeping the
// latest parameter snapshots for change-based conditions.
package tensor

import (
	"log/slog"
	"sync"
)

// MaxSingleTensorCacheBytes is the ceiling for one cached tensor value.
// Larger payloads keep their base info but drop the value bytes.
const MaxSingleTensorCacheBytes = 512 * 1024 * 1024

// Base is the shape-level description of a tensor.
type Base struct {
	Dtype    string `json:"dtype"`
	Shape    []int64 `json:"shape"`
	DataSize int64  `json:"data_size"`
}

// Stats are the summary statistics supplied by the numeric oracle.
type Stats struct {
	Max         float64 `json:"overall_max"`
	Min         float64 `json:"overall_min"`
	Avg         float64 `json:"overall_avg"`
	Count       int64   `json:"overall_count"`
	ZeroCount   int64   `json:"overall_zero_count"`
	NaNCount    int64   `json:"overall_nan_count"`
	NegInfCount int64   `json:"overall_neg_inf_count"`
	PosInfCount int64   `json:"overall_pos_inf_count"`
}

// Value is one finished tensor record.
type Value struct {
	// Name is "full_name:slot".
	Name string
	Step int
	Base Base
	// Bytes holds the raw value; nil when Oversize.
	Bytes []byte
	// Oversize marks a value dropped for exceeding the cache ceiling.
	Oversize bool
	Stats    *Stats
}

type cacheKey struct {
	name string
	step int
}

// Cache holds tensor records of one rank.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	logger *slog.Logger

	values map[cacheKey]*Value
	// parameters holds the full tensor names of parameter nodes, recorded
	// when a graph arrives; their previous-step values survive Clean so
	// change conditions have a comparison base.
	parameters map[string]bool
}

// NewCache returns an empty cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:     logger.With(slog.String("component", "tensor_cache")),
		values:     map[cacheKey]*Value{},
		parameters: map[string]bool{},
	}
}

// RecordParameterNames registers parameter tensor names so their history
// survives per-step invalidation.
func (c *Cache) RecordParameterNames(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.parameters[n] = true
	}
}

// IsParameter reports whether the tensor name belongs to a parameter node.
func (c *Cache) IsParameter(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parameters[name]
}

// Put stores a finished tensor record. It reports whether the record holds
// usable data, which the caller uses to release a pending view request.
// An oversized value is stored without bytes so the UI can report the
// overflow instead of retrying forever.
func (c *Cache) Put(v Value) bool {
	if v.Oversize {
		c.logger.Warn("tensor value dropped, exceeds cache ceiling",
			"tensor", v.Name, "data_size", v.Base.DataSize)
		v.Bytes = nil
	}
	c.mu.Lock()
	c.values[cacheKey{name: v.Name, step: v.Step}] = &v
	c.mu.Unlock()
	return !v.Oversize
}

// PutBase stores shape-level info without a value payload. It returns
// false only when the record is empty.
func (c *Cache) PutBase(name string, step int, base Base) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{name: name, step: step}
	if existing, ok := c.values[key]; ok {
		existing.Base = base
		return true
	}
	c.values[key] = &Value{Name: name, Step: step, Base: base}
	return true
}

// PutStats attaches summary statistics to a tensor record, creating the
// record when absent.
func (c *Cache) PutStats(name string, step int, base Base, stats Stats) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{name: name, step: step}
	v, ok := c.values[key]
	if !ok {
		v = &Value{Name: name, Step: step}
		c.values[key] = v
	}
	v.Base = base
	v.Stats = &stats
	return true
}

// Get returns the record for a tensor at a step.
func (c *Cache) Get(name string, step int) (*Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[cacheKey{name: name, step: step}]
	return v, ok
}

// Clean drops records older than curStep-1 and non-parameter records of
// curStep-1, keeping the previous parameter snapshots.
func (c *Cache) Clean(curStep int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.values {
		if key.step >= curStep {
			continue
		}
		if key.step == curStep-1 && c.parameters[key.name] {
			continue
		}
		delete(c.values, key)
	}
}

// Reset drops every record and the parameter registry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[cacheKey]*Value{}
	c.parameters = map[string]bool{}
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
