// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats maintains the counters of a pricing session: how many
// requests were priced, how many paths were simulated, and how many
// tasks completed or failed. Counters are safe for concurrent use and
// can be snapshotted at any time.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Names of the counters maintained by sessions.
const (
	Runs           = "runs"
	Requests       = "requests"
	Paths          = "paths"
	TasksCompleted = "tasks_completed"
	TasksFailed    = "tasks_failed"
)

// Values is a snapshot of the values in a collection.
type Values map[string]int64

// String returns an abbreviated string with the values in this
// snapshot sorted by key.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name. The zero Map is ready to
// use; a nil *Map discards all updates.
type Map struct {
	mu     sync.Mutex
	values Values
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return new(Map)
}

// Add increments the named counter by delta, creating it if needed.
func (m *Map) Add(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.values == nil {
		m.values = make(Values)
	}
	m.values[name] += delta
	m.mu.Unlock()
}

// Get returns the current value of the named counter.
func (m *Map) Get(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}

// Snapshot returns a copy of the current values of all counters.
func (m *Map) Snapshot() Values {
	vals := make(Values)
	if m == nil {
		return vals
	}
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] = v
	}
	m.mu.Unlock()
	return vals
}
