// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"fmt"
	"sync"
	"time"
)

// ChainContext holds a single VU's extracted variables. Unlike the teacher's
// sync.Map-backed Store, a ChainContext is never shared across goroutines
// (spec.md §3 invariant: "ChainContext is never shared across VUs"), so a
// plain map guarded by a cheap mutex is correct and avoids sync.Map's extra
// indirection for a structure that only ever has one reader/writer at a time
// (the mutex only keeps an accidental cross-goroutine use from corrupting
// the map).
type ChainContext struct {
	mu       sync.Mutex
	vars     map[string]string
	workerID int64
	counter  int64
	warned   map[string]bool
}

// NewChainContext creates an empty chain context for one VU.
func NewChainContext(workerID int64) *ChainContext {
	return &ChainContext{
		vars:     make(map[string]string),
		workerID: workerID,
		warned:   make(map[string]bool),
	}
}

// Set records an extracted variable, visible to subsequent iterations of the
// same VU only.
func (c *ChainContext) Set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// SetAll merges a batch of extracted variables (typically one scenario's
// worth of extractions after a single iteration).
func (c *ChainContext) SetAll(vars map[string]string) {
	if len(vars) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range vars {
		c.vars[k] = v
	}
}

// Lookup resolves a runtime (lowercase-convention) variable. Built-ins
// REQUEST_ID and TIMESTAMP_MS are computed fresh on every call, per spec.md
// §3, and take precedence over anything stored by extraction.
func (c *ChainContext) Lookup(name string) (string, bool) {
	switch name {
	case "REQUEST_ID":
		c.mu.Lock()
		c.counter++
		n := c.counter
		c.mu.Unlock()
		return fmt.Sprintf("%d", c.workerID*1_000_000_000+n), true
	case "TIMESTAMP_MS":
		return fmt.Sprintf("%d", time.Now().UnixMilli()), true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[name]
	return v, ok
}

// WarnOnce reports whether this is the first time `name` has been seen as an
// unresolved variable for this VU; subsequent calls for the same name return
// false so the caller logs at most once per VU per variable (SPEC_FULL.md
// §12, open question #3).
func (c *ChainContext) WarnOnce(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warned[name] {
		return false
	}
	c.warned[name] = true
	return true
}
