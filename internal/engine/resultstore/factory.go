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

package resultstore

import (
	"context"
	"fmt"
	"sync"

	"kaioken/internal/engine/core"
)

// memoryStore is an in-process Store, useful for --dry-run and for tests
// that shouldn't depend on a reachable Redis or Postgres.
type memoryStore struct {
	mu      sync.Mutex
	results map[string]*core.RunResult
}

func newMemoryStore() *memoryStore {
	return &memoryStore{results: make(map[string]*core.RunResult)}
}

func (m *memoryStore) Save(_ context.Context, name string, result *core.RunResult, overwrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.results[name]; exists && !overwrite {
		return ErrAlreadyExists
	}
	m.results[name] = result
	return nil
}

func (m *memoryStore) Load(_ context.Context, name string) (*core.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.results[name]
	if !ok {
		return nil, ErrNotFound
	}
	return result, nil
}

// Options holds the connection knobs for building a Store.
type Options struct {
	RedisAddr   string
	PostgresDSN string // unused here; callers open *sql.DB and pass it to NewPostgresStore directly
}

// Build constructs a Store for the given adapter name.
// Supported adapters:
//   - "", "memory": in-process map, lost on exit (default)
//   - "redis": JSON-over-Redis archive; uses a real client when RedisAddr is
//     set, otherwise a logging stand-in so --dry-run works without infra
//   - "postgres": not buildable from Options alone; construct NewPostgresStore
//     directly with an opened *sql.DB
func Build(adapter string, opts Options) (Store, error) {
	switch adapter {
	case "", "memory":
		return newMemoryStore(), nil
	case "redis":
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			evaler = LoggingRedisEvaler{}
		}
		return NewRedisStore(evaler), nil
	case "postgres":
		return nil, fmt.Errorf("postgres adapter requires an opened *sql.DB; construct resultstore.NewPostgresStore directly")
	default:
		return nil, fmt.Errorf("unknown results-store adapter: %s", adapter)
	}
}
