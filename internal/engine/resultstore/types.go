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

// Package resultstore archives RunResult documents under a name so a later
// "compare" invocation (spec.md §4.8) can load one back as a baseline.
//
// This is the same idempotent-write shape as the teacher's
// internal/ratelimiter/persistence package, repointed at a different
// payload: instead of applying a commit exactly once against a running
// counter, a store here writes a named RunResult exactly once (or, with
// overwrite, replaces it) and later reads it back verbatim.
package resultstore

import (
	"context"
	"errors"

	"kaioken/internal/engine/core"
)

// ErrAlreadyExists is returned by Save when a result already exists under
// name and the caller did not request overwrite.
var ErrAlreadyExists = errors.New("resultstore: a result already exists under this name")

// ErrNotFound is returned by Load when no result exists under name.
var ErrNotFound = errors.New("resultstore: no result found under this name")

// Store archives and retrieves named RunResult snapshots.
type Store interface {
	// Save writes result under name. If a result already exists under
	// that name, Save returns ErrAlreadyExists unless overwrite is true.
	Save(ctx context.Context, name string, result *core.RunResult, overwrite bool) error

	// Load returns the RunResult previously saved under name, or
	// ErrNotFound if none exists.
	Load(ctx context.Context, name string) (*core.RunResult, error)
}
