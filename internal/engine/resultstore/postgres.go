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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kaioken/internal/engine/core"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS runs (
//   name        TEXT PRIMARY KEY,
//   result_json JSONB NOT NULL,
//   created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
// );
//
// Idempotent insert (overwrite=false):
//   INSERT INTO runs(name, result_json) VALUES ($1, $2)
//     ON CONFLICT (name) DO NOTHING;
//   -- affected-row count of 0 means a result already existed under name.
//
// Forced write (overwrite=true):
//   INSERT INTO runs(name, result_json) VALUES ($1, $2)
//     ON CONFLICT (name) DO UPDATE SET result_json = EXCLUDED.result_json,
//                                      created_at  = now();

// PostgresStore archives RunResult documents in a "runs" table, one row per
// name, using the idempotent INSERT ... ON CONFLICT pattern.
type PostgresStore struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// NewPostgresStore creates a store backed by db. Callers are responsible
// for creating the "runs" table (see the schema comment above).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, defaultTimeout: 10 * time.Second}
}

func (p *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || p.defaultTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.defaultTimeout)
}

// Save inserts result under name. Without overwrite, a pre-existing row is
// left untouched and ErrAlreadyExists is returned; with overwrite, the row
// is replaced in place.
func (p *PostgresStore) Save(ctx context.Context, name string, result *core.RunResult, overwrite bool) error {
	if name == "" {
		return errors.New("resultstore: name must be set")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %q: %w", name, err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var query string
	if overwrite {
		query = `INSERT INTO runs(name, result_json) VALUES ($1, $2)
		         ON CONFLICT (name) DO UPDATE SET result_json = EXCLUDED.result_json, created_at = now()`
	} else {
		query = `INSERT INTO runs(name, result_json) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`
	}
	res, err := p.db.ExecContext(ctx, query, name, payload)
	if err != nil {
		return fmt.Errorf("insert runs(%s): %w", name, err)
	}
	if !overwrite {
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected runs(%s): %w", name, err)
		}
		if n == 0 {
			return ErrAlreadyExists
		}
	}
	return nil
}

// Load reads back the RunResult stored under name.
func (p *PostgresStore) Load(ctx context.Context, name string) (*core.RunResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE name = $1`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select runs(%s): %w", name, err)
	}
	var result core.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result %q: %w", name, err)
	}
	return &result, nil
}
