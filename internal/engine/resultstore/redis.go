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
	"encoding/json"
	"fmt"

	"kaioken/internal/engine/core"
)

// RedisEvaler abstracts the minimal surface needed from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 or any equivalent.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	Get(ctx context.Context, key string) (string, error)
}

// RedisStore archives RunResult documents as JSON strings under
// "result:<name>". Writes go through a Lua script so the
// exists-then-set decision is atomic: two concurrent "run --save-as same"
// invocations cannot both believe they won the race.
type RedisStore struct {
	client RedisEvaler
}

// NewRedisStore returns a Store backed by the given Redis client.
func NewRedisStore(client RedisEvaler) *RedisStore {
	return &RedisStore{client: client}
}

func resultKey(name string) string { return fmt.Sprintf("result:%s", name) }

// redisSaveScript performs the idempotent (or forced) write. Returns 1 if
// the write was applied, 0 if it was refused because the key already
// existed and overwrite was not requested.
const redisSaveScript = `
local key = KEYS[1]
local payload = ARGV[1]
local overwrite = ARGV[2]
if overwrite == "1" then
  redis.call('SET', key, payload)
  return 1
end
local ok = redis.call('SETNX', key, payload)
return ok
`

// Save writes result as JSON under "result:<name>".
func (r *RedisStore) Save(ctx context.Context, name string, result *core.RunResult, overwrite bool) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %q: %w", name, err)
	}
	overwriteArg := "0"
	if overwrite {
		overwriteArg = "1"
	}
	reply, err := r.client.Eval(ctx, redisSaveScript, []string{resultKey(name)}, string(payload), overwriteArg)
	if err != nil {
		return fmt.Errorf("redis eval save %q: %w", name, err)
	}
	var applied int64
	switch v := reply.(type) {
	case int64:
		applied = v
	case int:
		applied = int64(v)
	}
	if applied == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Load reads back the RunResult saved under name.
func (r *RedisStore) Load(ctx context.Context, name string) (*core.RunResult, error) {
	payload, err := r.client.Get(ctx, resultKey(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var result core.RunResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("unmarshal result %q: %w", name, err)
	}
	return &result, nil
}
