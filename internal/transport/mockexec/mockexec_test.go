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

package mockexec

import (
	"context"
	"testing"
	"time"

	"kaioken/internal/engine/core"
)

func TestExecutorInstant(t *testing.T) {
	e := &Executor{}
	start := time.Now()
	res := e.Execute(context.Background(), core.Request{Method: "GET", URL: "mock://fast"})
	if time.Since(start) > 5*time.Millisecond {
		t.Fatalf("instant mock took too long: %v", time.Since(start))
	}
	if res.Status != 200 {
		t.Fatalf("status = %d, want 200", res.Status)
	}
}

func TestExecutorConstantLatency(t *testing.T) {
	e := &Executor{Latency: 50 * time.Millisecond}
	start := time.Now()
	res := e.Execute(context.Background(), core.Request{})
	elapsed := time.Since(start)
	if elapsed < 45*time.Millisecond || elapsed > 150*time.Millisecond {
		t.Fatalf("elapsed = %v, want ~50ms", elapsed)
	}
	if res.Tag != core.ResultHTTPResponse {
		t.Fatalf("tag = %v, want HTTP response", res.Tag)
	}
}

func TestExecutorPeriodicFreeze(t *testing.T) {
	e := &Executor{FreezeEvery: time.Second, FreezeFor: 100 * time.Millisecond}
	e.ensureStarted()
	e.start = time.Now().Add(-1050 * time.Millisecond) // force next call 50ms into the second period's freeze window

	start := time.Now()
	e.Execute(context.Background(), core.Request{})
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond {
		t.Fatalf("expected to observe freeze delay, elapsed = %v", elapsed)
	}
}

func TestExecutorRespectsDeadline(t *testing.T) {
	e := &Executor{Latency: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := e.Execute(ctx, core.Request{})
	if res.Tag != core.ResultTimeout {
		t.Fatalf("tag = %v, want Timeout", res.Tag)
	}
}
