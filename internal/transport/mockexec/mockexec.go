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

// Package mockexec provides the in-process core.RequestExecutor
// configurations needed to exercise the engine's testable properties
// (spec.md §8) without a real network: an instant-200 mock, a
// constant-latency mock, and a periodic-freeze mock used to prove
// coordinated-omission correction.
package mockexec

import (
	"context"
	"sync"
	"time"

	"kaioken/internal/engine/core"
)

// Executor is a configurable mock RequestExecutor.
type Executor struct {
	// Latency is the fixed per-request service time. Zero means "return
	// immediately".
	Latency time.Duration

	// FreezeEvery, FreezeFor: if FreezeEvery > 0, a call that arrives during
	// the first FreezeFor of any FreezeEvery wall-clock period (counted from
	// the first call) is held until that window closes, simulating a
	// server-side stall that coordinated-omission correction must expose.
	FreezeEvery time.Duration
	FreezeFor   time.Duration

	// Status is the HTTP status every call returns. Defaults to 200.
	Status int

	// Body is the response body returned, used by chaining tests to supply
	// extractable JSON.
	Body []byte

	mu      sync.Mutex
	start   time.Time
	started bool
}

func (e *Executor) ensureStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		e.start = time.Now()
		e.started = true
	}
}

// Execute simulates request service time, honoring ctx's deadline.
func (e *Executor) Execute(ctx context.Context, req core.Request) core.OutcomeResult {
	e.ensureStarted()

	wait := e.Latency
	if e.FreezeEvery > 0 {
		elapsed := time.Since(e.start)
		phase := elapsed % e.FreezeEvery
		if phase < e.FreezeFor {
			wait += e.FreezeFor - phase
		}
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return core.OutcomeResult{Tag: core.ResultTimeout}
			}
			return core.OutcomeResult{Tag: core.ResultCanceled}
		}
	}

	status := e.Status
	if status == 0 {
		status = 200
	}
	return core.OutcomeResult{
		Tag:          core.ResultHTTPResponse,
		Status:       status,
		BytesIn:      int64(len(e.Body)),
		BodyCaptured: req.CaptureBody,
		Body:         e.Body,
	}
}

// Classify always returns ErrOther; the mock never produces raw transport
// errors (timeouts and cancellation are represented directly as
// OutcomeResult tags above).
func (e *Executor) Classify(err error) core.ErrorKind { return core.ErrOther }

// SupportsBodyCapture is always true.
func (e *Executor) SupportsBodyCapture() bool { return true }

var _ core.RequestExecutor = (*Executor)(nil)
