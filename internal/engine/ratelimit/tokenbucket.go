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

// Package ratelimit provides a continuous-refill token bucket used by the
// closed-loop executor to cap aggregate throughput (spec.md §4.2). Grounded
// on the teacher's benchmarks/harness/main.go tokenBucket variant
// (refill-on-access against a monotonic clock, mutex-guarded), generalized
// from a per-key map to a single shared bucket since closed-loop rate
// capping is one budget shared by all VUs, not a per-user budget.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket with continuous (fractional) refill.
type Limiter struct {
	mu     sync.Mutex
	rate   float64 // tokens/sec
	burst  float64
	tokens float64
	last   time.Time
}

// NewLimiter creates a limiter. If burst <= 0 it defaults to rate.
func NewLimiter(rate, burst float64) *Limiter {
	if burst <= 0 {
		burst = rate
	}
	return &Limiter{rate: rate, burst: burst, tokens: burst, last: time.Now()}
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now
}

// Acquire blocks until `tokens` are available or ctx is done/deadline
// expires, whichever comes first. Returns ctx.Err() on cancellation/timeout,
// nil on success.
func (l *Limiter) Acquire(ctx context.Context, tokens float64) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.refillLocked(now)
		if l.tokens >= tokens {
			l.tokens -= tokens
			l.mu.Unlock()
			return nil
		}
		need := tokens - l.tokens
		wait := time.Duration(need / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// loop and re-check; another waiter may have consumed tokens
			// between computing `wait` and the timer firing.
		}
	}
}
