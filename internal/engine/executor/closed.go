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

package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kaioken/internal/engine/aggregator"
	"kaioken/internal/engine/core"
	"kaioken/internal/engine/phase"
	"kaioken/internal/engine/ratelimit"
	"kaioken/internal/engine/scenario"
)

// ClosedExecutor runs a fixed pool of up to c VUs, gated by the phase
// controller's ramp and an optional shared rate limiter (spec.md §4.5).
// Grounded on the teacher's cmd/ratelimiter-api/main.go worker lifecycle:
// a WaitGroup of long-lived goroutines, generalized from a fixed worker
// count to a ramp-gated one.
type ClosedExecutor struct {
	plan      *core.RunPlan
	sel       *scenario.Selector
	agg       *aggregator.Aggregator
	ctl       *phase.Controller
	limiter   *ratelimit.Limiter
	runner    *iterationRunner

	issued    int64
	completed int64
	maxReqs   int64 // 0 == unbounded

	stopped int32
	wg      sync.WaitGroup
}

// NewClosed builds a ClosedExecutor for a finalized Concurrency plan.
func NewClosed(plan *core.RunPlan, sel *scenario.Selector, exec core.RequestExecutor, agg *aggregator.Aggregator, ctl *phase.Controller, warmupEnd time.Time) (*ClosedExecutor, error) {
	runner, err := newIterationRunner(sel, exec, plan.Target, plan.Checks, warmupEnd)
	if err != nil {
		return nil, err
	}
	var limiter *ratelimit.Limiter
	if plan.Concurrency.Rate > 0 {
		// A tenth of a second's worth of burst: a full second's worth would
		// let the initial bucket add rate extra requests to the run.
		burst := plan.Concurrency.Rate / 10
		if burst < 1 {
			burst = 1
		}
		limiter = ratelimit.NewLimiter(plan.Concurrency.Rate, burst)
	}
	return &ClosedExecutor{
		plan:    plan,
		sel:     sel,
		agg:     agg,
		ctl:     ctl,
		limiter: limiter,
		runner:  runner,
		maxReqs: plan.Concurrency.MaxRequests,
	}, nil
}

// Run spawns up to c VUs and blocks until the run deadline, max_requests,
// or ctx cancellation stops every one of them.
func (e *ClosedExecutor) Run(ctx context.Context) {
	deadline := time.Now().Add(e.plan.Concurrency.Duration)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	c := e.plan.Concurrency.C
	e.wg.Add(c)
	var active int64
	for i := 0; i < c; i++ {
		go func(workerID int) {
			defer e.wg.Done()
			e.vuLoop(runCtx, int64(workerID), &active)
		}(i)
	}
	e.wg.Wait()
}

func (e *ClosedExecutor) vuLoop(ctx context.Context, workerID int64, active *int64) {
	chain := core.NewChainContext(workerID)
	rng := scenario.NewRNG(e.plan.Seed + workerID)
	exec := vuExecutor(e.runner.baseExecutor(), e.plan.CookieJar)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Ramp gate: a VU whose index exceeds the current target stays
		// parked rather than issuing requests, so ramp-up is honored
		// without tearing down and respawning goroutines.
		if e.ctl != nil {
			target := int64(e.ctl.Target(time.Now()))
			if workerID >= target {
				select {
				case <-time.After(50 * time.Millisecond):
					continue
				case <-ctx.Done():
					return
				}
			}
		}

		if e.maxReqs > 0 && atomic.LoadInt64(&e.completed) >= e.maxReqs {
			return
		}

		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx, 1); err != nil {
				return
			}
		}

		atomic.AddInt64(active, 1)
		e.agg.SetActiveVUs(int(atomic.LoadInt64(active)))

		drawn := e.sel.Draw(rng)
		atomic.AddInt64(&e.issued, 1)
		e.runner.runChain(ctx, drawn, chain, time.Time{}, e.plan.Target.Timeout, exec, func(name string, o core.Outcome) {
			atomic.AddInt64(&e.completed, 1)
			e.agg.Submit(name, o)
		})

		atomic.AddInt64(active, -1)
		e.agg.SetActiveVUs(int(atomic.LoadInt64(active)))

		if e.plan.Concurrency.ThinkTime > 0 {
			select {
			case <-time.After(e.plan.Concurrency.ThinkTime):
			case <-ctx.Done():
				return
			}
		}
	}
}
