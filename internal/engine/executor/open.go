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
	"math"
	"sync"
	"sync/atomic"
	"time"

	"kaioken/internal/engine/aggregator"
	"kaioken/internal/engine/core"
	"kaioken/internal/engine/phase"
	"kaioken/internal/engine/scenario"
)

// vuPoolState is the OpenExecutor's per-VU lifecycle state (spec.md §4.6).
type vuPoolState int32

const (
	vuIdle vuPoolState = iota
	vuExecuting
	vuReaping
	vuRetired
)

type arrival struct {
	scheduledAt time.Time
}

type openVU struct {
	id       int64
	chain    *core.ChainContext
	exec     core.RequestExecutor // this VU's own executor (jar clone or shared default)
	state    int32                // atomic vuPoolState
	lastIdle int64                // unix nano, updated when state transitions to Idle
	inbox    chan arrival
}

// OpenExecutor drives an arrival-rate ("open-loop") load model: requests
// arrive on a schedule independent of service time, and an auto-scaling VU
// pool absorbs them (spec.md §4.6). The dual dispatch/reaper ticker shape
// is grounded on the teacher's Worker commit/eviction loops
// (internal/ratelimiter/core/worker.go), generalized from "commit, then
// evict idle keys" to "dispatch an arrival, then reap idle VUs".
type OpenExecutor struct {
	plan   *core.RunPlan
	sel    *scenario.Selector
	agg    *aggregator.Aggregator
	ctl    *phase.Controller
	runner *iterationRunner

	mu      sync.Mutex
	pool    []*openVU
	nextID  int64

	maxVUs int

	completed int64
	dropped   int64
}

// NewOpen builds an OpenExecutor for a finalized ArrivalRate or rate-Stages
// plan.
func NewOpen(plan *core.RunPlan, sel *scenario.Selector, exec core.RequestExecutor, agg *aggregator.Aggregator, ctl *phase.Controller, maxVUs int, warmupEnd time.Time) (*OpenExecutor, error) {
	runner, err := newIterationRunner(sel, exec, plan.Target, plan.Checks, warmupEnd)
	if err != nil {
		return nil, err
	}
	return &OpenExecutor{
		plan:   plan,
		sel:    sel,
		agg:    agg,
		ctl:    ctl,
		runner: runner,
		maxVUs: maxVUs,
	}, nil
}

// Run drives the arrival schedule until ctx is done. It blocks until every
// spawned VU has drained its in-flight work.
func (e *OpenExecutor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reaperLoop(reaperCtx)
	}()

	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			stopReaper()
			e.shutdownAll()
			wg.Wait()
			return
		default:
		}

		target := e.ctl.Target(time.Now())
		if target <= 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		interval := time.Duration(float64(time.Second) / target)

		// Sleep to the next scheduled instant measured from the previous
		// instant, not from completion — this is what makes the loop
		// open-loop (spec.md §4.6).
		now := time.Now()
		if next.Before(now) {
			next = now
		}
		wait := next.Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			stopReaper()
			e.shutdownAll()
			wg.Wait()
			return
		}
		scheduledAt := next
		next = next.Add(interval)

		e.dispatch(ctx, scheduledAt)
		e.agg.SetActiveVUs(e.activeCount())
	}
}

// dispatch implements the three-way arrival decision of spec.md §4.6.
func (e *OpenExecutor) dispatch(ctx context.Context, scheduledAt time.Time) {
	e.mu.Lock()
	var target *openVU
	for _, v := range e.pool {
		if vuPoolState(atomic.LoadInt32(&v.state)) == vuIdle {
			atomic.StoreInt32(&v.state, int32(vuExecuting))
			target = v
			break
		}
	}
	if target == nil && e.activeCountLocked() < e.maxVUs {
		target = e.spawnLocked(ctx)
	}
	e.mu.Unlock()

	if target == nil {
		atomic.AddInt64(&e.dropped, 1)
		e.agg.AddDropped(1)
		return
	}
	target.inbox <- arrival{scheduledAt: scheduledAt}
}

func (e *OpenExecutor) spawnLocked(ctx context.Context) *openVU {
	id := e.nextID
	e.nextID++
	v := &openVU{
		id:    id,
		chain: core.NewChainContext(id),
		exec:  vuExecutor(e.runner.baseExecutor(), e.plan.CookieJar),
		inbox: make(chan arrival, 1),
	}
	atomic.StoreInt32(&v.state, int32(vuExecuting))
	e.pool = append(e.pool, v)
	go e.vuLoop(ctx, v)
	return v
}

func (e *OpenExecutor) vuLoop(ctx context.Context, v *openVU) {
	rng := scenario.NewRNG(e.plan.Seed + v.id)
	for arr := range v.inbox {
		if vuPoolState(atomic.LoadInt32(&v.state)) == vuRetired {
			return
		}
		drawn := e.sel.Draw(rng)
		e.runner.runChain(ctx, drawn, v.chain, arr.scheduledAt, e.plan.Target.Timeout, v.exec, func(name string, o core.Outcome) {
			atomic.AddInt64(&e.completed, 1)
			e.agg.Submit(name, o)
		})
		atomic.StoreInt64(&v.lastIdle, time.Now().UnixNano())
		atomic.StoreInt32(&v.state, int32(vuIdle))
	}
}

func (e *OpenExecutor) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCountLocked()
}

func (e *OpenExecutor) activeCountLocked() int {
	n := 0
	for _, v := range e.pool {
		if vuPoolState(atomic.LoadInt32(&v.state)) != vuRetired {
			n++
		}
	}
	return n
}

// reaperLoop retires VUs idle for more than 10s, down to a floor of
// ceil(rps*0.1) (spec.md §4.6).
func (e *OpenExecutor) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.reapOnce()
		case <-ctx.Done():
			return
		}
	}
}

func (e *OpenExecutor) reapOnce() {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A retirement last tick disarms the controller for exactly one tick, so
	// the pool never sheds more than one VU per settling window even if
	// several sit past the idle threshold at once.
	if !e.ctl.Armed() {
		e.ctl.Rearm()
		return
	}

	minVUs := int(math.Ceil(e.ctl.Target(time.Now()) * 0.1))
	if minVUs < 0 {
		minVUs = 0
	}

	alive := e.activeCountLocked()
	now := time.Now().UnixNano()
	for _, v := range e.pool {
		if alive <= minVUs {
			break
		}
		if vuPoolState(atomic.LoadInt32(&v.state)) != vuIdle {
			continue
		}
		last := atomic.LoadInt64(&v.lastIdle)
		if last == 0 || time.Duration(now-last) < 10*time.Second {
			continue
		}
		atomic.StoreInt32(&v.state, int32(vuReaping))
		atomic.StoreInt32(&v.state, int32(vuRetired))
		close(v.inbox)
		alive--
		e.ctl.Disarm()
		break
	}
}

func (e *OpenExecutor) shutdownAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.pool {
		if vuPoolState(atomic.LoadInt32(&v.state)) == vuRetired {
			continue
		}
		atomic.StoreInt32(&v.state, int32(vuRetired))
		close(v.inbox)
	}
}

// Completed returns the total completed iteration count.
func (e *OpenExecutor) Completed() int64 { return atomic.LoadInt64(&e.completed) }

// Dropped returns the total dropped-arrival count.
func (e *OpenExecutor) Dropped() int64 { return atomic.LoadInt64(&e.dropped) }
