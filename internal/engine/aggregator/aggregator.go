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

// Package aggregator is the engine's single logical owner of statistics
// (spec.md §4.1). It drains a bounded, rendezvous-sharded outcome queue,
// classifies each outcome, updates latency histograms and counters, and
// publishes a Snapshot at >= 4Hz.
//
// The sharded-queue shape is grounded on the teacher's
// internal/ratelimiter/core/worker.go commit loop — one goroutine per shard
// draining its own channel into shard-local state, merged by a ticker —
// generalized from "commit when a VSA crosses a watermark" to "merge
// shard-local counters into the published snapshot every tick". The shard
// key (scenario name) is resolved with the teacher's present-but-unused
// github.com/dgryski/go-rendezvous, hashed with
// github.com/cespare/xxhash/v2, giving every scenario a stable home shard so
// a scenario's outcomes are always classified by the same goroutine and
// never interleave destructively with another scenario's counters.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"

	"kaioken/internal/engine/core"
	"kaioken/internal/engine/phase"
	"kaioken/pkg/histogram"
)

const (
	defaultQueueCapacity = 1024
	shardCount           = 8
	tickInterval         = 100 * time.Millisecond
	sparklineSamples     = 120
	topKCounters         = 32
	stallThreshold       = 2 * time.Second
)

// Config controls aggregator behavior derived from the RunPlan.
//
// Fail-fast threshold evaluation (spec.md §4.1 step 5) is not done here: the
// aggregator only ever classifies outcomes and publishes snapshots. The
// engine layer (internal/engine/run's watchEngineHealth) subscribes to the
// Snapshot stream and runs threshold.Evaluator itself every tick, canceling
// the run context on a breach — the aggregator stays ignorant of
// thresholds entirely, the same separation the teacher keeps between its
// Worker (commits/evicts) and its telemetry/churn package (observes).
// Warmup exclusion is decided upstream, per outcome, by the iteration
// runner (which knows each scenario's warmupEnd and stamps
// core.Outcome.WarmupExcl before the outcome ever reaches a shard) rather
// than by Config — the aggregator only ever reads that flag.
type Config struct {
	CountNon2xxAsError bool
	FailOnCheck        bool
	LatencyCorrected   bool // report corrected percentiles as "the" latency
	MaxVUs             int
}

// submission pairs an outcome with the scenario name it belongs to. The
// scenario name is needed both to route to the right shard (shardIndex)
// and, inside that shard, to tally per-scenario counts for
// core.RunResult.Scenarios — so it rides along on the channel rather than
// being dropped after routing.
type submission struct {
	scenarioName string
	outcome      core.Outcome
}

type shard struct {
	ch chan submission

	mu          sync.Mutex
	wallclock   *histogram.Histogram
	corrected   *histogram.Histogram
	queue       *histogram.Histogram
	total       int64
	success     int64
	failure     int64
	bytesIn     int64
	statusCodes map[int]int64
	errors      map[string]int64
	checks      map[string]CheckStat
	scenarios   map[string]ScenarioStat
}

func newShard(cap int) *shard {
	return &shard{
		ch:          make(chan submission, cap),
		wallclock:   histogram.New(),
		corrected:   histogram.New(),
		queue:       histogram.New(),
		statusCodes: make(map[int]int64),
		errors:      make(map[string]int64),
		checks:      make(map[string]CheckStat),
		scenarios:   make(map[string]ScenarioStat),
	}
}

// Aggregator owns all run statistics. Workers call Submit; the engine calls
// Run once in its own goroutine for the lifetime of the run.
type Aggregator struct {
	cfg    Config
	shards []*shard
	rv     *rendezvous.Rendezvous
	shardOf map[string]int

	b *broadcaster

	runStart    time.Time
	rps         *histogram.RollingRps
	sparkline   []float64
	sparklineAt int

	activeVUs         int64
	droppedIterations int64

	lastDrainNano int64
	stalled       int32

	scenarioNames []string
}

// New builds an Aggregator. scenarioNames seeds the rendezvous ring so
// shard assignment is stable for the lifetime of the run.
func New(cfg Config, scenarioNames []string) *Aggregator {
	nodes := make([]string, shardCount)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("shard-%d", i)
	}
	a := &Aggregator{
		cfg:           cfg,
		rv:            rendezvous.New(nodes, xxhash.Sum64String),
		shardOf:       make(map[string]int, shardCount),
		b:             newBroadcaster(),
		scenarioNames: scenarioNames,
	}
	for i, n := range nodes {
		a.shardOf[n] = i
	}
	perShardCap := defaultQueueCapacity / shardCount
	if perShardCap < 1 {
		perShardCap = 1
	}
	a.shards = make([]*shard, shardCount)
	for i := range a.shards {
		a.shards[i] = newShard(perShardCap)
	}
	return a
}

func (a *Aggregator) shardIndex(scenarioName string) int {
	node := a.rv.Lookup(scenarioName)
	return a.shardOf[node]
}

// Submit hands an outcome to its scenario's home shard. It blocks if the
// shard's queue is full, which is the engine's backpressure mechanism
// (spec.md §4.1: "never drop outcomes; apply backpressure to workers").
func (a *Aggregator) Submit(scenarioName string, o core.Outcome) {
	idx := a.shardIndex(scenarioName)
	a.shards[idx].ch <- submission{scenarioName: scenarioName, outcome: o}
}

// SetActiveVUs records the current count of executing VUs for the snapshot.
func (a *Aggregator) SetActiveVUs(n int) { atomic.StoreInt64(&a.activeVUs, int64(n)) }

// AddDropped increments the dropped-iteration counter (open-loop only).
func (a *Aggregator) AddDropped(n int64) { atomic.AddInt64(&a.droppedIterations, n) }

// Subscribe returns a Subscriber that observes Snapshots until ctx is done.
func (a *Aggregator) Subscribe(ctx context.Context) *Subscriber {
	return &Subscriber{b: a.b, done: ctx.Done()}
}

// Stalled reports whether the aggregator has failed to drain any shard for
// longer than the stall threshold while at least one shard still had
// outcomes queued — the engine-internal error condition of spec.md §4.1 /
// §7(c).
func (a *Aggregator) Stalled() bool { return atomic.LoadInt32(&a.stalled) == 1 }

// Run drains all shards and publishes snapshots until ctx is canceled. It
// returns when ctx is done and all shard channels have been drained of
// their currently-buffered outcomes.
func (a *Aggregator) Run(ctx context.Context, phaseOf func(time.Time) phase.Phase) {
	a.runStart = time.Now()
	a.rps = histogram.NewRollingRps(a.runStart)
	a.sparkline = make([]float64, sparklineSamples)
	atomic.StoreInt64(&a.lastDrainNano, a.runStart.UnixNano())

	var wg sync.WaitGroup
	shardCtx, cancelShards := context.WithCancel(context.Background())
	for _, sh := range a.shards {
		wg.Add(1)
		go func(sh *shard) {
			defer wg.Done()
			a.drainShard(shardCtx, sh)
		}(sh)
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.checkStall()
			a.publish(phaseOf(time.Now()))
		case <-ctx.Done():
			// Grace period: let already-buffered outcomes drain before the
			// final snapshot, mirroring the cancellation grace period of
			// spec.md §5 ("in-flight requests receive a short grace
			// period to complete").
			time.Sleep(50 * time.Millisecond)
			cancelShards()
			wg.Wait()
			a.publish(phase.Done)
			return
		}
	}
}

func (a *Aggregator) drainShard(ctx context.Context, sh *shard) {
	for {
		select {
		case sub, ok := <-sh.ch:
			if !ok {
				return
			}
			a.classify(sh, sub.scenarioName, sub.outcome)
			atomic.StoreInt64(&a.lastDrainNano, time.Now().UnixNano())
		case <-ctx.Done():
			// Drain whatever remains without blocking further.
			for {
				select {
				case sub := <-sh.ch:
					a.classify(sh, sub.scenarioName, sub.outcome)
				default:
					return
				}
			}
		}
	}
}

func (a *Aggregator) checkStall() {
	last := atomic.LoadInt64(&a.lastDrainNano)
	if time.Since(time.Unix(0, last)) > stallThreshold {
		pending := false
		for _, sh := range a.shards {
			if len(sh.ch) > 0 {
				pending = true
				break
			}
		}
		if pending {
			atomic.StoreInt32(&a.stalled, 1)
		}
	}
}

func (a *Aggregator) classify(sh *shard, scenarioName string, o core.Outcome) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.total++
	excludedByWarmup := o.WarmupExcl

	success := o.Success(a.cfg.CountNon2xxAsError)
	if a.cfg.FailOnCheck {
		for _, passed := range o.CheckResults {
			if !passed {
				success = false
				break
			}
		}
	}
	ss := sh.scenarios[scenarioName]
	ss.Count++
	if success {
		sh.success++
	} else {
		sh.failure++
		ss.ErrorCount++
	}
	sh.scenarios[scenarioName] = ss

	switch o.Result.Tag {
	case core.ResultHTTPResponse:
		bumpCounter(sh.statusCodes, o.Result.Status)
		sh.bytesIn += o.Result.BytesIn
	case core.ResultNetworkError:
		bumpStringCounter(sh.errors, string(o.Result.ErrKind))
	case core.ResultTimeout:
		bumpStringCounter(sh.errors, string(core.ErrTimeout))
	case core.ResultCanceled:
		bumpStringCounter(sh.errors, string(core.ErrCanceled))
	}

	if !excludedByWarmup {
		wallUs := o.FinishedAt.Sub(o.ScheduledAt).Microseconds()
		correctedUs := o.FinishedAt.Sub(o.StartedAt).Microseconds()
		queueUs := o.StartedAt.Sub(o.ScheduledAt).Microseconds()
		if wallUs > 0 {
			sh.wallclock.Insert(wallUs)
		}
		if correctedUs > 0 {
			sh.corrected.Insert(correctedUs)
		}
		if queueUs > 0 {
			sh.queue.Insert(queueUs)
		}
		a.rps.Record(time.Now(), 1)
	}

	for name, passed := range o.CheckResults {
		cs := sh.checks[name]
		cs.Total++
		if passed {
			cs.Passed++
		}
		sh.checks[name] = cs
	}
}

func bumpCounter(m map[int]int64, key int) {
	if _, ok := m[key]; !ok && len(m) >= topKCounters {
		m[-1]++ // -1 is the reserved "other" bucket for status codes
		return
	}
	m[key]++
}

func bumpStringCounter(m map[string]int64, key string) {
	if _, ok := m[key]; !ok && len(m) >= topKCounters {
		m["other"]++
		return
	}
	m[key]++
}

// publish merges all shard-local state and broadcasts a new Snapshot.
func (a *Aggregator) publish(ph phase.Phase) {
	merged := &shard{
		wallclock:   histogram.New(),
		corrected:   histogram.New(),
		queue:       histogram.New(),
		statusCodes: make(map[int]int64),
		errors:      make(map[string]int64),
		checks:      make(map[string]CheckStat),
		scenarios:   make(map[string]ScenarioStat),
	}
	for _, sh := range a.shards {
		sh.mu.Lock()
		merged.total += sh.total
		merged.success += sh.success
		merged.failure += sh.failure
		merged.bytesIn += sh.bytesIn
		for k, v := range sh.statusCodes {
			merged.statusCodes[k] += v
		}
		for k, v := range sh.errors {
			merged.errors[k] += v
		}
		for k, v := range sh.checks {
			cs := merged.checks[k]
			cs.Passed += v.Passed
			cs.Total += v.Total
			merged.checks[k] = cs
		}
		for k, v := range sh.scenarios {
			ss := merged.scenarios[k]
			ss.Count += v.Count
			ss.ErrorCount += v.ErrorCount
			merged.scenarios[k] = ss
		}
		mergeHistogramInto(merged.wallclock, sh.wallclock)
		mergeHistogramInto(merged.corrected, sh.corrected)
		mergeHistogramInto(merged.queue, sh.queue)
		sh.mu.Unlock()
	}

	now := time.Now()
	rolling, cumulative := 0.0, 0.0
	if a.rps != nil {
		rolling = a.rps.Rolling(now)
		cumulative = a.rps.Cumulative(now)
	}
	a.sparkline[a.sparklineAt%sparklineSamples] = rolling
	a.sparklineAt++
	spark := make([]float64, sparklineSamples)
	copy(spark, a.sparkline)

	snap := &Snapshot{
		TotalRequests:      merged.total,
		SuccessfulRequests: merged.success,
		FailedRequests:     merged.failure,
		BytesReceived:      merged.bytesIn,
		RollingRPS:         rolling,
		CumulativeRPS:      cumulative,
		Latency:            merged.wallclock.Snap().All(),
		CorrectedLatency:   merged.corrected.Snap().All(),
		QueueLatency:       merged.queue.Snap().All(),
		Corrected:          a.cfg.LatencyCorrected,
		StatusCodes:        merged.statusCodes,
		Errors:             merged.errors,
		Checks:             merged.checks,
		Scenarios:          merged.scenarios,
		Sparkline:          spark,
		ActiveVUs:          int(atomic.LoadInt64(&a.activeVUs)),
		MaxVUs:             a.cfg.MaxVUs,
		DroppedIterations:  atomic.LoadInt64(&a.droppedIterations),
		Phase:              ph,
	}
	if a.cfg.LatencyCorrected {
		snap.Latency = snap.CorrectedLatency
	}
	a.b.publish(snap)
}

// mergeHistogramInto folds src's buckets into dst in place. Used only at
// publish time (≤ 10/s), not on the hot classification path.
func mergeHistogramInto(dst, src *histogram.Histogram) {
	snap := src.Snap()
	dst.MergeSnapshot(snap)
}

