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

// Package run is the engine's single orchestration point (spec.md §4.1
// "Lifecycle"): it wires a finalized RunPlan into a scenario selector, a
// phase controller, an executor, and the aggregator, runs them to
// completion, and assembles the terminal core.RunResult. Grounded on
// cmd/ratelimiter-api/main.go's "wire Store + Worker + Persister together,
// then run until shutdown" orchestration shape, generalized from a
// long-lived HTTP service to a single bounded run.
package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"kaioken/internal/engine/aggregator"
	"kaioken/internal/engine/core"
	"kaioken/internal/engine/executor"
	"kaioken/internal/engine/phase"
	"kaioken/internal/engine/scenario"
	"kaioken/internal/engine/telemetry"
	"kaioken/internal/engine/threshold"
	"kaioken/pkg/histogram"
)

// ToolVersion stamps every RunResult (spec.md §6). It can be set at build
// time with -ldflags "-X kaioken/internal/engine/run.ToolVersion=..."; it is
// a separate variable from cmd/kaioken's own toolVersion.
var ToolVersion = "dev"

// ErrAggregatorStalled is the engine-internal error of spec.md §7(c): the
// outcome queue went unserved for more than the stall threshold.
var ErrAggregatorStalled = errors.New("run: aggregator stalled for more than the stall threshold")

// Execute drives plan to completion against exec and returns the finished
// RunResult. plan must already have been through core.Finalize. Execute
// returns once the run ends, by whichever cause fires first: its own
// duration/max_requests, ctx cancellation, a fail_fast threshold breach, or
// an aggregator stall — all of which are folded into one broadcast
// cancellation signal per spec.md §5.
func Execute(ctx context.Context, plan *core.RunPlan, exec core.RequestExecutor) (*core.RunResult, error) {
	start := time.Now()

	sel := scenario.New(plan.Scenarios)
	names := make([]string, len(plan.Scenarios))
	for i, s := range plan.Scenarios {
		names[i] = s.Name
	}

	agg := aggregator.New(aggregator.Config{
		CountNon2xxAsError: plan.CountNon2xxAsError,
		FailOnCheck:        plan.FailOnCheck,
		LatencyCorrected:   plan.LatencyCorrection,
		MaxVUs:             maxVUs(plan),
	}, names)

	ctl := newController(start, plan)
	warmupEnd := start.Add(ctl.WarmupEnd())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if isOpenLoop(plan) {
		// OpenExecutor has no internal deadline of its own (unlike
		// ClosedExecutor, which derives one from Concurrency.Duration); the
		// orchestration layer must impose it.
		runCtx, cancelRun = context.WithDeadline(runCtx, start.Add(ctl.TotalDuration()))
		defer cancelRun()
	}

	aggCtx, cancelAgg := context.WithCancel(context.Background())
	var aggWG sync.WaitGroup
	aggWG.Add(1)
	go func() {
		defer aggWG.Done()
		agg.Run(aggCtx, ctl.CurrentPhase)
	}()

	go observeTelemetry(agg.Subscribe(aggCtx))

	var watcherWG sync.WaitGroup
	watcherWG.Add(1)
	go func() {
		defer watcherWG.Done()
		watchEngineHealth(agg, agg.Subscribe(aggCtx), plan, cancelRun)
	}()

	if err := runExecutor(runCtx, plan, sel, exec, agg, ctl, warmupEnd); err != nil {
		cancelAgg()
		aggWG.Wait()
		watcherWG.Wait()
		return nil, err
	}

	cancelAgg()
	aggWG.Wait()
	watcherWG.Wait()

	if agg.Stalled() {
		return nil, ErrAggregatorStalled
	}

	finalSnap, _ := agg.Subscribe(context.Background()).Next()
	verdict := threshold.New(plan.Thresholds).Evaluate(finalSnap)

	return buildResult(plan, start, time.Now(), finalSnap, verdict), nil
}

// runExecutor builds and runs the executor plan.Load calls for, blocking
// until ctx is done or the executor's own stop condition fires.
func runExecutor(ctx context.Context, plan *core.RunPlan, sel *scenario.Selector, exec core.RequestExecutor, agg *aggregator.Aggregator, ctl *phase.Controller, warmupEnd time.Time) error {
	switch plan.Load {
	case core.LoadOpen:
		oe, err := executor.NewOpen(plan, sel, exec, agg, ctl, plan.ArrivalRate.MaxVUs, warmupEnd)
		if err != nil {
			return err
		}
		oe.Run(ctx)
	case core.LoadStages:
		if plan.Stages.Items[0].Target == nil {
			oe, err := executor.NewOpen(plan, sel, exec, agg, ctl, plan.Stages.MaxVUs, warmupEnd)
			if err != nil {
				return err
			}
			oe.Run(ctx)
		} else {
			// ClosedExecutor only ever reads plan.Concurrency.{C,Duration,
			// MaxRequests,Rate,ThinkTime} and the separately-supplied
			// Controller for ramp gating, so a worker-target Stages plan is
			// run through it by synthesizing the Concurrency fields it
			// needs; the stage shape itself lives entirely in ctl.
			closedPlan := *plan
			closedPlan.Concurrency = core.Concurrency{
				C:        stagesMaxWorkerTarget(plan.Stages),
				Duration: ctl.TotalDuration(),
			}
			ce, err := executor.NewClosed(&closedPlan, sel, exec, agg, ctl, warmupEnd)
			if err != nil {
				return err
			}
			ce.Run(ctx)
		}
	default: // core.LoadClosed
		ce, err := executor.NewClosed(plan, sel, exec, agg, ctl, warmupEnd)
		if err != nil {
			return err
		}
		ce.Run(ctx)
	}
	return nil
}

// newController builds the phase.Controller matching plan's load model.
func newController(start time.Time, plan *core.RunPlan) *phase.Controller {
	switch plan.Load {
	case core.LoadOpen:
		return phase.NewArrivalRate(start, plan.ArrivalRate)
	case core.LoadStages:
		return phase.NewStages(start, plan.Stages, plan.Stages.Items[0].Target == nil)
	default:
		return phase.NewConcurrency(start, plan.Concurrency)
	}
}

func isOpenLoop(plan *core.RunPlan) bool {
	switch plan.Load {
	case core.LoadOpen:
		return true
	case core.LoadStages:
		return plan.Stages.Items[0].Target == nil
	default:
		return false
	}
}

func maxVUs(plan *core.RunPlan) int {
	switch plan.Load {
	case core.LoadOpen:
		return plan.ArrivalRate.MaxVUs
	case core.LoadStages:
		if plan.Stages.Items[0].Target == nil {
			return plan.Stages.MaxVUs
		}
		return stagesMaxWorkerTarget(plan.Stages)
	default:
		return plan.Concurrency.C
	}
}

func stagesMaxWorkerTarget(st core.Stages) int {
	max := 0
	for _, s := range st.Items {
		if s.Target != nil && *s.Target > max {
			max = *s.Target
		}
	}
	return max
}

func warmupSecs(plan *core.RunPlan) float64 {
	switch plan.Load {
	case core.LoadOpen:
		return plan.ArrivalRate.Warmup.Seconds()
	case core.LoadStages:
		return 0 // stages plans have no separate warmup knob (spec.md §4.3)
	default:
		return plan.Concurrency.Warmup.Seconds()
	}
}

// watchEngineHealth folds the two cancellation sources the aggregator alone
// can observe — a fail_fast threshold breach and a stall — into cancelRun,
// the same way spec.md §5 folds every cancellation source into one signal.
// It never evaluates thresholds itself unless fail_fast is set; stall
// detection always runs.
func watchEngineHealth(agg *aggregator.Aggregator, sub *aggregator.Subscriber, plan *core.RunPlan, cancelRun context.CancelFunc) {
	var evaluator *threshold.Evaluator
	if plan.FailFast {
		evaluator = threshold.New(plan.Thresholds)
	}
	for {
		snap, ok := sub.Next()
		if snap != nil {
			if agg.Stalled() {
				cancelRun()
				return
			}
			if evaluator != nil {
				if v := evaluator.Evaluate(snap); !v.Passed {
					cancelRun()
					return
				}
			}
		}
		if !ok {
			return
		}
	}
}

func observeTelemetry(sub *aggregator.Subscriber) {
	for {
		snap, ok := sub.Next()
		if snap != nil {
			telemetry.Observe(snap)
			telemetry.ObserveDeltas(snap)
		}
		if !ok {
			return
		}
	}
}

func latencyStats(p histogram.Percentiles) core.LatencyStats {
	return core.LatencyStats{
		P50: p.P50, P75: p.P75, P90: p.P90, P95: p.P95, P99: p.P99, P999: p.P999,
		Mean: p.Mean, Max: p.Max,
	}
}

// buildResult assembles the terminal RunResult from the last published
// Snapshot and the plan that produced it (spec.md §6).
func buildResult(plan *core.RunPlan, start, finish time.Time, snap *aggregator.Snapshot, verdict threshold.Verdict) *core.RunResult {
	scenarios := make([]core.ScenarioResult, len(plan.Scenarios))
	for i, s := range plan.Scenarios {
		ss := snap.Scenarios[s.Name]
		scenarios[i] = core.ScenarioResult{
			Name:       s.Name,
			Weight:     s.Weight,
			Tags:       s.Tags,
			Count:      ss.Count,
			ErrorCount: ss.ErrorCount,
		}
	}

	checks := core.ChecksResult{
		OverallPassRate: snap.OverallCheckPassRate(),
		Results:         make(map[string]core.CheckResultStat, len(snap.Checks)),
	}
	for name, cs := range snap.Checks {
		rate := 1.0
		if cs.Total > 0 {
			rate = float64(cs.Passed) / float64(cs.Total)
		}
		checks.Results[name] = core.CheckResultStat{Passed: cs.Passed, Total: cs.Total, PassRate: rate}
	}

	thresholdItems := make([]core.ThresholdResultItem, len(verdict.Results))
	for i, r := range verdict.Results {
		thresholdItems[i] = core.ThresholdResultItem{
			Metric: r.Metric, Op: r.Op, Bound: r.Bound, Actual: r.Actual, Passed: r.Passed,
		}
	}

	durationSecs := finish.Sub(start).Seconds()
	var rps, errorRate float64
	if durationSecs > 0 {
		rps = float64(snap.TotalRequests) / durationSecs
	}
	if snap.TotalRequests > 0 {
		errorRate = float64(snap.FailedRequests) / float64(snap.TotalRequests)
	}

	loadModel := "closed"
	if isOpenLoop(plan) {
		loadModel = "open"
	}

	result := &core.RunResult{
		SchemaVersion:      core.SchemaVersion,
		ToolVersion:        ToolVersion,
		LoadModel:          loadModel,
		TargetURL:          plan.Target.BaseURL,
		Method:             plan.Target.Method,
		MaxVUs:             maxVUs(plan),
		DurationSecs:       durationSecs,
		WarmupSecs:         warmupSecs(plan),
		RampUpSecs:         plan.Concurrency.RampUp.Seconds(),
		TotalRequests:      snap.TotalRequests,
		SuccessfulRequests: snap.SuccessfulRequests,
		FailedRequests:     snap.FailedRequests,
		BytesReceived:      snap.BytesReceived,
		RPS:                rps,
		ErrorRate:          errorRate,
		LatencyUs:          latencyStats(snap.Latency),
		StatusCodes:        snap.StatusCodeStrings(),
		Errors:             snap.Errors,
		DroppedIterations:  snap.DroppedIterations,
		Scenarios:          scenarios,
		Checks:             checks,
		Thresholds:         core.ThresholdsResult{Passed: verdict.Passed, Results: thresholdItems},
		StartedAt:          start.UTC().Format(time.RFC3339),
		FinishedAt:         finish.UTC().Format(time.RFC3339),
	}
	if plan.Load == core.LoadClosed {
		result.Concurrency = plan.Concurrency.C
	}
	if plan.Load == core.LoadOpen {
		result.ArrivalRate = plan.ArrivalRate.RPS
	}
	if snap.Corrected {
		cl := latencyStats(snap.CorrectedLatency)
		result.CorrectedLatencyUs = &cl
	}
	if isOpenLoop(plan) {
		ql := latencyStats(snap.QueueLatency)
		result.QueueTimeUs = &ql
	}
	return result
}
