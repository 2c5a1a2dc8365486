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
	"testing"
	"time"

	"kaioken/internal/engine/aggregator"
	"kaioken/internal/engine/core"
	"kaioken/internal/engine/phase"
	"kaioken/internal/engine/scenario"
	"kaioken/internal/transport/mockexec"
)

func testPlanScenarios() []core.Scenario {
	return []core.Scenario{{Name: "main", Weight: 1, Method: "GET", Path: "/"}}
}

func TestClosedExecutorUnlimitedThroughput(t *testing.T) {
	plan := &core.RunPlan{
		Target:      core.TargetConfig{BaseURL: "mock://fast", Method: "GET"},
		Load:        core.LoadClosed,
		Concurrency: core.Concurrency{C: 10, Duration: time.Second},
		Scenarios:   testPlanScenarios(),
		CountNon2xxAsError: true,
	}
	sel := scenario.New(plan.Scenarios)
	agg := aggregator.New(aggregator.Config{CountNon2xxAsError: true}, []string{"main"})
	start := time.Now()
	ctl := phase.NewConcurrency(start, plan.Concurrency)
	mock := &mockexec.Executor{}

	ce, err := NewClosed(plan, sel, mock, agg, ctl, start)
	if err != nil {
		t.Fatalf("NewClosed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	aggDone := make(chan struct{})
	go func() {
		agg.Run(ctx, func(t time.Time) phase.Phase { return ctl.CurrentPhase(t) })
		close(aggDone)
	}()

	ce.Run(context.Background())
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-aggDone

	sub := agg.Subscribe(context.Background())
	snap, _ := sub.Next()
	if snap.TotalRequests < 5000 {
		t.Fatalf("total = %d, want >= 5000 for 10 VUs over 1s against an instant mock", snap.TotalRequests)
	}
	if snap.FailedRequests != 0 {
		t.Fatalf("failed = %d, want 0", snap.FailedRequests)
	}
}

func TestClosedExecutorRateCapWithinTenPercent(t *testing.T) {
	const rate = 500.0
	plan := &core.RunPlan{
		Target:      core.TargetConfig{BaseURL: "mock://fast", Method: "GET"},
		Load:        core.LoadClosed,
		Concurrency: core.Concurrency{C: 100, Duration: 3 * time.Second, Rate: rate},
		Scenarios:   testPlanScenarios(),
		CountNon2xxAsError: true,
	}
	sel := scenario.New(plan.Scenarios)
	agg := aggregator.New(aggregator.Config{CountNon2xxAsError: true}, []string{"main"})
	start := time.Now()
	ctl := phase.NewConcurrency(start, plan.Concurrency)
	mock := &mockexec.Executor{Latency: time.Millisecond}

	ce, err := NewClosed(plan, sel, mock, agg, ctl, start)
	if err != nil {
		t.Fatalf("NewClosed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	aggDone := make(chan struct{})
	go func() {
		agg.Run(ctx, func(t time.Time) phase.Phase { return ctl.CurrentPhase(t) })
		close(aggDone)
	}()

	runStart := time.Now()
	ce.Run(context.Background())
	elapsed := time.Since(runStart)
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-aggDone

	sub := agg.Subscribe(context.Background())
	snap, _ := sub.Next()
	gotRate := float64(snap.TotalRequests) / elapsed.Seconds()
	if diff := gotRate - rate; diff > rate*0.1 || diff < -rate*0.1 {
		t.Fatalf("effective rate = %v, want ~%v (+-10%%, generous for CI jitter)", gotRate, rate)
	}
}

func TestOpenExecutorNoDropsWithinCapacity(t *testing.T) {
	const rps = 100.0
	plan := &core.RunPlan{
		Target:      core.TargetConfig{BaseURL: "mock://fast", Method: "GET"},
		Load:        core.LoadOpen,
		ArrivalRate: core.ArrivalRate{RPS: rps, MaxVUs: 50, Duration: 2 * time.Second},
		Scenarios:   testPlanScenarios(),
		CountNon2xxAsError: true,
	}
	sel := scenario.New(plan.Scenarios)
	agg := aggregator.New(aggregator.Config{CountNon2xxAsError: true, LatencyCorrected: true}, []string{"main"})
	start := time.Now()
	ctl := phase.NewArrivalRate(start, plan.ArrivalRate)
	mock := &mockexec.Executor{Latency: 50 * time.Millisecond}

	oe, err := NewOpen(plan, sel, mock, agg, ctl, plan.ArrivalRate.MaxVUs, start)
	if err != nil {
		t.Fatalf("NewOpen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), plan.ArrivalRate.Duration)
	defer cancel()
	aggCtx, aggCancel := context.WithCancel(context.Background())
	aggDone := make(chan struct{})
	go func() {
		agg.Run(aggCtx, func(t time.Time) phase.Phase { return ctl.CurrentPhase(t) })
		close(aggDone)
	}()

	oe.Run(ctx)
	time.Sleep(150 * time.Millisecond)
	aggCancel()
	<-aggDone

	if oe.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0 (max_vus=%d comfortably covers rps=%v * service_time=50ms)", oe.Dropped(), plan.ArrivalRate.MaxVUs, rps)
	}
}

func TestOpenExecutorDropsWhenSaturated(t *testing.T) {
	const rps = 100.0
	plan := &core.RunPlan{
		Target:      core.TargetConfig{BaseURL: "mock://slow", Method: "GET"},
		Load:        core.LoadOpen,
		ArrivalRate: core.ArrivalRate{RPS: rps, MaxVUs: 5, Duration: 2 * time.Second},
		Scenarios:   testPlanScenarios(),
		CountNon2xxAsError: true,
	}
	sel := scenario.New(plan.Scenarios)
	agg := aggregator.New(aggregator.Config{CountNon2xxAsError: true, LatencyCorrected: true}, []string{"main"})
	start := time.Now()
	ctl := phase.NewArrivalRate(start, plan.ArrivalRate)
	mock := &mockexec.Executor{Latency: 200 * time.Millisecond} // sustainable rate ~= 5/0.2 = 25

	oe, err := NewOpen(plan, sel, mock, agg, ctl, plan.ArrivalRate.MaxVUs, start)
	if err != nil {
		t.Fatalf("NewOpen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), plan.ArrivalRate.Duration)
	defer cancel()
	aggCtx, aggCancel := context.WithCancel(context.Background())
	aggDone := make(chan struct{})
	go func() {
		agg.Run(aggCtx, func(t time.Time) phase.Phase { return ctl.CurrentPhase(t) })
		close(aggDone)
	}()

	oe.Run(ctx)
	time.Sleep(150 * time.Millisecond)
	aggCancel()
	<-aggDone

	if oe.Dropped() == 0 {
		t.Fatalf("dropped = 0, want > 0: arrival rate %v exceeds sustainable throughput with max_vus=%d at 200ms service time", rps, plan.ArrivalRate.MaxVUs)
	}
}
