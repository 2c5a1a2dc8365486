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

package threshold

import (
	"testing"

	"kaioken/internal/engine/aggregator"
	"kaioken/internal/engine/core"
	"kaioken/pkg/histogram"
)

func snapWithP95(ms int64) *aggregator.Snapshot {
	return &aggregator.Snapshot{
		Latency: histogram.Percentiles{P95: ms * 1000},
	}
}

func TestThresholdBoundaryVerdicts(t *testing.T) {
	cases := []struct {
		op     core.ThresholdOp
		want   bool
	}{
		{core.OpLT, false},
		{core.OpLE, true},
		{core.OpGT, false},
		{core.OpGE, true},
		{core.OpEQ, true},
	}
	for _, c := range cases {
		ev := New(map[string]core.Threshold{
			"t": {Metric: "p95_latency_ms", Op: c.op, Bound: 50},
		})
		v := ev.Evaluate(snapWithP95(50))
		if len(v.Results) != 1 {
			t.Fatalf("op %s: expected 1 result, got %d", c.op, len(v.Results))
		}
		if v.Results[0].Passed != c.want {
			t.Fatalf("op %s at boundary 50==50: passed = %v, want %v", c.op, v.Results[0].Passed, c.want)
		}
	}
}

func TestThresholdFailsAgainstSlowMock(t *testing.T) {
	ev := New(map[string]core.Threshold{
		"p95": {Metric: "p95_latency_ms", Op: core.OpLT, Bound: 50},
	})
	v := ev.Evaluate(snapWithP95(100))
	if v.Passed {
		t.Fatalf("expected overall verdict to fail when p95=100ms > bound 50ms")
	}
}

func TestRegressionCompareFailsOnLatencyRegression(t *testing.T) {
	baseline := &core.RunResult{
		LoadModel:   "closed",
		LatencyUs:   core.LatencyStats{P99: 100_000},
		RPS:         500,
	}
	current := &core.RunResult{
		LoadModel:   "closed",
		LatencyUs:   core.LatencyStats{P99: 120_000},
		RPS:         500,
	}
	report, err := Compare(baseline, current, CompareOptions{ThresholdPct: 10})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !report.Failed {
		t.Fatalf("expected regression failure: p99 grew 20%% against a 10%% threshold")
	}
	var p99 RegressionResult
	for _, r := range report.Results {
		if r.Metric == MetricP99 {
			p99 = r
		}
	}
	if diff := p99.DeltaPct - 20; diff > 0.01 || diff < -0.01 {
		t.Fatalf("p99 delta = %v%%, want 20%%", p99.DeltaPct)
	}
}

func TestRegressionCompareLoadModelMismatchRequiresForce(t *testing.T) {
	baseline := &core.RunResult{LoadModel: "closed"}
	current := &core.RunResult{LoadModel: "open"}
	if _, err := Compare(baseline, current, CompareOptions{ThresholdPct: 10}); err == nil {
		t.Fatalf("expected error without --force on load-model mismatch")
	}
	report, err := Compare(baseline, current, CompareOptions{ThresholdPct: 10, Force: true})
	if err != nil {
		t.Fatalf("Compare with Force: %v", err)
	}
	if !report.LoadModelMismatch {
		t.Fatalf("expected LoadModelMismatch=true to still be reported with Force")
	}
}

func TestRegressionComparePassesWithinThreshold(t *testing.T) {
	baseline := &core.RunResult{LoadModel: "closed", LatencyUs: core.LatencyStats{P99: 100_000}, RPS: 500}
	current := &core.RunResult{LoadModel: "closed", LatencyUs: core.LatencyStats{P99: 105_000}, RPS: 495}
	report, err := Compare(baseline, current, CompareOptions{ThresholdPct: 10})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if report.Failed {
		t.Fatalf("expected pass: p99 +5%% and rps -1%% are both within a 10%% threshold")
	}
}
