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

// Package threshold evaluates a RunPlan's threshold set against a live or
// final Snapshot (spec.md §4.7) and compares two finished runs for
// regressions (spec.md §4.8). The named-metric lookup mirrors the naming
// convention of the teacher's typed threshold registry in
// cmd/ratelimiter-api/main.go (core.SetThresholdInt64 / SetThresholdFloat64
// / SetThresholdDuration) — here repurposed from config echoing into a
// read-only metric-name -> value table consulted at evaluation time.
package threshold

import (
	"fmt"
	"strings"

	"kaioken/internal/engine/aggregator"
	"kaioken/internal/engine/core"
)

// Result is one threshold's outcome.
type Result struct {
	Metric string
	Op     core.ThresholdOp
	Bound  float64
	Actual float64
	Passed bool
}

// Verdict is the full evaluation of a plan's threshold set.
type Verdict struct {
	Passed  bool
	Results []Result
}

// Evaluator evaluates a fixed threshold set against snapshots.
type Evaluator struct {
	thresholds map[string]core.Threshold
}

// New builds an Evaluator for a plan's thresholds.
func New(thresholds map[string]core.Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate resolves every configured threshold's metric against snap and
// returns the combined verdict. Names are evaluated in a stable order for
// deterministic output.
func (e *Evaluator) Evaluate(snap *aggregator.Snapshot) Verdict {
	names := make([]string, 0, len(e.thresholds))
	for n := range e.thresholds {
		names = append(names, n)
	}
	sortStrings(names)

	v := Verdict{Passed: true}
	for _, name := range names {
		th := e.thresholds[name]
		actual, ok := resolveMetric(snap, th.Metric)
		if !ok {
			continue
		}
		passed := compare(th.Op, actual, th.Bound)
		v.Results = append(v.Results, Result{
			Metric: th.Metric,
			Op:     th.Op,
			Bound:  th.Bound,
			Actual: actual,
			Passed: passed,
		})
		if !passed {
			v.Passed = false
		}
	}
	return v
}

func compare(op core.ThresholdOp, actual, bound float64) bool {
	switch op {
	case core.OpLT:
		return actual < bound
	case core.OpLE:
		return actual <= bound
	case core.OpGT:
		return actual > bound
	case core.OpGE:
		return actual >= bound
	case core.OpEQ:
		return actual == bound
	default:
		return false
	}
}

// resolveMetric maps a metric name to its current value from a Snapshot.
// Unknown names resolve with ok=false and are skipped (plan-load validation
// should already have rejected genuinely unknown metric names).
func resolveMetric(snap *aggregator.Snapshot, metric string) (float64, bool) {
	p := snap.Latency
	switch strings.ToLower(metric) {
	case "p50_latency_ms":
		return float64(p.P50) / 1000, true
	case "p75_latency_ms":
		return float64(p.P75) / 1000, true
	case "p90_latency_ms":
		return float64(p.P90) / 1000, true
	case "p95_latency_ms":
		return float64(p.P95) / 1000, true
	case "p99_latency_ms":
		return float64(p.P99) / 1000, true
	case "p999_latency_ms":
		return float64(p.P999) / 1000, true
	case "mean_latency_ms":
		return p.Mean / 1000, true
	case "max_latency_ms":
		return float64(p.Max) / 1000, true
	case "error_rate":
		return errorRate(snap), true
	case "rps":
		return snap.RollingRPS, true
	case "check_pass_rate":
		return snap.OverallCheckPassRate(), true
	default:
		return 0, false
	}
}

func errorRate(snap *aggregator.Snapshot) float64 {
	if snap.TotalRequests == 0 {
		return 0
	}
	return float64(snap.FailedRequests) / float64(snap.TotalRequests)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ValidateMetricName reports whether metric is a name resolveMetric knows
// about, used at plan-load time to reject unknown threshold metrics early.
func ValidateMetricName(metric string) error {
	switch strings.ToLower(metric) {
	case "p50_latency_ms", "p75_latency_ms", "p90_latency_ms", "p95_latency_ms",
		"p99_latency_ms", "p999_latency_ms", "mean_latency_ms", "max_latency_ms",
		"error_rate", "rps", "check_pass_rate":
		return nil
	default:
		return fmt.Errorf("unknown threshold metric %q", metric)
	}
}
