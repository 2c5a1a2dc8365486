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
	"fmt"

	"kaioken/internal/engine/core"
)

// RegressionMetric identifies one of the four metrics a compare run checks.
type RegressionMetric string

const (
	MetricP99       RegressionMetric = "p99_latency"
	MetricP999      RegressionMetric = "p999_latency"
	MetricErrorRate RegressionMetric = "error_rate"
	MetricRPS       RegressionMetric = "rps"
)

// RegressionResult is one metric's baseline/current comparison.
type RegressionResult struct {
	Metric   RegressionMetric `json:"metric"`
	Baseline float64          `json:"baseline"`
	Current  float64          `json:"current"`
	DeltaPct float64          `json:"delta_pct"`
	Failed   bool             `json:"failed"`
}

// RegressionReport is the full two-run comparison (spec.md §4.8).
type RegressionReport struct {
	Results           []RegressionResult `json:"results"`
	Failed            bool               `json:"failed"`
	LoadModelMismatch bool               `json:"load_model_mismatch"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// CompareOptions controls a comparison run.
type CompareOptions struct {
	ThresholdPct float64 // fail a metric if its delta_pct exceeds this
	Force        bool    // allow comparing across load-model kinds
}

// worseIsPositive reports whether, for a given metric, a positive delta_pct
// means the current run is worse than baseline.
func worseIsPositive(m RegressionMetric) bool {
	return m != MetricRPS
}

// Compare evaluates baseline against current per spec.md §4.8.
func Compare(baseline, current *core.RunResult, opts CompareOptions) (RegressionReport, error) {
	var report RegressionReport

	if baseline.LoadModel != current.LoadModel {
		report.LoadModelMismatch = true
		if !opts.Force {
			return report, fmt.Errorf("load model mismatch: baseline=%s current=%s (use --force to compare anyway)", baseline.LoadModel, current.LoadModel)
		}
	}
	if baseline.TargetURL != current.TargetURL {
		report.Warnings = append(report.Warnings, fmt.Sprintf("target URL mismatch: baseline=%s current=%s", baseline.TargetURL, current.TargetURL))
	}
	if baseline.Method != current.Method {
		report.Warnings = append(report.Warnings, fmt.Sprintf("method mismatch: baseline=%s current=%s", baseline.Method, current.Method))
	}
	if baseline.Concurrency != current.Concurrency {
		report.Warnings = append(report.Warnings, fmt.Sprintf("concurrency mismatch: baseline=%d current=%d", baseline.Concurrency, current.Concurrency))
	}

	metrics := []struct {
		name     RegressionMetric
		baseline float64
		current  float64
	}{
		{MetricP99, float64(baseline.LatencyUs.P99), float64(current.LatencyUs.P99)},
		{MetricP999, float64(baseline.LatencyUs.P999), float64(current.LatencyUs.P999)},
		{MetricErrorRate, baseline.ErrorRate, current.ErrorRate},
		{MetricRPS, baseline.RPS, current.RPS},
	}

	for _, m := range metrics {
		delta := deltaPct(m.baseline, m.current)
		failed := false
		if worseIsPositive(m.name) {
			failed = delta > opts.ThresholdPct
		} else {
			failed = -delta > opts.ThresholdPct
		}
		result := RegressionResult{
			Metric:   m.name,
			Baseline: m.baseline,
			Current:  m.current,
			DeltaPct: delta,
			Failed:   failed,
		}
		report.Results = append(report.Results, result)
		if failed {
			report.Failed = true
		}
	}

	return report, nil
}

func deltaPct(baseline, current float64) float64 {
	if baseline == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (current - baseline) / baseline * 100
}
