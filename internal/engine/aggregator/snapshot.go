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

package aggregator

import (
	"strconv"

	"kaioken/internal/engine/phase"
	"kaioken/pkg/histogram"
)

// CheckStat is one check's pass/total tally.
type CheckStat struct {
	Passed int64
	Total  int64
}

// ScenarioStat is one scenario's request/error tally, the source of
// core.RunResult.Scenarios[i].Count / ErrorCount.
type ScenarioStat struct {
	Count      int64
	ErrorCount int64
}

// Snapshot is the periodic read-only view published by the Aggregator
// (spec.md §3, ≥4Hz). It is a value copy: cheap to clone, safe to hand to
// multiple subscribers without further locking.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	BytesReceived      int64

	RollingRPS     float64
	CumulativeRPS  float64

	Latency          histogram.Percentiles
	CorrectedLatency histogram.Percentiles
	QueueLatency     histogram.Percentiles
	Corrected        bool

	StatusCodes map[int]int64
	Errors      map[string]int64

	Checks map[string]CheckStat

	Scenarios map[string]ScenarioStat

	Sparkline []float64

	ActiveVUs         int
	MaxVUs            int
	DroppedIterations int64

	Phase phase.Phase
}

// StatusCodeStrings converts the int-keyed status tally into the
// string-keyed shape core.RunResult serializes. -1 is bumpCounter's
// reserved overflow bucket for the 33rd-and-later distinct status code.
func (s Snapshot) StatusCodeStrings() map[string]int64 {
	out := make(map[string]int64, len(s.StatusCodes))
	for k, v := range s.StatusCodes {
		if k < 0 {
			out["other"] += v
			continue
		}
		out[strconv.Itoa(k)] = v
	}
	return out
}

// OverallCheckPassRate returns Σpasses / Σevaluated across all checks.
func (s Snapshot) OverallCheckPassRate() float64 {
	var passed, total int64
	for _, c := range s.Checks {
		passed += c.Passed
		total += c.Total
	}
	if total == 0 {
		return 1
	}
	return float64(passed) / float64(total)
}
