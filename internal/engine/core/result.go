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

package core

// SchemaVersion is the current RunResult schema version (spec.md §6).
const SchemaVersion = 1

// LatencyStats is the percentile bundle shape used by every *_us field of a
// RunResult (spec.md §6).
type LatencyStats struct {
	P50  int64   `json:"p50"`
	P75  int64   `json:"p75"`
	P90  int64   `json:"p90"`
	P95  int64   `json:"p95"`
	P99  int64   `json:"p99"`
	P999 int64   `json:"p999"`
	Mean float64 `json:"mean"`
	Max  int64   `json:"max"`
}

// ScenarioResult is one scenario's per-run tally.
type ScenarioResult struct {
	Name       string   `json:"name"`
	Weight     float64  `json:"weight"`
	Tags       []string `json:"tags"`
	Count      int64    `json:"count"`
	ErrorCount int64    `json:"error_count"`
}

// CheckResultStat is one check's pass/total tally in the serialized result.
type CheckResultStat struct {
	Passed   int64   `json:"passed"`
	Total    int64   `json:"total"`
	PassRate float64 `json:"pass_rate"`
}

// ChecksResult bundles all checks' outcomes.
type ChecksResult struct {
	OverallPassRate float64                    `json:"overall_pass_rate"`
	Results         map[string]CheckResultStat `json:"results"`
}

// ThresholdResultItem is one threshold's final verdict.
type ThresholdResultItem struct {
	Metric string      `json:"metric"`
	Op     ThresholdOp `json:"op"`
	Bound  float64     `json:"bound"`
	Actual float64     `json:"actual"`
	Passed bool        `json:"passed"`
}

// ThresholdsResult bundles the overall threshold verdict.
type ThresholdsResult struct {
	Passed  bool                  `json:"passed"`
	Results []ThresholdResultItem `json:"results"`
}

// RunResult is the terminal, serializable output of one run (spec.md §6).
// JSON is the normative encoding; CSV/MD/HTML are lossy views produced
// downstream by the (out-of-scope) output serializers.
type RunResult struct {
	SchemaVersion int    `json:"schema_version"`
	ToolVersion   string `json:"tool_version"`
	LoadModel     string `json:"load_model"` // "closed"|"open"
	TargetURL     string `json:"target_url"`
	Method        string `json:"method"`

	Concurrency  int     `json:"concurrency,omitempty"`
	ArrivalRate  float64 `json:"arrival_rate,omitempty"`
	MaxVUs       int     `json:"max_vus"`
	DurationSecs float64 `json:"duration_secs"`
	WarmupSecs   float64 `json:"warmup_secs"`
	RampUpSecs   float64 `json:"ramp_up_secs"`

	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	BytesReceived      int64   `json:"bytes_received"`
	RPS                float64 `json:"rps"`
	ErrorRate          float64 `json:"error_rate"`

	LatencyUs          LatencyStats  `json:"latency_us"`
	CorrectedLatencyUs *LatencyStats `json:"corrected_latency_us,omitempty"`
	QueueTimeUs        *LatencyStats `json:"queue_time_us,omitempty"`

	StatusCodes map[string]int64 `json:"status_codes"`
	Errors      map[string]int64 `json:"errors"`

	DroppedIterations int64            `json:"dropped_iterations"`
	Scenarios         []ScenarioResult `json:"scenarios"`
	Checks            ChecksResult     `json:"checks"`
	Thresholds        ThresholdsResult `json:"thresholds"`

	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}
