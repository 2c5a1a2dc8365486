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

package main

import (
	"testing"
	"time"

	"kaioken/internal/engine/core"
)

func TestBuildPlanClosedLoopDefault(t *testing.T) {
	f := &runFlags{
		concurrency: 5,
		duration:    10 * time.Second,
		method:      "GET",
		countNon2xx: true,
	}
	plan, err := buildPlan("http://example.com", f)
	if err != nil {
		t.Fatalf("buildPlan: %v", err)
	}
	if plan.Load != core.LoadClosed {
		t.Fatalf("Load = %v, want closed", plan.Load)
	}
	if plan.Concurrency.C != 5 {
		t.Fatalf("Concurrency.C = %d, want 5", plan.Concurrency.C)
	}
	if len(plan.Scenarios) != 1 || plan.Scenarios[0].Name != "default" {
		t.Fatalf("expected a single default scenario, got %+v", plan.Scenarios)
	}
}

func TestBuildPlanOpenLoopDefaultsMaxVUs(t *testing.T) {
	f := &runFlags{
		arrivalRate: 50,
		duration:    10 * time.Second,
		method:      "GET",
	}
	plan, err := buildPlan("http://example.com", f)
	if err != nil {
		t.Fatalf("buildPlan: %v", err)
	}
	if plan.Load != core.LoadOpen {
		t.Fatalf("Load = %v, want open", plan.Load)
	}
	if plan.ArrivalRate.MaxVUs <= 0 {
		t.Fatalf("expected a positive default MaxVUs, got %d", plan.ArrivalRate.MaxVUs)
	}
}

func TestBuildPlanExplicitMaxVUsNotOverridden(t *testing.T) {
	f := &runFlags{
		arrivalRate: 50,
		maxVUs:      7,
		duration:    10 * time.Second,
		method:      "GET",
	}
	plan, err := buildPlan("http://example.com", f)
	if err != nil {
		t.Fatalf("buildPlan: %v", err)
	}
	if plan.ArrivalRate.MaxVUs != 7 {
		t.Fatalf("MaxVUs = %d, want 7 (explicit)", plan.ArrivalRate.MaxVUs)
	}
}

func TestBuildPlanNoLatencyCorrectionIsExplicit(t *testing.T) {
	f := &runFlags{
		arrivalRate:   50,
		maxVUs:        10,
		duration:      10 * time.Second,
		method:        "GET",
		noLatencyCorr: true,
	}
	plan, err := buildPlan("http://example.com", f)
	if err != nil {
		t.Fatalf("buildPlan: %v", err)
	}
	if plan.LatencyCorrection {
		t.Fatalf("LatencyCorrection = true, want false after --no-latency-correction")
	}
	if err := core.Finalize(plan); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if plan.LatencyCorrection {
		t.Fatalf("Finalize clobbered an explicit --no-latency-correction")
	}
}

func TestParseStagesWorkerTargets(t *testing.T) {
	st, err := parseStages([]string{"30s:10", "1m:50", "30s:0"})
	if err != nil {
		t.Fatalf("parseStages: %v", err)
	}
	if len(st.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(st.Items))
	}
	if st.Items[1].Target == nil || *st.Items[1].Target != 50 {
		t.Fatalf("Items[1].Target = %v, want 50", st.Items[1].Target)
	}
	if st.Items[1].Duration != time.Minute {
		t.Fatalf("Items[1].Duration = %v, want 1m", st.Items[1].Duration)
	}
}

func TestParseStagesRateTargets(t *testing.T) {
	st, err := parseStages([]string{"30s:r100", "1m:r250"})
	if err != nil {
		t.Fatalf("parseStages: %v", err)
	}
	if st.Items[0].Target != nil {
		t.Fatalf("Items[0].Target = %v, want nil (rate target)", st.Items[0].Target)
	}
	if st.Items[1].TargetRate == nil || *st.Items[1].TargetRate != 250 {
		t.Fatalf("Items[1].TargetRate = %v, want 250", st.Items[1].TargetRate)
	}
}

func TestParseStagesRejectsMalformed(t *testing.T) {
	cases := []string{"nodelimiter", "notaduration:10", "30s:notanint"}
	for _, c := range cases {
		if _, err := parseStages([]string{c}); err == nil {
			t.Errorf("parseStages(%q): expected an error, got nil", c)
		}
	}
}

func TestParseThresholds(t *testing.T) {
	thresholds, err := parseThresholds([]string{"p95_latency_ms < 500", "error_rate <= 0.01"})
	if err != nil {
		t.Fatalf("parseThresholds: %v", err)
	}
	th, ok := thresholds["p95_latency_ms"]
	if !ok {
		t.Fatalf("missing p95_latency_ms threshold")
	}
	if th.Op != core.OpLT || th.Bound != 500 {
		t.Fatalf("p95_latency_ms = %+v, want {op: <, bound: 500}", th)
	}
}

func TestParseThresholdsRejectsUnknownMetric(t *testing.T) {
	if _, err := parseThresholds([]string{"bogus_metric < 1"}); err == nil {
		t.Fatal("expected an error for an unknown metric name")
	}
}

func TestParseThresholdsRejectsWrongArity(t *testing.T) {
	if _, err := parseThresholds([]string{"p95_latency_ms<500"}); err == nil {
		t.Fatal("expected an error for a malformed threshold expression")
	}
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Authorization: Bearer xyz", "X-Trace-Id:abc"})
	if err != nil {
		t.Fatalf("parseHeaders: %v", err)
	}
	if headers["Authorization"] != "Bearer xyz" {
		t.Fatalf("Authorization = %q", headers["Authorization"])
	}
	if headers["X-Trace-Id"] != "abc" {
		t.Fatalf("X-Trace-Id = %q", headers["X-Trace-Id"])
	}
}

func TestParseHeadersRejectsMissingColon(t *testing.T) {
	if _, err := parseHeaders([]string{"not-a-header"}); err == nil {
		t.Fatal("expected an error for a header with no colon")
	}
}
