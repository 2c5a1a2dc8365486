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

import (
	"fmt"
	"os"
)

// Finalize validates a freshly constructed RunPlan and performs the one-time,
// plan-load-time work: uppercase environment interpolation, check/threshold
// grammar validation, and body-capture-flag computation. It must be called
// exactly once, before the plan is handed to an executor; a RunPlan is
// immutable from that point on (spec.md §3 "Lifecycle").
func Finalize(p *RunPlan) error {
	if err := validateLoadModel(p); err != nil {
		return err
	}
	if len(p.Scenarios) == 0 {
		return fmt.Errorf("plan: scenarios must be non-empty")
	}

	names := map[string]int{}
	for i := range p.Scenarios {
		s := &p.Scenarios[i]
		if s.Weight < 0 {
			return fmt.Errorf("plan: scenario %q: weight must be >= 0", s.Name)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("plan: duplicate scenario name %q", s.Name)
		}
		names[s.Name] = i
		s.Path = InterpolateEnv(s.Path)
		for k, v := range s.Headers {
			s.Headers[k] = InterpolateEnv(v)
		}
	}
	for _, s := range p.Scenarios {
		for _, dep := range s.DependsOn {
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("plan: scenario %q depends_on unknown scenario %q", s.Name, dep)
			}
		}
	}

	checksByScenario := map[string][]*Check{}
	for i := range p.Checks {
		c := &p.Checks[i]
		if _, err := ParseCheck(c.Expr); err != nil {
			return fmt.Errorf("plan: invalid check %q: %w", c.Name, err)
		}
		checksByScenario[c.ScenarioName] = append(checksByScenario[c.ScenarioName], c)
	}

	for i := range p.Scenarios {
		s := &p.Scenarios[i]
		needsBody := len(checksByScenario[s.Name]) > 0 || len(checksByScenario[""]) > 0
		for _, ex := range s.Extract {
			if ex.Source == "body" || len(ex.Source) >= 5 && ex.Source[:5] == "json:" || len(ex.Source) >= 6 && ex.Source[:6] == "regex:" {
				needsBody = true
			}
		}
		s.SetBodyCapture(needsBody)
	}

	for name, th := range p.Thresholds {
		if !validOp(th.Op) {
			return fmt.Errorf("plan: threshold %q: invalid operator %q", name, th.Op)
		}
	}

	if p.Seed == 0 {
		if v := os.Getenv("KAIOKEN_SEED"); v != "" {
			var seed int64
			if _, err := fmt.Sscanf(v, "%d", &seed); err == nil {
				p.Seed = seed
			}
		}
	}

	return nil
}

func validOp(op ThresholdOp) bool {
	switch op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ:
		return true
	default:
		return false
	}
}

func validateLoadModel(p *RunPlan) error {
	switch p.Load {
	case LoadClosed:
		if p.Concurrency.C <= 0 {
			return fmt.Errorf("plan: concurrency.c must be > 0")
		}
	case LoadOpen:
		if p.ArrivalRate.RPS <= 0 {
			return fmt.Errorf("plan: arrival_rate.rps must be > 0")
		}
		if p.ArrivalRate.MaxVUs <= 0 {
			return fmt.Errorf("plan: arrival_rate.max_vus must be > 0")
		}
		if !p.LatencyCorrectionSet() {
			p.LatencyCorrection = true
		}
	case LoadStages:
		if len(p.Stages.Items) == 0 {
			return fmt.Errorf("plan: stages must be non-empty")
		}
		isWorker := p.Stages.Items[0].Target != nil
		for _, st := range p.Stages.Items {
			if (st.Target != nil) != isWorker {
				return fmt.Errorf("plan: stages: cannot mix worker-targets and rate-targets in one plan")
			}
		}
		if !isWorker && p.Stages.MaxVUs <= 0 {
			return fmt.Errorf("plan: stages.max_vus must be > 0 for rate-target stages")
		}
	default:
		return fmt.Errorf("plan: unknown load model %q", p.Load)
	}
	return nil
}

// LatencyCorrectionSet reports whether LatencyCorrection was chosen through
// SetLatencyCorrectionExplicit (e.g. by --no-latency-correction); Finalize
// then keeps that value instead of applying the open-loop default.
func (p *RunPlan) LatencyCorrectionSet() bool { return p.latencyCorrectionExplicit }

// SetLatencyCorrectionExplicit records that the caller explicitly chose a
// LatencyCorrection value, so Finalize's open-loop default doesn't clobber it.
func (p *RunPlan) SetLatencyCorrectionExplicit(v bool) {
	p.LatencyCorrection = v
	p.latencyCorrectionExplicit = true
}
