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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kaioken/internal/engine/core"
	"kaioken/internal/engine/threshold"
)

// buildPlan turns the flat flag set into a core.RunPlan. Config loading and
// merging from a plan file is out of scope (spec.md §1); the CLI's own
// minimal flag-to-plan construction lives here, not in the engine.
func buildPlan(target string, f *runFlags) (*core.RunPlan, error) {
	body, err := resolveBody(f)
	if err != nil {
		return nil, err
	}
	headers, err := parseHeaders(f.headers)
	if err != nil {
		return nil, err
	}
	thresholds, err := parseThresholds(f.thresholds)
	if err != nil {
		return nil, err
	}

	plan := &core.RunPlan{
		Target: core.TargetConfig{
			BaseURL:         target,
			Method:          f.method,
			Headers:         headers,
			InsecureTLS:     f.insecure,
			FollowRedirects: !f.noFollowRedir,
			Timeout:         f.timeout,
		},
		Scenarios: []core.Scenario{{
			Name:   "default",
			Weight: 1,
			Method: f.method,
			Body:   body,
		}},
		Thresholds:         thresholds,
		CookieJar:          f.cookieJar,
		CountNon2xxAsError: f.countNon2xx,
		FailOnCheck:        f.failOnCheck,
		FailFast:           f.failFast,
		Seed:               f.seed,
	}

	switch {
	case len(f.stages) > 0:
		stages, err := parseStages(f.stages)
		if err != nil {
			return nil, err
		}
		if stages.Items[0].Target == nil {
			stages.MaxVUs = defaultMaxVUs(f.maxVUs, maxStageRate(stages))
		}
		plan.Load = core.LoadStages
		plan.Stages = stages
	case f.arrivalRate > 0:
		plan.Load = core.LoadOpen
		plan.ArrivalRate = core.ArrivalRate{
			RPS:      f.arrivalRate,
			MaxVUs:   defaultMaxVUs(f.maxVUs, f.arrivalRate),
			Duration: f.duration,
			Warmup:   f.warmup,
		}
	default:
		plan.Load = core.LoadClosed
		plan.Concurrency = core.Concurrency{
			C:           f.concurrency,
			Duration:    f.duration,
			MaxRequests: f.maxRequests,
			Rate:        f.rate,
			RampUp:      f.rampUp,
			Warmup:      f.warmup,
			ThinkTime:   f.thinkTime,
		}
	}

	if f.noLatencyCorr {
		plan.SetLatencyCorrectionExplicit(false)
	}

	return plan, nil
}

// defaultMaxVUs picks a VU pool cap for open-loop / rate-target stages runs
// when --max-vus wasn't given: generous enough that the pool is never the
// bottleneck at the requested rate.
func defaultMaxVUs(explicit int, rate float64) int {
	if explicit > 0 {
		return explicit
	}
	n := int(rate*2) + 10
	return n
}

func maxStageRate(st core.Stages) float64 {
	var peak float64
	for _, s := range st.Items {
		if s.TargetRate != nil && *s.TargetRate > peak {
			peak = *s.TargetRate
		}
	}
	return peak
}

func resolveBody(f *runFlags) ([]byte, error) {
	if f.bodyFile != "" {
		b, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return nil, fmt.Errorf("reading --body-file: %w", err)
		}
		return b, nil
	}
	if f.body != "" {
		return []byte(f.body), nil
	}
	return nil, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --header %q: expected \"Key: Value\"", h)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// parseStages parses repeated --stage "duration:target" flags. target is
// either a plain integer (a worker-count target, e.g. "30s:50") or an
// integer/float prefixed with "r" (a rate target, e.g. "30s:r100");
// core.validateLoadModel rejects mixing the two kinds within one plan.
func parseStages(specs []string) (core.Stages, error) {
	var st core.Stages
	for _, spec := range specs {
		durStr, targetStr, ok := strings.Cut(spec, ":")
		if !ok {
			return st, fmt.Errorf("invalid --stage %q: expected \"duration:target\"", spec)
		}
		dur, err := time.ParseDuration(durStr)
		if err != nil {
			return st, fmt.Errorf("invalid --stage %q: %w", spec, err)
		}
		var stage core.Stage
		stage.Duration = dur
		if rest, isRate := strings.CutPrefix(targetStr, "r"); isRate {
			rate, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				return st, fmt.Errorf("invalid --stage %q: bad rate target: %w", spec, err)
			}
			stage.TargetRate = &rate
		} else {
			n, err := strconv.Atoi(targetStr)
			if err != nil {
				return st, fmt.Errorf("invalid --stage %q: bad worker target: %w", spec, err)
			}
			stage.Target = &n
		}
		st.Items = append(st.Items, stage)
	}
	return st, nil
}

// parseThresholds parses repeated --threshold "metric op bound" flags,
// e.g. "p95_latency_ms < 500". The metric name is validated immediately
// against threshold.ValidateMetricName so a typo fails at CLI parse time
// rather than silently never firing during the run.
func parseThresholds(specs []string) (map[string]core.Threshold, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]core.Threshold, len(specs))
	for _, spec := range specs {
		fields := strings.Fields(spec)
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid --threshold %q: expected \"metric op bound\"", spec)
		}
		metric := fields[0]
		if err := threshold.ValidateMetricName(metric); err != nil {
			return nil, fmt.Errorf("invalid --threshold %q: %w", spec, err)
		}
		op, bound, err := core.ParseThresholdValue(fields[1] + " " + fields[2])
		if err != nil {
			return nil, fmt.Errorf("invalid --threshold %q: %w", spec, err)
		}
		out[metric] = core.Threshold{Metric: metric, Op: op, Bound: bound}
	}
	return out, nil
}

// planDoc is the YAML-friendly projection of a core.RunPlan printed by
// --dry-run: human-readable duration strings instead of raw nanosecond
// counts, and only the fields that matter to a reader deciding whether the
// parsed plan matches their intent.
type planDoc struct {
	Load        string            `yaml:"load"`
	TargetURL   string            `yaml:"target_url"`
	Method      string            `yaml:"method"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Concurrency *concurrencyDoc   `yaml:"concurrency,omitempty"`
	ArrivalRate *arrivalRateDoc   `yaml:"arrival_rate,omitempty"`
	Stages      []stageDoc        `yaml:"stages,omitempty"`
	Thresholds  map[string]string `yaml:"thresholds,omitempty"`
	Seed        int64             `yaml:"seed,omitempty"`
}

type concurrencyDoc struct {
	VUs         int     `yaml:"vus"`
	Duration    string  `yaml:"duration"`
	MaxRequests int64   `yaml:"max_requests,omitempty"`
	Rate        float64 `yaml:"rate,omitempty"`
	RampUp      string  `yaml:"ramp_up,omitempty"`
	Warmup      string  `yaml:"warmup,omitempty"`
	ThinkTime   string  `yaml:"think_time,omitempty"`
}

type arrivalRateDoc struct {
	RPS      float64 `yaml:"rps"`
	MaxVUs   int     `yaml:"max_vus"`
	Duration string  `yaml:"duration"`
	Warmup   string  `yaml:"warmup,omitempty"`
}

type stageDoc struct {
	Duration string `yaml:"duration"`
	Target   string `yaml:"target"`
}

func planToDoc(p *core.RunPlan) *planDoc {
	doc := &planDoc{
		Load:      string(p.Load),
		TargetURL: p.Target.BaseURL,
		Method:    p.Target.Method,
		Headers:   p.Target.Headers,
		Seed:      p.Seed,
	}
	switch p.Load {
	case core.LoadClosed:
		c := p.Concurrency
		doc.Concurrency = &concurrencyDoc{
			VUs: c.C, Duration: c.Duration.String(), MaxRequests: c.MaxRequests,
			Rate: c.Rate, RampUp: c.RampUp.String(), Warmup: c.Warmup.String(), ThinkTime: c.ThinkTime.String(),
		}
	case core.LoadOpen:
		a := p.ArrivalRate
		doc.ArrivalRate = &arrivalRateDoc{RPS: a.RPS, MaxVUs: a.MaxVUs, Duration: a.Duration.String(), Warmup: a.Warmup.String()}
	case core.LoadStages:
		for _, s := range p.Stages.Items {
			sd := stageDoc{Duration: s.Duration.String()}
			if s.Target != nil {
				sd.Target = strconv.Itoa(*s.Target)
			} else {
				sd.Target = fmt.Sprintf("rate=%g", *s.TargetRate)
			}
			doc.Stages = append(doc.Stages, sd)
		}
	}
	if len(p.Thresholds) > 0 {
		doc.Thresholds = make(map[string]string, len(p.Thresholds))
		for name, th := range p.Thresholds {
			doc.Thresholds[name] = fmt.Sprintf("%s %s %g", th.Metric, th.Op, th.Bound)
		}
	}
	return doc
}

func marshalDryRun(doc *planDoc) ([]byte, error) {
	return yaml.Marshal(doc)
}
