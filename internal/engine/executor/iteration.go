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

// Package executor implements the two load-model drivers (spec.md §4.5,
// §4.6) on top of a shared per-scenario iteration runner.
package executor

import (
	"context"
	"log"
	"time"

	"kaioken/internal/engine/core"
	"kaioken/internal/engine/scenario"
)

// iterationRunner resolves one drawn scenario's dependency chain and
// executes every step in order, emitting one Outcome per step.
type iterationRunner struct {
	sel        *scenario.Selector
	exec       core.RequestExecutor
	target     core.TargetConfig
	checksByScenario map[string][]*core.CheckEvaluator
	checkNames       map[string][]string
	warmupEnd  time.Time
}

func newIterationRunner(sel *scenario.Selector, exec core.RequestExecutor, target core.TargetConfig, checks []core.Check, warmupEnd time.Time) (*iterationRunner, error) {
	r := &iterationRunner{
		sel:              sel,
		exec:             exec,
		target:           target,
		checksByScenario: make(map[string][]*core.CheckEvaluator),
		checkNames:       make(map[string][]string),
		warmupEnd:        warmupEnd,
	}
	for _, c := range checks {
		ev, err := core.ParseCheck(c.Expr)
		if err != nil {
			return nil, err
		}
		r.checksByScenario[c.ScenarioName] = append(r.checksByScenario[c.ScenarioName], ev)
		r.checkNames[c.ScenarioName] = append(r.checkNames[c.ScenarioName], c.Name)
	}
	return r, nil
}

// baseExecutor returns the executor the runner was built with — the shared
// default a VU uses when the plan has no per-VU cookie jar, and the
// template a VU clones from (via core.JarCloner) when it does.
func (r *iterationRunner) baseExecutor() core.RequestExecutor { return r.exec }

// vuExecutor resolves the executor a single VU should use for the lifetime
// of its loop. When cookieJar is requested and the base executor supports
// cloning, each VU gets its own jar-bearing clone so sessions never bleed
// across VUs; otherwise every VU shares base, matching the executor's
// pre-cookie-jar behavior.
func vuExecutor(base core.RequestExecutor, cookieJar bool) core.RequestExecutor {
	if !cookieJar {
		return base
	}
	jc, ok := base.(core.JarCloner)
	if !ok {
		return base
	}
	cloned, err := jc.WithJar()
	if err != nil {
		log.Printf("kaioken: cookie jar clone failed, VU falling back to the shared executor: %v", err)
		return base
	}
	return cloned
}

// runChain executes the drawn scenario's full dependency chain for one VU
// iteration, emitting each step's Outcome to emit. scheduledAt is the
// open-loop arrival instant (zero in closed-loop, see core.Outcome). exec is
// the calling VU's own executor (its per-VU cookie-jar clone when the plan
// enables one, or the shared default otherwise) — never r.exec directly, so
// a VU's cookies never leak into another VU's requests.
func (r *iterationRunner) runChain(ctx context.Context, drawnIdx int, chain *core.ChainContext, scheduledAt time.Time, timeout time.Duration, exec core.RequestExecutor, emit func(scenarioName string, o core.Outcome)) {
	order := r.sel.Chain(drawnIdx)
	for _, idx := range order {
		scn := r.sel.Scenario(idx)
		o := r.runOneSafely(ctx, idx, scn, chain, scheduledAt, timeout, exec)
		emit(scn.Name, o)
	}
}

// runOneSafely recovers a panic occurring anywhere in runOne's call tree (a
// bad check expression, a transport bug) at the task boundary and converts
// it into a NetworkError outcome instead of taking the VU goroutine down
// with it, the same "recover, log once, fail the task" shape as the
// download-task executor's goroutine wrapper it's grounded on.
func (r *iterationRunner) runOneSafely(ctx context.Context, idx int, scn *core.Scenario, chain *core.ChainContext, scheduledAt time.Time, timeout time.Duration, exec core.RequestExecutor) (o core.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			now := time.Now()
			sa := scheduledAt
			if sa.IsZero() {
				sa = now
			}
			log.Printf("kaioken: recovered panic in scenario %q: %v", scn.Name, rec)
			o = core.Outcome{
				ScenarioIndex: idx,
				ScheduledAt:   sa,
				StartedAt:     now,
				FinishedAt:    now,
				Result:        core.OutcomeResult{Tag: core.ResultNetworkError, ErrKind: core.ErrOther},
				WarmupExcl:    sa.Before(r.warmupEnd),
			}
		}
	}()
	return r.runOne(ctx, idx, scn, chain, scheduledAt, timeout, exec)
}

func (r *iterationRunner) runOne(ctx context.Context, idx int, scn *core.Scenario, chain *core.ChainContext, scheduledAt time.Time, timeout time.Duration, exec core.RequestExecutor) core.Outcome {
	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url := core.BuildURL(r.target.BaseURL, scn.Path, chain)
	headers := mergeHeaders(r.target.Headers, scn.Headers)
	headers = core.InterpolateHeaders(headers, chain)
	body := scn.Body
	if len(body) > 0 {
		body = []byte(core.InterpolateRuntime(string(body), chain))
	}
	method := scn.Method
	if method == "" {
		method = r.target.Method
	}
	if method == "" {
		method = "GET"
	}

	req := core.Request{
		Method:      method,
		URL:         url,
		Headers:     headers,
		Body:        body,
		CaptureBody: scn.BodyCapture(),
	}

	started := time.Now()
	result := exec.Execute(reqCtx, req)
	finished := time.Now()

	if scheduledAt.IsZero() {
		scheduledAt = started
	}

	warmupExcl := scheduledAt.Before(r.warmupEnd)

	o := core.Outcome{
		ScenarioIndex: idx,
		ScheduledAt:   scheduledAt,
		StartedAt:     started,
		FinishedAt:    finished,
		Result:        result,
		WarmupExcl:    warmupExcl,
	}

	if result.Tag == core.ResultHTTPResponse {
		o.CheckResults = r.evalChecks(scn.Name, result)
		o.Extracted = r.extract(scn, result)
		for k, v := range o.Extracted {
			chain.Set(k, v)
		}
	}

	return o
}

func (r *iterationRunner) evalChecks(scenarioName string, result core.OutcomeResult) map[string]bool {
	out := make(map[string]bool)
	apply := func(key string) {
		evs := r.checksByScenario[key]
		names := r.checkNames[key]
		for i, ev := range evs {
			out[names[i]] = ev.Eval(core.CheckInput{Status: result.Status, Body: result.Body})
		}
	}
	apply("") // checks with no ScenarioName apply to all scenarios
	apply(scenarioName)
	return out
}

func (r *iterationRunner) extract(scn *core.Scenario, result core.OutcomeResult) map[string]string {
	if len(scn.Extract) == 0 {
		return nil
	}
	out := make(map[string]string, len(scn.Extract))
	ctx := core.ExtractContext{Status: result.Status, Headers: result.Headers, Body: result.Body}
	for varName, spec := range scn.Extract {
		out[varName] = core.Extract(spec, ctx)
	}
	return out
}

func mergeHeaders(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
