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

// Package core defines the immutable input (RunPlan), the per-iteration
// request/outcome shapes, and the chained-variable scope the load engine
// operates over. Nothing in this package performs I/O.
package core

import (
	"net/http"
	"time"
)

// LoadModelKind discriminates the three load models a RunPlan may specify.
type LoadModelKind string

const (
	LoadClosed LoadModelKind = "closed"
	LoadOpen   LoadModelKind = "open"
	LoadStages LoadModelKind = "stages"
)

// Concurrency is the closed-loop load model: a fixed pool of VUs, optionally
// rate-capped, optionally ramped up and/or warmed up.
type Concurrency struct {
	C           int           // number of concurrent VUs
	Duration    time.Duration // total run duration, including ramp/warmup
	MaxRequests int64         // 0 = unbounded
	Rate        float64       // 0 = unbounded; tokens/sec shared across all VUs
	RampUp      time.Duration // linear ramp 0 -> C over this duration
	Warmup      time.Duration // first N seconds excluded from published metrics
	ThinkTime   time.Duration // sleep between a VU's iterations
}

// ArrivalRate is the open-loop load model: requests arrive at a target rate
// independent of service time; a VU pool scales up to vus_active <= MaxVUs.
type ArrivalRate struct {
	RPS      float64
	MaxVUs   int
	Duration time.Duration
	Warmup   time.Duration
}

// Stage is one leg of a piecewise-linear Stages load model. Exactly one of
// Target (VU count) or TargetRate (RPS) must be set, consistently across all
// stages in a plan (spec.md §4.3: mixing is rejected at load time).
type Stage struct {
	Duration   time.Duration
	Target     *int
	TargetRate *float64
}

// Stages is the piecewise-linear load model.
type Stages struct {
	Items  []Stage
	MaxVUs int
}

// TargetConfig bundles the target endpoint configuration shared by every
// scenario unless overridden.
type TargetConfig struct {
	BaseURL         string
	Method          string
	Headers         map[string]string
	Body            []byte
	InsecureTLS     bool
	ClientCertFile  string
	ClientKeyFile   string
	FollowRedirects bool
	ProxyURL        string
	KeepAlive       bool
	ConnectTimeout  time.Duration
	Timeout         time.Duration
	AuthHeader      string
}

// ExtractSpec is a single named extraction performed against a response.
// Source is one of "json:<path>", "regex:<pattern>[:<group>]", "header:<name>"
// or "body" (spec.md §4.4).
type ExtractSpec struct {
	Var    string
	Source string
}

// Scenario is a named, weighted request template.
type Scenario struct {
	Name       string
	Weight     float64
	Method     string
	Path       string // appended to TargetConfig.BaseURL
	Headers    map[string]string
	Body       []byte
	Extract    map[string]ExtractSpec
	DependsOn  []string
	Tags       []string
	bodyNeeded bool // computed at load time: true if any check/extract reads the body
}

// BodyCapture reports whether executing this scenario must retain the
// response body (some checks/extractions need it; most don't).
func (s *Scenario) BodyCapture() bool { return s.bodyNeeded }

// SetBodyCapture is called once at plan-load time after checks/extractions
// for this scenario have been inspected.
func (s *Scenario) SetBodyCapture(v bool) { s.bodyNeeded = v }

// Check is a named boolean predicate evaluated against every outcome of the
// scenario it targets (empty ScenarioName means "all scenarios").
type Check struct {
	Name         string
	ScenarioName string
	Expr         string
}

// ThresholdOp is a relational operator usable in a threshold constraint.
type ThresholdOp string

const (
	OpLT ThresholdOp = "<"
	OpLE ThresholdOp = "<="
	OpGT ThresholdOp = ">"
	OpGE ThresholdOp = ">="
	OpEQ ThresholdOp = "=="
)

// Threshold is a single metric -> relational-constraint mapping.
type Threshold struct {
	Metric string
	Op     ThresholdOp
	Bound  float64
}

// RunPlan is the immutable input to the engine. It is frozen at engine
// construction: nothing in internal/engine mutates a RunPlan after
// executor.NewClosed or executor.NewOpen returns.
type RunPlan struct {
	Target             TargetConfig
	Load               LoadModelKind
	Concurrency        Concurrency
	ArrivalRate        ArrivalRate
	Stages             Stages
	Scenarios          []Scenario
	Checks             []Check
	Thresholds         map[string]Threshold
	CookieJar          bool // each VU gets its own net/http/cookiejar (never shared across VUs)
	LatencyCorrection  bool // default: true iff Load == LoadOpen
	CountNon2xxAsError bool // open question #1, see SPEC_FULL.md §12; default true
	FailOnCheck        bool // non-2xx/3xx is orthogonal to checks; a failed check can also mark failure
	FailFast           bool
	Seed               int64

	latencyCorrectionExplicit bool
}

// Request is materialized per iteration from a Scenario after interpolation.
type Request struct {
	ScenarioIndex int
	Method        string
	URL           string
	Headers       map[string]string
	Body          []byte
	CaptureBody   bool
}

// ErrorKind is a stable identifier for the engine's error taxonomy
// (spec.md §4.1).
type ErrorKind string

const (
	ErrTimeout  ErrorKind = "timeout"
	ErrConnect  ErrorKind = "connect"
	ErrReset    ErrorKind = "reset"
	ErrDNS      ErrorKind = "dns"
	ErrTLS      ErrorKind = "tls"
	ErrProtocol ErrorKind = "protocol"
	ErrCanceled ErrorKind = "canceled"
	ErrOther    ErrorKind = "other"
)

// ResultTag discriminates the union type Outcome.Result holds.
type ResultTag int

const (
	ResultHTTPResponse ResultTag = iota
	ResultNetworkError
	ResultTimeout
	ResultCanceled
)

// OutcomeResult is a tagged union: exactly one of the per-tag fields is
// meaningful, selected by Tag.
type OutcomeResult struct {
	Tag          ResultTag
	Status       int
	Headers      http.Header
	BytesIn      int64
	BodyCaptured bool
	Body         []byte // only populated when BodyCaptured; used for checks/extraction
	ErrKind      ErrorKind
}

// Outcome is the unit a worker emits to the aggregator.
type Outcome struct {
	ScenarioIndex int
	ScheduledAt   time.Time // open-loop arrival instant; equal to StartedAt in closed-loop
	StartedAt     time.Time
	FinishedAt    time.Time
	Result        OutcomeResult
	CheckResults  map[string]bool // check name -> pass
	Extracted     map[string]string
	WarmupExcl    bool // true if ScheduledAt (open) / StartedAt (closed) < warmup_end
}

// Success reports whether this outcome counts as a success under the plan's
// classification rules (spec.md §4.1). It does not itself look at checks;
// callers combine this with FailOnCheck + CheckResults.
func (o *Outcome) Success(countNon2xx bool) bool {
	switch o.Result.Tag {
	case ResultHTTPResponse:
		if o.Result.Status >= 200 && o.Result.Status < 400 {
			return true
		}
		return !countNon2xx
	default:
		return false
	}
}
