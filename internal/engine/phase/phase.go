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

// Package phase drives a run through Warmup/Ramping/Steady/Draining/Done
// and answers "how many VUs (or what target rate) should be active right
// now". It is grounded on the teacher's internal/ratelimiter/core/worker.go
// commit loop: the same high/low-watermark hysteresis that worker.go uses
// to decide "should I commit now" is reused here as the Controller's arm
// flag, which the open-loop executor's idle-VU reaper consults before
// retiring a VU, so the VU pool does not flap.
package phase

import (
	"sync/atomic"
	"time"

	"kaioken/internal/engine/core"
)

// Phase identifies where in the run's lifecycle the controller currently is.
type Phase string

const (
	Warmup   Phase = "Warmup"
	Ramping  Phase = "Ramping"
	Steady   Phase = "Steady"
	Draining Phase = "Draining"
	Done     Phase = "Done"
)

// Controller computes the instantaneous target (worker count or arrival
// rate) for a run and exposes the current Phase. It is safe for concurrent
// use: VUs poll Target()/CurrentPhase() from their own goroutines.
type Controller struct {
	start       time.Time
	warmupSecs  float64
	rampUpSecs  float64
	totalSecs   float64
	maxTarget   float64 // worker count (closed) or rps (open/arrival)
	isRate      bool    // true: Target() returns an RPS; false: a VU count
	stages      []core.Stage
	stageStarts []float64 // cumulative seconds at which each stage begins
	armed       int32     // hysteresis re-arm flag, 1 = armed to ramp further
}

// NewConcurrency builds a controller for a simple Concurrency load model:
// linear ramp 0→c over ramp_up, steady at c until duration, warmup
// overlapping the first warmup seconds.
func NewConcurrency(start time.Time, c core.Concurrency) *Controller {
	return &Controller{
		start:      start,
		warmupSecs: c.Warmup.Seconds(),
		rampUpSecs: c.RampUp.Seconds(),
		totalSecs:  c.Duration.Seconds(),
		maxTarget:  float64(c.C),
		isRate:     false,
		armed:      1,
	}
}

// NewArrivalRate builds a controller for an ArrivalRate load model: ramp
// from 0 to the target RPS over the warmup window (arrival rate plans have
// no separate ramp_up; the teacher's worker.go treats "warmup" as the
// hysteresis re-arm window the same way here), then steady at rps.
func NewArrivalRate(start time.Time, a core.ArrivalRate) *Controller {
	return &Controller{
		start:      start,
		warmupSecs: a.Warmup.Seconds(),
		rampUpSecs: a.Warmup.Seconds(),
		totalSecs:  a.Duration.Seconds(),
		maxTarget:  a.RPS,
		isRate:     true,
		armed:      1,
	}
}

// NewStages builds a controller for a piecewise-linear Stages load model.
func NewStages(start time.Time, st core.Stages, isRate bool) *Controller {
	starts := make([]float64, len(st.Items))
	var cum float64
	for i, s := range st.Items {
		starts[i] = cum
		cum += s.Duration.Seconds()
	}
	return &Controller{
		start:       start,
		totalSecs:   cum,
		stages:      st.Items,
		stageStarts: starts,
		isRate:      isRate,
		armed:       1,
	}
}

// IsRate reports whether Target() yields an RPS (open-loop/arrival) rather
// than a worker count (closed-loop concurrency).
func (ctl *Controller) IsRate() bool { return ctl.isRate }

// WarmupEnd returns the instant warmup ends, relative to ctl.start.
func (ctl *Controller) WarmupEnd() time.Duration {
	return time.Duration(ctl.warmupSecs * float64(time.Second))
}

// CurrentPhase reports the run phase at time t.
func (ctl *Controller) CurrentPhase(t time.Time) Phase {
	elapsed := t.Sub(ctl.start).Seconds()
	if elapsed < 0 {
		return Warmup
	}
	if elapsed >= ctl.totalSecs {
		return Done
	}
	if len(ctl.stages) > 0 {
		if ctl.stageTarget(elapsed) == 0 && elapsed > ctl.totalSecs-ctl.lastStageDuration() {
			return Draining
		}
		return Steady
	}
	if elapsed < ctl.warmupSecs {
		return Warmup
	}
	if elapsed < ctl.rampUpSecs {
		return Ramping
	}
	return Steady
}

func (ctl *Controller) lastStageDuration() float64 {
	if len(ctl.stages) == 0 {
		return 0
	}
	return ctl.stages[len(ctl.stages)-1].Duration.Seconds()
}

// Target returns the instantaneous target at time t: a worker count
// (rounded) for closed-loop plans, or an RPS for open-loop/arrival/rate
// stage plans.
func (ctl *Controller) Target(t time.Time) float64 {
	elapsed := t.Sub(ctl.start).Seconds()
	if elapsed < 0 {
		return 0
	}
	if elapsed >= ctl.totalSecs {
		if len(ctl.stages) > 0 {
			return ctl.stageTarget(ctl.totalSecs)
		}
		return ctl.maxTarget
	}
	if len(ctl.stages) > 0 {
		return ctl.stageTarget(elapsed)
	}
	if ctl.rampUpSecs <= 0 || elapsed >= ctl.rampUpSecs {
		return ctl.maxTarget
	}
	return ctl.maxTarget * (elapsed / ctl.rampUpSecs)
}

// stageTarget computes the piecewise-linear target at elapsed seconds into
// a Stages plan.
func (ctl *Controller) stageTarget(elapsed float64) float64 {
	for i, dur := range ctl.stageStarts {
		stageDur := ctl.stages[i].Duration.Seconds()
		stageEnd := dur + stageDur
		if elapsed > stageEnd && i < len(ctl.stageStarts)-1 {
			continue
		}
		var from float64
		if i == 0 {
			from = 0
		} else {
			from = ctl.stageValue(i - 1)
		}
		to := ctl.stageValue(i)
		if stageDur <= 0 {
			return to
		}
		frac := (elapsed - dur) / stageDur
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		return from + (to-from)*frac
	}
	return ctl.stageValue(len(ctl.stages) - 1)
}

func (ctl *Controller) stageValue(i int) float64 {
	s := ctl.stages[i]
	if ctl.isRate {
		if s.TargetRate != nil {
			return *s.TargetRate
		}
		return 0
	}
	if s.Target != nil {
		return float64(*s.Target)
	}
	return 0
}

// Armed reports whether the controller currently permits another capacity
// reduction, applying the same watermark hysteresis the teacher's commit
// worker uses to avoid flapping near a threshold. OpenExecutor's reaper
// disarms after retiring an idle VU and only rearms once a full tick has
// passed with no retirement, so the pool sheds at most one VU per settling
// window instead of chasing every dip in arrival rate.
func (ctl *Controller) Armed() bool {
	return atomic.LoadInt32(&ctl.armed) == 1
}

// Disarm clears the re-arm flag; Rearm sets it once the caller observes the
// system has settled back under its low watermark.
func (ctl *Controller) Disarm() { atomic.StoreInt32(&ctl.armed, 0) }
func (ctl *Controller) Rearm()  { atomic.StoreInt32(&ctl.armed, 1) }

// TotalDuration returns the full configured run duration.
func (ctl *Controller) TotalDuration() time.Duration {
	return time.Duration(ctl.totalSecs * float64(time.Second))
}
