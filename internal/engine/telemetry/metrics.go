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

// Package telemetry exports run statistics as Prometheus metrics. It is an
// opt-in side channel alongside the Snapshot stream — the engine runs
// identically with it disabled. Directly grounded on the teacher's
// internal/ratelimiter/telemetry/churn package: package-level
// prometheus.NewCounter/NewGauge/NewHistogram values registered once in
// init(), an Enabled bool gate that makes every exported function a no-op
// when off, and a dedicated metrics HTTP server started only if an address
// is configured.
package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kaioken/internal/engine/aggregator"
)

// Config controls whether and how run metrics are exported.
type Config struct {
	Enabled     bool
	MetricsAddr string // e.g. ":9090"; empty disables the standalone server
}

var (
	enabled atomic.Bool

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kaioken_requests_total",
		Help: "Total requests completed, labeled by outcome.",
	}, []string{"outcome"})

	bytesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kaioken_bytes_received_total",
		Help: "Total response bytes received.",
	})

	latencyP99Us = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kaioken_latency_p99_microseconds",
		Help: "Most recent p99 latency observed, in microseconds.",
	})

	rollingRPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kaioken_rolling_rps",
		Help: "Current rolling requests-per-second.",
	})

	activeVUs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kaioken_active_vus",
		Help: "Current number of executing virtual users.",
	})

	droppedIterationsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kaioken_dropped_iterations_total",
		Help: "Cumulative dropped arrivals (open-loop only).",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, bytesReceivedTotal, latencyP99Us, rollingRPS, activeVUs, droppedIterationsTotal)
}

// Enable turns metrics export on or off and, if cfg.MetricsAddr is set,
// starts a dedicated /metrics HTTP server. Safe to call multiple times.
func Enable(ctx context.Context, cfg Config) {
	enabled.Store(cfg.Enabled)
	if !cfg.Enabled || cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		_ = srv.ListenAndServe()
	}()
}

// Observe sets the gauge-typed metrics from one Snapshot. Called from the
// engine's own snapshot subscriber loop, never from the aggregator's hot
// path, so the cost of updating a handful of gauges is immaterial.
func Observe(snap *aggregator.Snapshot) {
	if !enabled.Load() {
		return
	}
	requestsTotal.WithLabelValues("success").Add(0) // ensure the label exists even at zero
	requestsTotal.WithLabelValues("failure").Add(0)
	bytesReceivedTotal.Add(0) // counters only move forward; see ObserveDeltas below
	latencyP99Us.Set(float64(snap.Latency.P99))
	rollingRPS.Set(snap.RollingRPS)
	activeVUs.Set(float64(snap.ActiveVUs))
	droppedIterationsTotal.Set(float64(snap.DroppedIterations))
}

// lastTotals tracks cumulative counters so ObserveDeltas can translate a
// Snapshot's running totals (which only grow) into Prometheus Counter
// deltas without double-counting across ticks.
var lastTotals struct {
	success int64
	failure int64
	bytes   int64
}

// ObserveDeltas is the counter-safe companion to Observe: it advances the
// Counter-typed metrics by the delta since the last observed Snapshot.
// Kept separate from Observe (which only touches Gauges) so a caller that
// only wants point-in-time gauges can skip the extra state.
func ObserveDeltas(snap *aggregator.Snapshot) {
	if !enabled.Load() {
		return
	}
	if d := snap.SuccessfulRequests - lastTotals.success; d > 0 {
		requestsTotal.WithLabelValues("success").Add(float64(d))
		lastTotals.success = snap.SuccessfulRequests
	}
	if d := snap.FailedRequests - lastTotals.failure; d > 0 {
		requestsTotal.WithLabelValues("failure").Add(float64(d))
		lastTotals.failure = snap.FailedRequests
	}
	if d := snap.BytesReceived - lastTotals.bytes; d > 0 {
		bytesReceivedTotal.Add(float64(d))
		lastTotals.bytes = snap.BytesReceived
	}
}
