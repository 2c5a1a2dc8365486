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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kaioken/internal/engine/core"
	"kaioken/internal/engine/resultstore"
	"kaioken/internal/engine/run"
	"kaioken/internal/engine/telemetry"
	"kaioken/internal/transport/httpexec"
)

// runFlags mirrors the engine-relevant flag subset of spec.md §6, plus the
// handful of CLI-only knobs (output path, results archive) that spec.md
// §1 leaves to "config loading and merging", out of the engine's scope.
type runFlags struct {
	concurrency    int
	duration       time.Duration
	maxRequests    int64
	rate           float64
	rampUp         time.Duration
	warmup         time.Duration
	thinkTime      time.Duration
	arrivalRate    float64
	maxVUs         int
	stages         []string
	noLatencyCorr  bool
	noFollowRedir  bool
	failFast       bool
	dryRun         bool
	method         string
	headers        []string
	body           string
	bodyFile       string
	insecure       bool
	timeout        time.Duration
	thresholds     []string
	countNon2xx    bool
	failOnCheck    bool
	cookieJar      bool
	seed           int64
	metricsAddr    string
	saveAs         string
	overwriteSaved bool
	resultsStore   string
	redisAddr      string
	output         string
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [URL]",
		Short: "Run a load test against a single target URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], &f)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&f.concurrency, "concurrency", "c", 10, "number of concurrent virtual users (closed-loop)")
	fs.DurationVarP(&f.duration, "duration", "d", 30*time.Second, "total run duration")
	fs.Int64VarP(&f.maxRequests, "max-requests", "n", 0, "stop after this many requests (0 = unbounded)")
	fs.Float64VarP(&f.rate, "rate", "r", 0, "shared rate cap across all VUs, requests/sec (0 = unbounded)")
	fs.DurationVar(&f.rampUp, "ramp-up", 0, "linearly ramp VUs from 0 to --concurrency over this duration")
	fs.DurationVar(&f.warmup, "warmup", 0, "exclude the first N seconds of results from published metrics")
	fs.DurationVar(&f.thinkTime, "think-time", 0, "sleep between a VU's iterations")
	fs.Float64Var(&f.arrivalRate, "arrival-rate", 0, "open-loop target arrival rate, requests/sec (selects the open-loop model)")
	fs.IntVar(&f.maxVUs, "max-vus", 0, "VU pool cap for open-loop / rate-target stages runs")
	fs.StringArrayVar(&f.stages, "stage", nil, `piecewise load stage "duration:target" (e.g. "30s:50") or "duration:rTARGET" for a rate target (e.g. "30s:r100"); repeatable, selects the stages model`)
	fs.BoolVar(&f.noLatencyCorr, "no-latency-correction", false, "report wallclock latency (scheduled-to-finished, including queue wait) instead of coordinated-omission-corrected service time")
	fs.BoolVar(&f.noFollowRedir, "no-follow-redirects", false, "do not follow HTTP redirects")
	fs.BoolVar(&f.failFast, "fail-fast", false, "cancel the run as soon as any threshold is breached")
	fs.BoolVar(&f.dryRun, "dry-run", false, "print the parsed plan as YAML and exit without making any request")
	fs.StringVar(&f.method, "method", "GET", "HTTP method")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, `request header "Key: Value", repeatable`)
	fs.StringVar(&f.body, "body", "", "request body")
	fs.StringVar(&f.bodyFile, "body-file", "", "read the request body from this file")
	fs.BoolVar(&f.insecure, "insecure", false, "skip TLS certificate verification")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "per-request timeout")
	fs.StringArrayVar(&f.thresholds, "threshold", nil, `threshold "metric op bound" (e.g. "p95_latency_ms < 500"), repeatable`)
	fs.BoolVar(&f.countNon2xx, "count-non-2xx-as-error", true, "count non-2xx/3xx responses as failed outcomes")
	fs.BoolVar(&f.failOnCheck, "fail-on-check", false, "a failed check also marks its outcome as failed")
	fs.BoolVar(&f.cookieJar, "cookie-jar", false, "give each VU its own cookie jar, so session cookies persist across that VU's requests")
	fs.Int64Var(&f.seed, "seed", 0, "deterministic RNG seed (0 = random; also settable via KAIOKEN_SEED)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
	fs.StringVar(&f.saveAs, "save-as", "", "archive the RunResult under this name for a later compare baseline")
	fs.BoolVar(&f.overwriteSaved, "overwrite", false, "overwrite an existing --save-as entry")
	fs.StringVar(&f.resultsStore, "results-store", "memory", "results archive adapter: memory|redis|postgres")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "Redis address, required when --results-store=redis")
	fs.StringVarP(&f.output, "output", "o", "", "write the RunResult JSON here instead of stdout")

	return cmd
}

func runRun(cmd *cobra.Command, target string, f *runFlags) error {
	plan, err := buildPlan(target, f)
	if err != nil {
		return exitError(1, "invalid plan: %v", err)
	}
	if err := core.Finalize(plan); err != nil {
		return exitError(1, "invalid plan: %v", err)
	}

	if f.dryRun {
		return printDryRun(cmd, plan)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Enable(ctx, telemetry.Config{
		Enabled:     f.metricsAddr != "",
		MetricsAddr: f.metricsAddr,
	})

	exec, err := httpexec.New(plan.Target)
	if err != nil {
		return exitError(1, "building HTTP executor: %v", err)
	}

	result, err := run.Execute(ctx, plan, exec)
	if err != nil {
		return exitError(1, "run failed: %v", err)
	}

	if f.saveAs != "" {
		if err := saveResult(ctx, f, result); err != nil {
			return exitError(1, "saving result: %v", err)
		}
	}

	if err := writeResult(f.output, result); err != nil {
		return exitError(1, "writing result: %v", err)
	}

	if !result.Thresholds.Passed {
		return &cliError{code: 4}
	}
	return nil
}

func saveResult(ctx context.Context, f *runFlags, result *core.RunResult) error {
	store, err := resultstore.Build(f.resultsStore, resultstore.Options{RedisAddr: f.redisAddr})
	if err != nil {
		return err
	}
	return store.Save(ctx, f.saveAs, result, f.overwriteSaved)
}

func writeResult(path string, result *core.RunResult) error {
	w := os.Stdout
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func printDryRun(cmd *cobra.Command, plan *core.RunPlan) error {
	doc := planToDoc(plan)
	out, err := marshalDryRun(doc)
	if err != nil {
		return exitError(1, "marshaling plan: %v", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
