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

	"github.com/spf13/cobra"

	"kaioken/internal/engine/core"
	"kaioken/internal/engine/resultstore"
	"kaioken/internal/engine/threshold"
)

type compareFlags struct {
	thresholdPct float64
	force        bool
	resultsStore string
	redisAddr    string
}

func newCompareCmd() *cobra.Command {
	var f compareFlags

	cmd := &cobra.Command{
		Use:   "compare BASELINE CURRENT",
		Short: "Compare two RunResults for regressions (spec.md §4.8)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, args[0], args[1], &f)
		},
	}

	fs := cmd.Flags()
	fs.Float64Var(&f.thresholdPct, "threshold-pct", 10, "fail a metric if its percent delta from baseline exceeds this")
	fs.BoolVar(&f.force, "force", false, "allow comparing runs with different load models")
	fs.StringVar(&f.resultsStore, "results-store", "memory", "results archive adapter to load named baselines from: memory|redis|postgres")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "Redis address, required when --results-store=redis")

	return cmd
}

func runCompare(cmd *cobra.Command, baselineArg, currentArg string, f *compareFlags) error {
	ctx := cmd.Context()

	baseline, err := loadResult(ctx, baselineArg, f.resultsStore, f.redisAddr)
	if err != nil {
		return exitError(1, "loading baseline %q: %v", baselineArg, err)
	}
	current, err := loadResult(ctx, currentArg, f.resultsStore, f.redisAddr)
	if err != nil {
		return exitError(1, "loading current %q: %v", currentArg, err)
	}

	report, err := threshold.Compare(baseline, current, threshold.CompareOptions{
		ThresholdPct: f.thresholdPct,
		Force:        f.force,
	})
	if err != nil {
		return exitError(5, "%v", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		return exitError(1, "encoding report: %v", encErr)
	}

	if report.Failed {
		return &cliError{code: 3}
	}
	return nil
}

// loadResult reads a RunResult either from a JSON file on disk (when ref
// names an existing file) or, failing that, from the configured results
// archive by name — the same two-source lookup a --save-as baseline and a
// plain `kaioken run -o result.json` output both need to satisfy.
func loadResult(ctx context.Context, ref, adapter, redisAddr string) (*core.RunResult, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, err
		}
		var result core.RunResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ref, err)
		}
		return &result, nil
	}

	store, err := resultstore.Build(adapter, resultstore.Options{RedisAddr: redisAddr})
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, ref)
}
