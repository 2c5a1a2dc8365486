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

// Command kaioken is the CLI surface of the load-testing engine
// (spec.md §6): a "run" subcommand that drives one load test to completion
// and prints its RunResult as JSON, a "compare" subcommand that regression-
// checks two RunResults against each other, and "version".
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// toolVersion is overridden at build time via -ldflags
// "-X main.toolVersion=...".
var toolVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "kaioken",
	Short:         "kaioken is a closed- and open-loop HTTP load generator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kaioken version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), toolVersion)
			return nil
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if ce, ok := err.(*cliError); ok {
			if ce.msg != "" {
				fmt.Fprintln(os.Stderr, "kaioken:", ce.msg)
			}
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, "kaioken:", err)
		os.Exit(1)
	}
}

// cliError carries the spec.md §7 exit code partition through cobra's
// single error return without forcing every caller to call os.Exit
// directly (which would skip deferred cleanup).
type cliError struct {
	code int
	msg  string
}

func (e *cliError) Error() string { return e.msg }

func exitError(code int, format string, args ...any) error {
	return &cliError{code: code, msg: fmt.Sprintf(format, args...)}
}
