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

// Package scenario implements weighted scenario selection and request
// chaining. The selector precomputes an alias table once at construction so
// the hot-path draw is O(1) and branch-free — the same "do the expensive
// thing once, keep the hot loop allocation-free" discipline the teacher's
// benchmarks/harness/main.go applies when it pre-generates each worker's
// op/key/delta slices before the timed loop starts.
package scenario

import "math/rand"

// AliasTable is Vose's alias method for O(1) weighted sampling.
type AliasTable struct {
	prob  []float64
	alias []int
}

// NewAliasTable builds an alias table from non-negative weights. A weight of
// zero is a valid entry (spec.md §4.4: weight 0 means "selectable only as a
// chained dependency") — it is simply never drawn because its probability
// mass is zero, not because it is excluded from the table.
func NewAliasTable(weights []float64) *AliasTable {
	n := len(weights)
	at := &AliasTable{prob: make([]float64, n), alias: make([]int, n)}
	if n == 0 {
		return at
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	scaled := make([]float64, n)
	if total > 0 {
		for i, w := range weights {
			scaled[i] = w * float64(n) / total
		}
	}

	var small, large []int
	for i, p := range scaled {
		if p < 1 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		at.prob[s] = scaled[s]
		at.alias[s] = l

		scaled[l] = scaled[l] + scaled[s] - 1
		if scaled[l] < 1 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	for _, l := range large {
		at.prob[l] = 1
	}
	for _, s := range small {
		at.prob[s] = 1
	}
	return at
}

// Draw returns one index, drawn with probability proportional to its weight.
func (at *AliasTable) Draw(rng *rand.Rand) int {
	n := len(at.prob)
	if n == 0 {
		return -1
	}
	i := rng.Intn(n)
	if rng.Float64() < at.prob[i] {
		return i
	}
	return at.alias[i]
}
