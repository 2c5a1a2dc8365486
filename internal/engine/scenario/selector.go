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

package scenario

import (
	"math/rand"
	"time"

	"kaioken/internal/engine/core"
)

// Selector draws scenarios by weight and resolves a scenario's depends_on
// chain into run order for one iteration.
type Selector struct {
	scenarios []core.Scenario
	byName    map[string]int
	table     *AliasTable
}

// New builds a Selector for a finalized RunPlan's scenario list.
func New(scenarios []core.Scenario) *Selector {
	byName := make(map[string]int, len(scenarios))
	weights := make([]float64, len(scenarios))
	for i, s := range scenarios {
		byName[s.Name] = i
		weights[i] = s.Weight
	}
	return &Selector{scenarios: scenarios, byName: byName, table: NewAliasTable(weights)}
}

// NewRNG returns a deterministic RNG when seed != 0, otherwise a
// time-seeded one. Deterministic mode lets test suites reproduce a traffic
// mix exactly (spec.md §4.4).
func NewRNG(seed int64) *rand.Rand {
	if seed != 0 {
		return rand.New(rand.NewSource(seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Draw picks exactly one directly-selectable scenario index by weight.
func (s *Selector) Draw(rng *rand.Rand) int {
	return s.table.Draw(rng)
}

// Chain returns the ordered list of scenario indices to run for one
// iteration: the drawn scenario's transitive depends_on chain (in
// dependency-first order), followed by the drawn scenario itself.
func (s *Selector) Chain(drawnIdx int) []int {
	var order []int
	visited := make(map[int]bool)
	var visit func(idx int)
	visit = func(idx int) {
		if visited[idx] {
			return
		}
		visited[idx] = true
		for _, dep := range s.scenarios[idx].DependsOn {
			if di, ok := s.byName[dep]; ok {
				visit(di)
			}
		}
		order = append(order, idx)
	}
	visit(drawnIdx)
	return order
}

// Scenario returns the scenario at idx.
func (s *Selector) Scenario(idx int) *core.Scenario { return &s.scenarios[idx] }

// Count returns the number of scenarios known to the selector.
func (s *Selector) Count() int { return len(s.scenarios) }
