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
	"testing"

	"kaioken/internal/engine/core"
)

func TestSelectorWeightedDistribution(t *testing.T) {
	scenarios := []core.Scenario{
		{Name: "a", Weight: 7},
		{Name: "b", Weight: 2},
		{Name: "c", Weight: 1},
	}
	sel := New(scenarios)
	rng := NewRNG(42)

	const n = 100000
	var counts [3]int
	for i := 0; i < n; i++ {
		counts[sel.Draw(rng)]++
	}

	want := []float64{0.7, 0.2, 0.1}
	for i, c := range counts {
		got := float64(c) / float64(n)
		if diff := got - want[i]; diff > 0.01 || diff < -0.01 {
			t.Fatalf("scenario %d: ratio = %v, want ~%v (±0.01)", i, got, want[i])
		}
	}
}

func TestSelectorZeroWeightNeverDrawn(t *testing.T) {
	scenarios := []core.Scenario{
		{Name: "setup", Weight: 0},
		{Name: "main", Weight: 1},
	}
	sel := New(scenarios)
	rng := NewRNG(7)
	for i := 0; i < 10000; i++ {
		if sel.Draw(rng) == 0 {
			t.Fatalf("zero-weight scenario drawn directly at iteration %d", i)
		}
	}
}

func TestSelectorChainResolvesDependencyFirst(t *testing.T) {
	scenarios := []core.Scenario{
		{Name: "login", Weight: 0},
		{Name: "browse", Weight: 1, DependsOn: []string{"login"}},
		{Name: "checkout", Weight: 1, DependsOn: []string{"browse"}},
	}
	sel := New(scenarios)

	order := sel.Chain(2) // checkout
	want := []int{0, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("chain = %v, want %v", order, want)
	}
	for i, idx := range order {
		if idx != want[i] {
			t.Fatalf("chain = %v, want %v", order, want)
		}
	}
}

func TestSelectorChainDedupesDiamondDependency(t *testing.T) {
	scenarios := []core.Scenario{
		{Name: "auth", Weight: 0},
		{Name: "left", Weight: 0, DependsOn: []string{"auth"}},
		{Name: "right", Weight: 0, DependsOn: []string{"auth"}},
		{Name: "join", Weight: 1, DependsOn: []string{"left", "right"}},
	}
	sel := New(scenarios)

	order := sel.Chain(3)
	if len(order) != 4 {
		t.Fatalf("chain = %v, want 4 unique entries (no duplicate auth)", order)
	}
	seen := make(map[int]bool)
	for _, idx := range order {
		if seen[idx] {
			t.Fatalf("chain = %v, duplicate index %d", order, idx)
		}
		seen[idx] = true
	}
	if order[len(order)-1] != 3 {
		t.Fatalf("chain = %v, drawn scenario must resolve last", order)
	}
}

func TestChainContextIsolatedPerWorker(t *testing.T) {
	c1 := core.NewChainContext(1)
	c2 := core.NewChainContext(2)

	c1.Set("token", "worker-1-token")
	if _, ok := c2.Lookup("token"); ok {
		t.Fatalf("variable set on c1 leaked into c2")
	}
	v, ok := c1.Lookup("token")
	if !ok || v != "worker-1-token" {
		t.Fatalf("c1.Lookup(token) = %q, %v; want worker-1-token, true", v, ok)
	}
}

func TestChainContextVisibleNextIteration(t *testing.T) {
	// An extraction written in iteration i must be observable in iteration
	// i+1 of the same VU — ChainContext persists across Draw/Chain calls for
	// the life of the worker, it is not reset between iterations.
	c := core.NewChainContext(9)
	if _, ok := c.Lookup("session_id"); ok {
		t.Fatalf("session_id should not exist before iteration 1 extracts it")
	}
	c.Set("session_id", "abc123") // iteration 1 extracts this
	v, ok := c.Lookup("session_id")
	if !ok || v != "abc123" {
		t.Fatalf("iteration 2 lookup = %q, %v; want abc123, true", v, ok)
	}
}
