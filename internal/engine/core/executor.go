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

package core

import "context"

// RequestExecutor is the pluggable transport contract consumed by the
// engine (spec.md §6). internal/transport/httpexec implements it over
// net/http; internal/transport/mockexec implements it for tests.
type RequestExecutor interface {
	// Execute performs req and returns the result half of an Outcome. ctx
	// carries the request deadline; Execute must respect ctx cancellation
	// and return promptly once it fires.
	Execute(ctx context.Context, req Request) OutcomeResult

	// Classify maps a raw transport error into a stable ErrorKind. Only
	// called when Execute itself could not produce an OutcomeResult (i.e.
	// from within Execute's own error handling) — exposed separately so
	// tests can exercise the classifier in isolation.
	Classify(err error) ErrorKind

	// SupportsBodyCapture reports whether this executor can capture
	// response bodies at all (some protocols, e.g. a HEAD-only probe,
	// cannot).
	SupportsBodyCapture() bool
}

// JarCloner is implemented by executors that can hand out an independent
// cookie-bearing copy of themselves, sharing underlying connection pooling
// but owning a distinct http.CookieJar (spec.md: "cookie jars are per-VU and
// owned by the VU"). A plan with CookieJar enabled asks each VU for its own
// clone exactly once, at VU startup; executors that have no notion of
// cookies (e.g. mockexec) simply don't implement this interface, and the VU
// falls back to the shared executor.
type JarCloner interface {
	WithJar() (RequestExecutor, error)
}
