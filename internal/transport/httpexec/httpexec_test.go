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

package httpexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"kaioken/internal/engine/core"
)

func TestWithJarPersistsCookiesWithinOneVU(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			w.Header().Set("X-Saw-Cookie", c.Value)
		} else {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123"})
		}
	}))
	defer srv.Close()

	base, err := New(core.TargetConfig{BaseURL: srv.URL, Method: "GET", FollowRedirects: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vu, err := base.WithJar()
	if err != nil {
		t.Fatalf("WithJar: %v", err)
	}

	req := core.Request{Method: "GET", URL: srv.URL}
	first := vu.Execute(context.Background(), req)
	if first.Headers.Get("X-Saw-Cookie") != "" {
		t.Fatalf("first request should not have had a cookie to send yet")
	}

	second := vu.Execute(context.Background(), req)
	if got := second.Headers.Get("X-Saw-Cookie"); got != "abc123" {
		t.Fatalf("second request on the same VU jar = %q, want abc123 (cookie from first response)", got)
	}
}

func TestWithJarIsolatesCookiesBetweenVUs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			w.Header().Set("X-Saw-Cookie", c.Value)
		} else {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123"})
		}
	}))
	defer srv.Close()

	base, err := New(core.TargetConfig{BaseURL: srv.URL, Method: "GET", FollowRedirects: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vuA, err := base.WithJar()
	if err != nil {
		t.Fatalf("WithJar (vuA): %v", err)
	}
	vuB, err := base.WithJar()
	if err != nil {
		t.Fatalf("WithJar (vuB): %v", err)
	}

	req := core.Request{Method: "GET", URL: srv.URL}
	vuA.Execute(context.Background(), req)            // vuA picks up the session cookie
	second := vuB.Execute(context.Background(), req) // vuB has never seen it
	if got := second.Headers.Get("X-Saw-Cookie"); got != "" {
		t.Fatalf("vuB should not see vuA's cookie, got %q", got)
	}
}
