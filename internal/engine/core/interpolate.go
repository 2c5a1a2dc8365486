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

import (
	"log"
	"os"
	"regexp"
	"strings"
)

// tokenPattern matches ${NAME} and ${NAME:-default}.
var tokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

var upperName = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// InterpolateEnv applies ${VAR} / ${VAR:-default} substitution to uppercase
// names only, once, at plan-load time (spec.md §6). Lowercase tokens are left
// untouched so they can be resolved per-iteration from a ChainContext.
func InterpolateEnv(s string) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		name, hasDefault, def := m[1], m[2] != "", m[3]
		if !upperName.MatchString(name) {
			return tok // lowercase convention: pass through unchanged
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		return "" // unknown uppercase env var: substitute empty, per spec.md §9
	})
}

// InterpolateRuntime resolves remaining ${name} tokens against a VU's
// ChainContext at iteration time. Resolution order: per-iteration built-ins
// (REQUEST_ID, TIMESTAMP_MS) override ChainContext override process
// environment (spec.md §4.5). A token with no resolution anywhere logs
// unresolved_variable once per VU per name and is substituted as the literal
// token text unchanged, matching spec.md §4.4's depends-on-failure fallback
// behavior so a missing variable never breaks request construction.
func InterpolateRuntime(s string, chain *ChainContext) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		name, hasDefault, def := m[1], m[2] != "", m[3]

		if v, ok := chain.Lookup(name); ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		if chain.WarnOnce(name) {
			log.Printf("unresolved_variable: %s", name)
		}
		return tok
	})
}

// InterpolateHeaders applies InterpolateRuntime to every header value.
func InterpolateHeaders(headers map[string]string, chain *ChainContext) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = InterpolateRuntime(v, chain)
	}
	return out
}

// BuildURL joins a base URL and a path, interpolating the path.
func BuildURL(base, path string, chain *ChainContext) string {
	path = InterpolateRuntime(path, chain)
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
