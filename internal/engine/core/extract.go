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
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

// ExtractContext bundles what an extraction needs to read from a response.
type ExtractContext struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Extract evaluates a single ExtractSpec against a response, per the source
// grammar in spec.md §4.4. Missing paths/matches yield an empty string
// rather than an error: extraction is best-effort by design.
func Extract(spec ExtractSpec, ctx ExtractContext) string {
	switch {
	case strings.HasPrefix(spec.Source, "json:"):
		return extractJSONPath(ctx.Body, strings.TrimPrefix(spec.Source, "json:"))
	case strings.HasPrefix(spec.Source, "regex:"):
		return extractRegex(ctx.Body, strings.TrimPrefix(spec.Source, "regex:"))
	case strings.HasPrefix(spec.Source, "header:"):
		return ctx.Headers.Get(strings.TrimPrefix(spec.Source, "header:"))
	case spec.Source == "body":
		return string(ctx.Body) // lossy UTF-8 conversion, per spec.md §4.4
	default:
		return ""
	}
}

// extractJSONPath resolves a dotted path like "$.a.b.c" or "a.b.c" against a
// JSON body. Missing paths yield "".
func extractJSONPath(body []byte, path string) string {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return string(body)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	return jsonScalarToString(cur)
}

func jsonScalarToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// extractRegex returns the first match (group defaults to 0, i.e. the whole
// match) of pattern[:group] against body.
func extractRegex(body []byte, patternAndGroup string) string {
	pattern := patternAndGroup
	group := 0
	if idx := strings.LastIndex(patternAndGroup, ":"); idx >= 0 {
		// Only treat the suffix as a group index if it parses as one; a
		// pattern may legitimately contain ':' (e.g. in a character class).
		if g, ok := parseSmallUint(patternAndGroup[idx+1:]); ok {
			pattern = patternAndGroup[:idx]
			group = g
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ""
	}
	m := re.FindSubmatch(body)
	if m == nil || group >= len(m) {
		return ""
	}
	return string(m[group])
}

func parseSmallUint(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
