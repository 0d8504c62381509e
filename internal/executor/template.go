// Copyright 2025 Tom Barlow
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

package executor

import (
	"regexp"
	"strings"
)

// Template references resolve prior step results into a step's input.
// Only values that are entirely a single reference are substituted;
// anything else, including unknown references, passes through verbatim.
var (
	resultPattern = regexp.MustCompile(`^\{\{\s*steps\.([A-Za-z0-9_-]+)\.result\s*\}\}$`)
	fieldPattern  = regexp.MustCompile(`^\{\{\s*steps\.([A-Za-z0-9_-]+)\.result\.(\w+)\s*\}\}$`)
)

// ResolveInput returns a deep copy of input with step-result references
// substituted from results, a map of step id to that step's output.
// An output may be any JSON value; whole-result references substitute
// it as-is. The original input is never mutated.
func ResolveInput(input map[string]interface{}, results map[string]interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	resolved := resolveValue(input, results)
	out, ok := resolved.(map[string]interface{})
	if !ok {
		return nil
	}
	return out
}

func resolveValue(v interface{}, results map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return resolveString(val, results)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = resolveValue(inner, results)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = resolveValue(inner, results)
		}
		return out
	default:
		return val
	}
}

// resolveString substitutes a whole-string reference. Field references
// take precedence since the result pattern would not match them anyway.
// A field reference needs the producing step's result to be a JSON
// object to index into; any other result shape passes through verbatim.
func resolveString(s string, results map[string]interface{}) interface{} {
	if !strings.Contains(s, "{{") {
		return s
	}

	if m := fieldPattern.FindStringSubmatch(s); m != nil {
		result, ok := results[m[1]]
		if !ok {
			return s
		}
		obj, ok := result.(map[string]interface{})
		if !ok {
			return s
		}
		field, ok := obj[m[2]]
		if !ok {
			return s
		}
		return field
	}

	if m := resultPattern.FindStringSubmatch(s); m != nil {
		result, ok := results[m[1]]
		if !ok {
			return s
		}
		return result
	}

	return s
}
