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

package workflow

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccumulatesAllErrors(t *testing.T) {
	// Bad name, missing plugin and missing action must all be reported
	// in one pass, not one at a time.
	spec := &Spec{
		Name: "bad name!",
		Steps: []Step{
			{ID: "a"},
			{ID: "a", Plugin: "echo", Action: "run"},
		},
	}

	result := Validate(spec)
	require.False(t, result.Valid)
	require.GreaterOrEqual(t, len(result.Errors), 4)

	joined := make([]string, len(result.Errors))
	for i, err := range result.Errors {
		joined[i] = err.Error()
	}
	all := strings.Join(joined, "\n")
	assert.Contains(t, all, "invalid workflow name")
	assert.Contains(t, all, "duplicate step id")
	assert.Contains(t, all, "plugin is required")
	assert.Contains(t, all, "action is required")
}

func TestValidateValidSpec(t *testing.T) {
	spec := &Spec{
		Name: "deploy_v2",
		Steps: []Step{
			{ID: "build", Plugin: "docker", Action: "build"},
			{ID: "push", Plugin: "docker", Action: "push", Needs: []string{"build"}},
		},
	}

	result := Validate(spec)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateEmptySteps(t *testing.T) {
	result := Validate(&Spec{Name: "empty"})
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors[0].Error(), "at least one step")
}

func TestValidateTooManySteps(t *testing.T) {
	steps := make([]Step, MaxSteps+1)
	for i := range steps {
		steps[i] = Step{ID: fmt.Sprintf("step-%d", i), Plugin: "echo", Action: "run"}
	}

	result := Validate(&Spec{Name: "big", Steps: steps})
	require.False(t, result.Valid)
}

func TestValidateNameLength(t *testing.T) {
	result := Validate(&Spec{
		Name:  strings.Repeat("x", MaxNameLength+1),
		Steps: []Step{{ID: "a", Plugin: "echo", Action: "run"}},
	})
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors[0].Error(), "exceeds")
}

func TestValidateRetryPolicy(t *testing.T) {
	result := Validate(&Spec{
		Name: "retry",
		Steps: []Step{{
			ID: "a", Plugin: "echo", Action: "run",
			Retry: &RetryPolicy{MaxAttempts: 0, Backoff: "bogus"},
		}},
	})
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0].Error(), "maxAttempts")
	assert.Contains(t, result.Errors[1].Error(), "invalid backoff")
}

func TestValidateCycleReportedAfterStructure(t *testing.T) {
	result := Validate(&Spec{
		Name: "cyc",
		Steps: []Step{
			{ID: "a", Plugin: "echo", Action: "run", Needs: []string{"b"}},
			{ID: "b", Plugin: "echo", Action: "run", Needs: []string{"a"}},
		},
	})
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "Cycle")
}

func TestStepDefaults(t *testing.T) {
	s := Step{ID: "a", Plugin: "echo", Action: "run"}
	assert.Equal(t, DefaultStepTimeoutMillis, s.TimeoutOrDefault())
	assert.Equal(t, DefaultMaxAttempts, s.MaxAttempts())

	s.Timeout = 500
	s.Retry = &RetryPolicy{MaxAttempts: 3}
	assert.Equal(t, 500, s.TimeoutOrDefault())
	assert.Equal(t, 3, s.MaxAttempts())
}
