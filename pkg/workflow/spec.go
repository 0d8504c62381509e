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

// Package workflow defines the declarative workflow format and the DAG
// resolver that orders its steps for execution.
//
// A workflow is a directed acyclic graph of steps. Each step names a
// plugin and an action; `needs` declares dependencies on sibling steps.
// Step inputs are arbitrary JSON trees whose string leaves may reference
// earlier step results via templates (resolved by the step executor).
package workflow

import (
	"fmt"
	"regexp"

	"github.com/maestro-run/maestro/pkg/errors"
)

// Limits on workflow shape.
const (
	// MaxNameLength is the maximum workflow name length.
	MaxNameLength = 255

	// MaxSteps is the maximum number of steps in one workflow.
	MaxSteps = 100
)

// Default step execution settings applied when a step omits them.
const (
	// DefaultStepTimeoutMillis is the per-attempt step timeout (30 s).
	DefaultStepTimeoutMillis = 30000

	// DefaultMaxAttempts means no retry: a single attempt per step.
	DefaultMaxAttempts = 1
)

// Backoff strategies for per-step retries.
const (
	// BackoffFixed sleeps one second between attempts.
	BackoffFixed = "fixed"

	// BackoffExponential sleeps 2^attempt seconds between attempts
	// (2 s, 4 s, 8 s, ...).
	BackoffExponential = "exponential"
)

// namePattern validates workflow names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Spec is an immutable workflow definition as submitted by a client.
type Spec struct {
	// Name is the workflow identifier (1-255 chars, [A-Za-z0-9_-]+)
	Name string `json:"name"`

	// Steps are the executable units of the workflow (1-100)
	Steps []Step `json:"steps"`
}

// Step is a single unit of work within a workflow.
type Step struct {
	// ID is the unique step identifier within this workflow
	ID string `json:"id"`

	// Plugin is the id of the registered plugin this step dispatches to
	Plugin string `json:"plugin"`

	// Action is the plugin action to invoke
	Action string `json:"action"`

	// Input is an arbitrary JSON tree; string leaves may contain
	// templates referencing prior step results
	Input map[string]interface{} `json:"input,omitempty"`

	// Needs lists sibling step ids this step depends on
	Needs []string `json:"needs,omitempty"`

	// Timeout is the per-attempt timeout in milliseconds (default 30000)
	Timeout int `json:"timeout,omitempty"`

	// Retry configures per-step retry behavior (default: one attempt)
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// RetryPolicy configures retry behavior for a step.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (must be >= 1)
	MaxAttempts int `json:"maxAttempts"`

	// Backoff selects the sleep strategy between attempts
	// ("fixed" or "exponential")
	Backoff string `json:"backoff,omitempty"`
}

// ValidationResult aggregates every structural error found in a spec.
type ValidationResult struct {
	Valid  bool
	Errors []error
}

// Validate checks the workflow spec and accumulates all structural
// errors before attempting to resolve the DAG, so a client sees every
// problem in one round trip. Resolver errors (cycles, missing
// dependencies) are appended only when the structure is otherwise sound
// enough to traverse.
func Validate(spec *Spec) ValidationResult {
	var errs []error

	if spec.Name == "" {
		errs = append(errs, &errors.ValidationError{
			Field:      "name",
			Message:    "workflow name is required",
			Suggestion: "add a name matching [A-Za-z0-9_-]+",
		})
	} else {
		if len(spec.Name) > MaxNameLength {
			errs = append(errs, &errors.ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("workflow name exceeds %d characters", MaxNameLength),
			})
		}
		if !namePattern.MatchString(spec.Name) {
			errs = append(errs, &errors.ValidationError{
				Field:      "name",
				Message:    fmt.Sprintf("invalid workflow name: %s", spec.Name),
				Suggestion: "names may contain letters, digits, underscores and hyphens",
			})
		}
	}

	if len(spec.Steps) == 0 {
		errs = append(errs, &errors.ValidationError{
			Field:      "steps",
			Message:    "workflow must have at least one step",
			Suggestion: "add at least one step to the workflow",
		})
	}
	if len(spec.Steps) > MaxSteps {
		errs = append(errs, &errors.ValidationError{
			Field:   "steps",
			Message: fmt.Sprintf("workflow exceeds %d steps", MaxSteps),
		})
	}

	seen := make(map[string]bool, len(spec.Steps))
	for i, step := range spec.Steps {
		if step.ID == "" {
			errs = append(errs, &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].id", i),
				Message: "step id is required",
			})
			continue
		}
		if seen[step.ID] {
			errs = append(errs, &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].id", i),
				Message: fmt.Sprintf("duplicate step id: %s", step.ID),
			})
		}
		seen[step.ID] = true

		if step.Plugin == "" {
			errs = append(errs, &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].plugin", i),
				Message: fmt.Sprintf("step %s: plugin is required", step.ID),
			})
		}
		if step.Action == "" {
			errs = append(errs, &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].action", i),
				Message: fmt.Sprintf("step %s: action is required", step.ID),
			})
		}
		if step.Timeout < 0 {
			errs = append(errs, &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].timeout", i),
				Message: fmt.Sprintf("step %s: timeout must be non-negative", step.ID),
			})
		}
		if step.Retry != nil {
			if step.Retry.MaxAttempts < 1 {
				errs = append(errs, &errors.ValidationError{
					Field:   fmt.Sprintf("steps[%d].retry.maxAttempts", i),
					Message: fmt.Sprintf("step %s: maxAttempts must be at least 1", step.ID),
				})
			}
			if b := step.Retry.Backoff; b != "" && b != BackoffFixed && b != BackoffExponential {
				errs = append(errs, &errors.ValidationError{
					Field:      fmt.Sprintf("steps[%d].retry.backoff", i),
					Message:    fmt.Sprintf("step %s: invalid backoff: %s", step.ID, b),
					Suggestion: `use "fixed" or "exponential"`,
				})
			}
		}
	}

	// Only attempt resolution once the step list is structurally sound;
	// traversing with duplicate or empty ids would produce misleading
	// cycle reports on top of the real errors.
	if len(errs) == 0 {
		if _, err := Resolve(spec); err != nil {
			errs = append(errs, err)
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// TimeoutOrDefault returns the step's per-attempt timeout in
// milliseconds, applying the default when unset.
func (s *Step) TimeoutOrDefault() int {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultStepTimeoutMillis
}

// MaxAttempts returns the step's attempt budget, applying the default
// of a single attempt when no retry policy is set.
func (s *Step) MaxAttempts() int {
	if s.Retry != nil && s.Retry.MaxAttempts > 0 {
		return s.Retry.MaxAttempts
	}
	return DefaultMaxAttempts
}
