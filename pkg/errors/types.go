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

// Package errors defines the typed error taxonomy used across maestro.
// Admission handlers translate these into HTTP status codes; everything
// below the API boundary wraps with %w and inspects with errors.As.
package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid request bodies, malformed specs, or constraint
// violations detected at admission.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "plugin", "execution", "workflow")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError represents a uniqueness violation on a durable row.
// A conflict on the queue's task key indicates double-submission of the
// same execution, which is an internal bug rather than a user error.
type ConflictError struct {
	// Resource is the type of resource (e.g., "queue task")
	Resource string

	// Key is the colliding unique key
	Key string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Key)
}

// CycleError is returned by the DAG resolver when a step's dependency
// chain re-enters itself. Self-loops count.
type CycleError struct {
	// StepID is the step at which the cycle was detected
	StepID string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("Cycle detected at step: %s", e.StepID)
}

// MissingDependencyError is returned by the DAG resolver when a step
// names a dependency that is not a sibling step.
type MissingDependencyError struct {
	// StepID is the step declaring the dependency
	StepID string

	// NeededID is the dependency that does not exist
	NeededID string
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("Dependency not found: step %s needs %s", e.StepID, e.NeededID)
}

// PluginError represents a failure dispatching a step to a plugin.
// Permanent errors (unknown plugin, unauthorised action, HTTP 4xx) are
// not retried by the step executor; transient ones (timeouts, connection
// errors, HTTP 5xx) are retried per the step's retry policy.
type PluginError struct {
	// Plugin is the plugin id the step addressed
	Plugin string

	// Action is the action name the step invoked
	Action string

	// StatusCode is the HTTP status code (if the dispatch was HTTP)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Permanent marks errors that retrying cannot fix
	Permanent bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	msg := fmt.Sprintf("plugin %s", e.Plugin)
	if e.Action != "" {
		msg = fmt.Sprintf("%s action %s", msg, e.Action)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PluginError) Unwrap() error {
	return e.Cause
}

// StoreError represents a persistence failure that is not a constraint
// violation. All store mutations are transactional, so a StoreError
// never leaves partially applied state behind.
type StoreError struct {
	// Op is the store operation that failed (e.g., "CreateExecution")
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ConstraintError represents a primary-key or foreign-key violation.
type ConstraintError struct {
	// Op is the store operation that failed
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("store %s violated a constraint: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when a step attempt exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "step attempt")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid
// config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "db_path")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
