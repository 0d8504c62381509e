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

package store

import (
	"time"

	"github.com/maestro-run/maestro/pkg/plugin"
	"github.com/maestro-run/maestro/pkg/workflow"
)

// Status values shared by executions, tasks and queue rows.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event kinds appended to an execution's log.
const (
	EventWorkflowSubmitted  = "workflow_submitted"
	EventExecutionStarted   = "execution_started"
	EventStepStarted        = "step_started"
	EventStepCompleted      = "step_completed"
	EventStepFailed         = "step_failed"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
)

// Workflow is a persisted, immutable workflow definition.
type Workflow struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Spec      workflow.Spec `json:"spec"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Execution is one attempt to run a workflow end-to-end.
type Execution struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`

	// Result maps step id to step result; non-nil only when completed
	Result map[string]interface{} `json:"result,omitempty"`

	// Error is set only when the execution failed
	Error string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ExecutionSummary is an execution joined with its workflow name, as
// returned by list queries.
type ExecutionSummary struct {
	Execution
	WorkflowName string `json:"workflowName"`
}

// ExecutionPatch is a partial update applied to an execution row.
// Nil fields are left untouched.
type ExecutionPatch struct {
	Status *string
	Result map[string]interface{}
	Error  *string
}

// Task records one step's execution within one execution.
type Task struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"executionId"`
	StepID      string                 `json:"stepId"`
	PluginID    string                 `json:"pluginId"`
	Action      string                 `json:"action"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Attempts    int                    `json:"attempts"`
	Status      string                 `json:"status"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// TaskPatch is a partial update applied to a task row.
type TaskPatch struct {
	Status   *string
	Result   interface{}
	Error    *string
	Attempts *int
}

// Event is an append-only lifecycle record attached to an execution.
// The auto-increment id preserves insertion order even under equal
// timestamps.
type Event struct {
	ID          int64                  `json:"id"`
	ExecutionID string                 `json:"executionId"`
	Kind        string                 `json:"kind"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// PluginPatch is a partial update applied to a plugin row.
type PluginPatch struct {
	Digest  *string
	Version *string
	Spec    *plugin.Spec
}

// terminal reports whether a status ends a lifecycle.
func terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
