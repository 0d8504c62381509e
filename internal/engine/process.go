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

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maestro-run/maestro/internal/log"
	"github.com/maestro-run/maestro/internal/metrics"
	"github.com/maestro-run/maestro/internal/queue"
	"github.com/maestro-run/maestro/internal/store"
	"github.com/maestro-run/maestro/pkg/workflow"
)

// handleTask runs one execution end to end. It returns an error only
// when the execution could not be driven to a terminal state (store or
// payload failures); a failed workflow is still a handled workflow, so
// step failures complete the queue row rather than retrying it.
func (e *Engine) handleTask(ctx context.Context, row *queue.Row) error {
	var payload taskPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode task payload: %w", err)
	}

	logger := log.WithExecutionContext(e.logger, payload.ExecutionID, payload.WorkflowID)

	wf, err := e.store.GetWorkflow(ctx, payload.WorkflowID)
	if err != nil {
		return err
	}

	order, err := workflow.Resolve(&wf.Spec)
	if err != nil {
		// The spec was validated at admission; a resolver failure here
		// means the stored row was tampered with or corrupted.
		return e.failExecution(ctx, payload.ExecutionID, err.Error())
	}

	running := store.StatusRunning
	if err := e.store.UpdateExecution(ctx, payload.ExecutionID, store.ExecutionPatch{Status: &running}); err != nil {
		return err
	}
	if err := e.store.CreateEvent(ctx, payload.ExecutionID, store.EventExecutionStarted, nil); err != nil {
		return err
	}

	logger.Info("execution started", slog.Int("steps", len(order)))

	steps := make(map[string]int, len(wf.Spec.Steps))
	for i, s := range wf.Spec.Steps {
		steps[s.ID] = i
	}

	// The accumulated results double as the execution's aggregate
	// result, keyed by step id.
	results := make(map[string]interface{}, len(order))
	for _, stepID := range order {
		step := wf.Spec.Steps[steps[stepID]]
		output, runErr := e.runStep(ctx, payload.ExecutionID, step, results, logger)
		if runErr != nil {
			return e.failExecution(ctx, payload.ExecutionID, runErr.Error())
		}
		results[stepID] = output
	}

	completed := store.StatusCompleted
	if err := e.store.UpdateExecution(ctx, payload.ExecutionID, store.ExecutionPatch{
		Status: &completed,
		Result: results,
	}); err != nil {
		return err
	}
	if err := e.store.CreateEvent(ctx, payload.ExecutionID, store.EventExecutionCompleted, map[string]interface{}{
		"steps": len(order),
	}); err != nil {
		return err
	}

	metrics.RecordExecution(store.StatusCompleted)
	logger.Info("execution completed")
	return nil
}

// runStep drives one task through its lifecycle and returns the step
// output on success.
func (e *Engine) runStep(ctx context.Context, executionID string, step workflow.Step, results map[string]interface{}, logger *slog.Logger) (interface{}, error) {
	task := &store.Task{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		StepID:      step.ID,
		PluginID:    step.Plugin,
		Action:      step.Action,
		Input:       step.Input,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	running := store.StatusRunning
	if err := e.store.UpdateTask(ctx, task.ID, store.TaskPatch{Status: &running}); err != nil {
		return nil, err
	}
	if err := e.store.CreateEvent(ctx, executionID, store.EventStepStarted, map[string]interface{}{
		"stepId": step.ID,
		"plugin": step.Plugin,
		"action": step.Action,
	}); err != nil {
		return nil, err
	}

	result, execErr := e.executor.Execute(ctx, step, results)
	if execErr != nil {
		failed := store.StatusFailed
		msg := execErr.Error()
		if err := e.store.UpdateTask(ctx, task.ID, store.TaskPatch{
			Status: &failed, Error: &msg, Attempts: &result.Attempts,
		}); err != nil {
			return nil, err
		}
		if err := e.store.CreateEvent(ctx, executionID, store.EventStepFailed, map[string]interface{}{
			"stepId": step.ID,
			"error":  msg,
		}); err != nil {
			return nil, err
		}
		logger.Warn("step failed", slog.String("step_id", step.ID), slog.String("error", msg))
		return nil, fmt.Errorf("step %s failed: %w", step.ID, execErr)
	}

	completedStatus := store.StatusCompleted
	if err := e.store.UpdateTask(ctx, task.ID, store.TaskPatch{
		Status:   &completedStatus,
		Result:   result.Output,
		Attempts: &result.Attempts,
	}); err != nil {
		return nil, err
	}
	if err := e.store.CreateEvent(ctx, executionID, store.EventStepCompleted, map[string]interface{}{
		"stepId":   step.ID,
		"attempts": result.Attempts,
	}); err != nil {
		return nil, err
	}

	logger.Info("step completed", slog.String("step_id", step.ID), slog.Int("attempts", result.Attempts))
	return result.Output, nil
}

// failExecution moves an execution to failed and appends the terminal
// event. The returned error is nil when the failure was recorded; the
// queue row completes because the engine ran the workflow to a
// terminal state.
func (e *Engine) failExecution(ctx context.Context, executionID, message string) error {
	failed := store.StatusFailed
	if err := e.store.UpdateExecution(ctx, executionID, store.ExecutionPatch{
		Status: &failed,
		Error:  &message,
	}); err != nil {
		return err
	}
	if err := e.store.CreateEvent(ctx, executionID, store.EventExecutionFailed, map[string]interface{}{
		"error": message,
	}); err != nil {
		return err
	}
	metrics.RecordExecution(store.StatusFailed)
	return nil
}
