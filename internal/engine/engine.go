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

// Package engine owns the workflow lifecycle: admission, durable
// queueing, and the state machine that drives one execution from
// pending to a terminal status.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/log"
	"github.com/maestro-run/maestro/internal/metrics"
	"github.com/maestro-run/maestro/internal/queue"
	"github.com/maestro-run/maestro/internal/store"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
	"github.com/maestro-run/maestro/pkg/workflow"
)

// Housekeeping cadence for terminal queue rows.
const (
	CleanupInterval = 1 * time.Hour
	CleanupAge      = 24 * time.Hour
)

// SubmitResult identifies a freshly admitted workflow.
type SubmitResult struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`
}

// Status is the full observable state of one execution.
type Status struct {
	Execution *store.Execution `json:"execution"`
	Tasks     []*store.Task    `json:"tasks"`
	Events    []*store.Event   `json:"events"`
}

// taskPayload is the queue row body linking a queue task back to its
// execution.
type taskPayload struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`
}

// Engine coordinates the store, queue and executor. One engine runs per
// process; the entry point owns its lifecycle.
type Engine struct {
	store    *store.Store
	queue    *queue.Queue
	executor *executor.Executor
	logger   *slog.Logger

	processor *queue.Processor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires an engine over its collaborators.
func New(s *store.Store, q *queue.Queue, exec *executor.Executor, logger *slog.Logger) *Engine {
	e := &Engine{
		store:    s,
		queue:    q,
		executor: exec,
		logger:   log.WithComponent(logger, "engine"),
	}
	e.processor = queue.NewProcessor(q, e.handleTask, log.WithComponent(logger, "queue"))
	return e
}

// Submit validates and admits a workflow. The workflow, its pending
// execution, the submission event and the queue row commit in one store
// transaction, so a rejected submission leaves no rows behind.
// Validation failures return a joined error the API layer unpacks into
// field details.
func (e *Engine) Submit(ctx context.Context, spec *workflow.Spec) (*SubmitResult, error) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return nil, fmt.Errorf("engine is not running")
	}

	if result := workflow.Validate(spec); !result.Valid {
		return nil, &ValidationFailure{Errors: result.Errors}
	}

	workflowID := uuid.NewString()
	executionID := uuid.NewString()

	payload, err := json.Marshal(taskPayload{ExecutionID: executionID, WorkflowID: workflowID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wf := &store.Workflow{ID: workflowID, Name: spec.Name, Spec: *spec}
	if err := e.store.CreateWorkflowTx(ctx, tx, wf); err != nil {
		return nil, err
	}
	if _, err := e.store.CreateExecutionTx(ctx, tx, executionID, workflowID); err != nil {
		return nil, err
	}

	if err := e.store.CreateEventTx(ctx, tx, executionID, store.EventWorkflowSubmitted, map[string]interface{}{
		"workflowId":   workflowID,
		"workflowName": spec.Name,
		"stepCount":    len(spec.Steps),
	}); err != nil {
		return nil, err
	}

	// The execution id is the unique queue key. Every submission mints
	// a fresh UUID, so a collision is an internal bug, never user error.
	inserted, err := e.queue.EnqueueTx(ctx, tx, executionID, payload, queue.Options{})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, &maestroerrors.ConflictError{Resource: "queue task", Key: executionID}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	e.logger.Info("workflow submitted",
		slog.String("workflow_id", workflowID),
		slog.String("execution_id", executionID),
		slog.String("workflow_name", spec.Name),
		slog.Int("steps", len(spec.Steps)))

	return &SubmitResult{ExecutionID: executionID, WorkflowID: workflowID}, nil
}

// GetStatus returns an execution with its tasks and events.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*Status, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.store.GetTasksByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.GetEventsByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &Status{Execution: exec, Tasks: tasks, Events: events}, nil
}

// Stats aggregates queue and execution counts.
func (e *Engine) Stats(ctx context.Context) (map[string]interface{}, error) {
	queueStats, err := e.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	execStats, err := e.store.GetExecutionStats(ctx)
	if err != nil {
		return nil, err
	}

	for status, depth := range queueStats {
		metrics.SetQueueDepth(status, depth)
	}

	return map[string]interface{}{
		"queue":      queueStats,
		"executions": execStats,
	}, nil
}

// Running reports whether the engine accepts work.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start begins the queue processor and the hourly cleanup timer. Work
// runs on an internal context rather than one supplied by the caller,
// so an external cancellation (the process signal context, say) can
// never abort an in-flight step or the store writes that record its
// outcome; Stop is the only way to halt the engine.
// Idempotent; a second start logs a warning and does nothing.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Warn("engine already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})

	e.processor.Start(ctx)
	go e.cleanupLoop(ctx)

	e.logger.Info("engine started")
}

// Stop ceases leasing queue rows, waits for the in-flight execution to
// run to a terminal state, then stops the cleanup timer. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.running = false
	e.mu.Unlock()

	e.processor.Stop()
	cancel()
	<-done

	e.logger.Info("engine stopped")
}

func (e *Engine) cleanupLoop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := e.queue.Cleanup(ctx, CleanupAge)
			if err != nil {
				e.logger.Error("queue cleanup failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				metrics.RecordCleanup(removed)
				e.logger.Info("queue cleanup removed terminal rows", slog.Int64("rows", removed))
			}
		}
	}
}

// ValidationFailure carries every validation error found at admission.
type ValidationFailure struct {
	Errors []error
}

func (v *ValidationFailure) Error() string {
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}
	return fmt.Sprintf("workflow validation failed with %d errors", len(v.Errors))
}
