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
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// CreateTask inserts a new task row in the pending state.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	inputJSON, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal task input: %w", err)
	}

	now := time.Now()
	t.Status = StatusPending
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, execution_id, step_id, plugin_id, action, input, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.ExecutionID, t.StepID, t.PluginID, t.Action,
		string(inputJSON), t.Status, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapErr("CreateTask", err)
	}

	t.CreatedAt = now
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, step_id, plugin_id, action, input, result, error,
			attempts, status, started_at, completed_at, created_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &maestroerrors.NotFoundError{Resource: "task", ID: id}
	}
	if err != nil {
		return nil, wrapErr("GetTask", err)
	}
	return t, nil
}

// GetTasksByExecution returns all tasks for an execution in creation
// order. rowid is insertion order and survives equal timestamps.
func (s *Store) GetTasksByExecution(ctx context.Context, executionID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, step_id, plugin_id, action, input, result, error,
			attempts, status, started_at, completed_at, created_at
		FROM tasks WHERE execution_id = ?
		ORDER BY rowid ASC
	`, executionID)
	if err != nil {
		return nil, wrapErr("GetTasksByExecution", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, wrapErr("GetTasksByExecution", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask applies a partial update to a task row. started_at is set
// iff the patch moves the task to running; completed_at iff it moves to
// a terminal status.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	set := ""
	args := []any{}
	now := time.Now().Format(time.RFC3339Nano)

	appendSet := func(clause string, val any) {
		if set != "" {
			set += ", "
		}
		set += clause
		args = append(args, val)
	}

	if patch.Status != nil {
		appendSet("status = ?", *patch.Status)
		if *patch.Status == StatusRunning {
			appendSet("started_at = ?", now)
		}
		if terminal(*patch.Status) {
			appendSet("completed_at = ?", now)
		}
	}
	if patch.Result != nil {
		resultJSON, err := json.Marshal(patch.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal task result: %w", err)
		}
		appendSet("result = ?", string(resultJSON))
	}
	if patch.Error != nil {
		appendSet("error = ?", nullString(*patch.Error))
	}
	if patch.Attempts != nil {
		appendSet("attempts = ?", *patch.Attempts)
	}

	if set == "" {
		return nil
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx, "UPDATE tasks SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return wrapErr("UpdateTask", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &maestroerrors.NotFoundError{Resource: "task", ID: id}
	}
	return nil
}

// scanTask scans one task row via the given Scan function.
func scanTask(scan func(dest ...any) error) (*Task, error) {
	var t Task
	var inputJSON, resultJSON, errorStr sql.NullString
	var startedAt, completedAt, createdAt sql.NullString

	err := scan(&t.ID, &t.ExecutionID, &t.StepID, &t.PluginID, &t.Action,
		&inputJSON, &resultJSON, &errorStr,
		&t.Attempts, &t.Status, &startedAt, &completedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &t.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task input: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &t.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task result: %w", err)
		}
	}
	if errorStr.Valid {
		t.Error = errorStr.String
	}
	t.StartedAt = parseTime(startedAt)
	t.CompletedAt = parseTime(completedAt)
	if ts := parseTime(createdAt); ts != nil {
		t.CreatedAt = *ts
	}
	return &t, nil
}
