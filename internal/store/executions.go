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

// CreateExecution inserts a new execution row in the pending state.
func (s *Store) CreateExecution(ctx context.Context, id, workflowID string) (*Execution, error) {
	return createExecution(ctx, s.db, id, workflowID)
}

// CreateExecutionTx is CreateExecution inside an open transaction.
func (s *Store) CreateExecutionTx(ctx context.Context, tx *sql.Tx, id, workflowID string) (*Execution, error) {
	return createExecution(ctx, tx, id, workflowID)
}

func createExecution(ctx context.Context, db execer, id, workflowID string) (*Execution, error) {
	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, created_at)
		VALUES (?, ?, ?, ?)
	`, id, workflowID, StatusPending, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, wrapErr("CreateExecution", err)
	}

	return &Execution{
		ID:         id,
		WorkflowID: workflowID,
		Status:     StatusPending,
		CreatedAt:  now,
	}, nil
}

// GetExecution retrieves an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, result, error, started_at, completed_at, created_at
		FROM executions WHERE id = ?
	`, id)

	e, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &maestroerrors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, wrapErr("GetExecution", err)
	}
	return e, nil
}

// UpdateExecution applies a partial update to an execution row.
// When the patch moves the execution to running, started_at is set;
// when it moves to a terminal status, completed_at is set in the same
// write so the terminal invariant can never be observed half-applied.
func (s *Store) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error {
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
			return fmt.Errorf("failed to marshal execution result: %w", err)
		}
		appendSet("result = ?", string(resultJSON))
	}
	if patch.Error != nil {
		appendSet("error = ?", nullString(*patch.Error))
	}

	if set == "" {
		return nil
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx, "UPDATE executions SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return wrapErr("UpdateExecution", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &maestroerrors.NotFoundError{Resource: "execution", ID: id}
	}
	return nil
}

// ListExecutions returns the newest executions first, joined with the
// workflow name. Pending executions have no started_at yet, so ordering
// falls back to creation time for them. Timestamps are normalised with
// datetime() because RFC3339Nano trims trailing zeros, which breaks
// plain text comparison; rowid breaks sub-second ties in insertion
// order.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]*ExecutionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.workflow_id, e.status, e.result, e.error,
			e.started_at, e.completed_at, e.created_at, w.name
		FROM executions e
		JOIN workflows w ON w.id = e.workflow_id
		ORDER BY datetime(COALESCE(e.started_at, e.created_at)) DESC, e.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapErr("ListExecutions", err)
	}
	defer rows.Close()

	var summaries []*ExecutionSummary
	for rows.Next() {
		var sum ExecutionSummary
		e, err := scanExecution(func(dest ...any) error {
			dest = append(dest, &sum.WorkflowName)
			return rows.Scan(dest...)
		})
		if err != nil {
			return nil, wrapErr("ListExecutions", err)
		}
		sum.Execution = *e
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// GetExecutionStats returns execution counts grouped by status.
func (s *Store) GetExecutionStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM executions GROUP BY status
	`)
	if err != nil {
		return nil, wrapErr("GetExecutionStats", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, wrapErr("GetExecutionStats", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// scanExecution scans one execution row via the given Scan function.
func scanExecution(scan func(dest ...any) error) (*Execution, error) {
	var e Execution
	var resultJSON, errorStr sql.NullString
	var startedAt, completedAt, createdAt sql.NullString

	err := scan(&e.ID, &e.WorkflowID, &e.Status, &resultJSON, &errorStr,
		&startedAt, &completedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &e.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution result: %w", err)
		}
	}
	if errorStr.Valid {
		e.Error = errorStr.String
	}
	e.StartedAt = parseTime(startedAt)
	e.CompletedAt = parseTime(completedAt)
	if t := parseTime(createdAt); t != nil {
		e.CreatedAt = *t
	}
	return &e, nil
}
