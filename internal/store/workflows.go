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

// CreateWorkflow inserts a new workflow row.
func (s *Store) CreateWorkflow(ctx context.Context, w *Workflow) error {
	return createWorkflow(ctx, s.db, w)
}

// CreateWorkflowTx is CreateWorkflow inside an open transaction.
func (s *Store) CreateWorkflowTx(ctx context.Context, tx *sql.Tx, w *Workflow) error {
	return createWorkflow(ctx, tx, w)
}

func createWorkflow(ctx context.Context, db execer, w *Workflow) error {
	specJSON, err := json.Marshal(w.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow spec: %w", err)
	}

	now := time.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, spec, created_at)
		VALUES (?, ?, ?, ?)
	`, w.ID, w.Name, string(specJSON), now.Format(time.RFC3339Nano))
	if err != nil {
		return wrapErr("CreateWorkflow", err)
	}

	w.CreatedAt = now
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var w Workflow
	var specJSON string
	var createdAt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, spec, created_at FROM workflows WHERE id = ?
	`, id).Scan(&w.ID, &w.Name, &specJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &maestroerrors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, wrapErr("GetWorkflow", err)
	}

	if err := json.Unmarshal([]byte(specJSON), &w.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow spec: %w", err)
	}
	if t := parseTime(createdAt); t != nil {
		w.CreatedAt = *t
	}
	return &w, nil
}
