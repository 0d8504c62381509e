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
)

// CreateEvent appends an event to an execution's log.
func (s *Store) CreateEvent(ctx context.Context, executionID, kind string, data map[string]interface{}) error {
	return createEvent(ctx, s.db, executionID, kind, data)
}

// CreateEventTx is CreateEvent inside an open transaction.
func (s *Store) CreateEventTx(ctx context.Context, tx *sql.Tx, executionID, kind string, data map[string]interface{}) error {
	return createEvent(ctx, tx, executionID, kind, data)
}

func createEvent(ctx context.Context, db execer, executionID, kind string, data map[string]interface{}) error {
	var dataJSON any
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		dataJSON = string(b)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO events (execution_id, kind, data, timestamp)
		VALUES (?, ?, ?, ?)
	`, executionID, kind, dataJSON, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return wrapErr("CreateEvent", err)
	}
	return nil
}

// GetEventsByExecution returns an execution's events in insertion
// order. The auto-increment id is the tiebreaker for equal timestamps.
func (s *Store) GetEventsByExecution(ctx context.Context, executionID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, kind, data, timestamp
		FROM events WHERE execution_id = ?
		ORDER BY id ASC
	`, executionID)
	if err != nil {
		return nil, wrapErr("GetEventsByExecution", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var dataJSON, timestamp sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Kind, &dataJSON, &timestamp); err != nil {
			return nil, wrapErr("GetEventsByExecution", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		if t := parseTime(timestamp); t != nil {
			e.Timestamp = *t
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
