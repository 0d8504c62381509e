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

// Package queue provides the durable task queue backing workflow
// execution. Rows live in the store's task_queue table; dequeue order
// is priority descending, then insertion order among eligible rows.
// Failed rows are rescheduled with exponential backoff until their
// retry budget is exhausted.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Queue row statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Defaults applied by Enqueue when options are zero.
const (
	DefaultMaxRetries = 3
)

// Row is one durable queue entry.
type Row struct {
	ID          int64
	TaskID      string
	Priority    int
	Payload     []byte
	MaxRetries  int
	RetryCount  int
	ScheduledAt time.Time
	Status      string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Options configure an enqueue.
type Options struct {
	// Priority orders eligible rows; higher dequeues first. Default 0.
	Priority int

	// MaxRetries bounds processing attempts. Default 3.
	MaxRetries int

	// Delay postpones eligibility past the enqueue time. Default 0.
	Delay time.Duration
}

// Queue is a persistent FIFO-by-priority queue over the store's
// task_queue table. The injected clock keeps backoff scheduling
// deterministic under test.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a queue over the given database handle.
func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// SetClock replaces the queue's clock. Test use only.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// execer is the write subset shared by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Enqueue inserts a pending row. It returns false when a row with the
// same task id already exists; callers must surface that as an internal
// error since each submission mints a fresh execution id.
func (q *Queue) Enqueue(ctx context.Context, taskID string, payload []byte, opts Options) (bool, error) {
	return q.enqueue(ctx, q.db, taskID, payload, opts)
}

// EnqueueTx is Enqueue inside an open transaction, letting callers
// commit the queue row together with their own writes.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, taskID string, payload []byte, opts Options) (bool, error) {
	return q.enqueue(ctx, tx, taskID, payload, opts)
}

func (q *Queue) enqueue(ctx context.Context, db execer, taskID string, payload []byte, opts Options) (bool, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	now := q.now()
	scheduledAt := now.Add(opts.Delay)

	_, err := db.ExecContext(ctx, `
		INSERT INTO task_queue (task_id, priority, payload, max_retries, retry_count, scheduled_at, status, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`,
		taskID, opts.Priority, string(payload), maxRetries,
		scheduledAt.UnixMilli(), StatusPending, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}
	return true, nil
}

// Dequeue atomically selects the highest-priority eligible pending row
// and flips it to processing. Returns nil when nothing is eligible.
// The select-then-update pair runs inside one transaction; with the
// store's single write connection this yields exactly-once selection
// under concurrent dequeuers.
func (q *Queue) Dequeue(ctx context.Context) (*Row, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dequeue: %w", err)
	}
	defer tx.Rollback()

	now := q.now()
	row := tx.QueryRowContext(ctx, `
		SELECT id, task_id, priority, payload, max_retries, retry_count, scheduled_at, status, created_at
		FROM task_queue
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY priority DESC, id ASC
		LIMIT 1
	`, StatusPending, now.UnixMilli())

	var r Row
	var payload string
	var scheduledAt int64
	var createdAt sql.NullString
	err = row.Scan(&r.ID, &r.TaskID, &r.Priority, &payload, &r.MaxRetries,
		&r.RetryCount, &scheduledAt, &r.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queue row: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE task_queue SET status = ?, started_at = ? WHERE id = ? AND status = ?
	`, StatusProcessing, now.Format(time.RFC3339Nano), r.ID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to lease queue row: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Raced with another dequeuer; treat as empty.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dequeue: %w", err)
	}

	r.Payload = []byte(payload)
	r.ScheduledAt = time.UnixMilli(scheduledAt)
	r.Status = StatusProcessing
	started := now
	r.StartedAt = &started
	if t, perr := time.Parse(time.RFC3339Nano, createdAt.String); perr == nil {
		r.CreatedAt = t
	}
	return &r, nil
}

// Complete marks a processing row completed.
func (q *Queue) Complete(ctx context.Context, taskID string) error {
	now := q.now()
	result, err := q.db.ExecContext(ctx, `
		UPDATE task_queue SET status = ?, completed_at = ? WHERE task_id = ?
	`, StatusCompleted, now.Format(time.RFC3339Nano), taskID)
	if err != nil {
		return fmt.Errorf("failed to complete task %s: %w", taskID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &maestroerrors.NotFoundError{Resource: "queue task", ID: taskID}
	}
	return nil
}

// Fail records a processing failure. While retry budget remains, the
// row returns to pending with scheduled_at pushed out exponentially
// (2 s, 4 s, 8 s, ...); once exhausted it is marked failed.
func (q *Queue) Fail(ctx context.Context, taskID string, cause error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fail: %w", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	err = tx.QueryRowContext(ctx, `
		SELECT retry_count, max_retries FROM task_queue WHERE task_id = ?
	`, taskID).Scan(&retryCount, &maxRetries)
	if err == sql.ErrNoRows {
		return &maestroerrors.NotFoundError{Resource: "queue task", ID: taskID}
	}
	if err != nil {
		return fmt.Errorf("failed to read retry state for task %s: %w", taskID, err)
	}

	now := q.now()
	if retryCount+1 < maxRetries {
		retryCount++
		delay := time.Duration(1<<retryCount) * time.Second
		_, err = tx.ExecContext(ctx, `
			UPDATE task_queue SET status = ?, retry_count = ?, scheduled_at = ? WHERE task_id = ?
		`, StatusPending, retryCount, now.Add(delay).UnixMilli(), taskID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE task_queue SET status = ?, completed_at = ? WHERE task_id = ?
		`, StatusFailed, now.Format(time.RFC3339Nano), taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to fail task %s: %w", taskID, err)
	}

	return tx.Commit()
}

// Stats returns row counts grouped by status.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM task_queue GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Cleanup deletes terminal rows whose completed_at is older than age.
// Safe to run concurrently with enqueue and dequeue.
func (q *Queue) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := q.now().Add(-age).Format(time.RFC3339Nano)
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM task_queue
		WHERE status IN (?, ?) AND completed_at IS NOT NULL
			AND datetime(completed_at) < datetime(?)
	`, StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up queue: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// isUniqueErr reports whether err is a unique-constraint violation on
// the task_id key.
func isUniqueErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
