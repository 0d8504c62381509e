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

// Package store provides the durable SQLite persistence layer for
// workflows, executions, tasks, events and the task queue.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed single-writer store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens (creating if necessary) the store at cfg.Path.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite configuration options.
func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",   // Enable foreign key constraints
		"PRAGMA busy_timeout=5000", // 5 second timeout for lock contention
		"PRAGMA synchronous=NORMAL",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS plugins (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			image TEXT NOT NULL,
			digest TEXT,
			version TEXT,
			spec TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			spec TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (workflow_id) REFERENCES workflows(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			plugin_id TEXT NOT NULL,
			action TEXT NOT NULL,
			input TEXT,
			result TEXT,
			error TEXT,
			attempts INTEGER DEFAULT 0,
			status TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id),
			FOREIGN KEY (plugin_id) REFERENCES plugins(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_execution_id ON tasks(execution_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			data TEXT,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_execution_id ON events(execution_id)`,
		`CREATE TABLE IF NOT EXISTS task_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL UNIQUE,
			priority INTEGER DEFAULT 0,
			payload TEXT NOT NULL,
			max_retries INTEGER DEFAULT 3,
			retry_count INTEGER DEFAULT 0,
			scheduled_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_queue_status ON task_queue(status, scheduled_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying handle for collaborators that run their own
// SQL against store-owned tables (the persistent queue).
func (s *Store) DB() *sql.DB {
	return s.db
}

// execer is the write subset shared by *sql.DB and *sql.Tx, letting
// create helpers run standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BeginTx opens a write transaction. Callers that need several writes
// to commit or roll back together (workflow submission) run them
// through the *Tx method variants.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Ping verifies store reachability. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapErr classifies a write error into the store taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConstraintErr(err) {
		return &maestroerrors.ConstraintError{Op: op, Cause: err}
	}
	return &maestroerrors.StoreError{Op: op, Cause: err}
}

// isConstraintErr reports whether err is a SQLite constraint violation.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// Helper functions

// formatTime converts a *time.Time to RFC3339 string or nil.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// nullString returns nil if string is empty, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseTime parses an RFC3339 string into a *time.Time, nil on empty.
func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
