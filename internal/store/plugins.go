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
	"github.com/maestro-run/maestro/pkg/plugin"
)

// CreatePlugin inserts a new plugin row.
func (s *Store) CreatePlugin(ctx context.Context, p *plugin.Plugin) error {
	specJSON, err := json.Marshal(p.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal plugin spec: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plugins (id, name, image, digest, version, spec, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Name, p.Image, nullString(p.Digest), nullString(p.Version),
		string(specJSON), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapErr("CreatePlugin", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetPlugin retrieves a plugin by id.
func (s *Store) GetPlugin(ctx context.Context, id string) (*plugin.Plugin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, image, digest, version, spec, created_at, updated_at
		FROM plugins WHERE id = ?
	`, id)

	p, err := scanPlugin(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &maestroerrors.NotFoundError{Resource: "plugin", ID: id}
	}
	if err != nil {
		return nil, wrapErr("GetPlugin", err)
	}
	return p, nil
}

// ListPlugins returns all registered plugins ordered by id.
func (s *Store) ListPlugins(ctx context.Context) ([]*plugin.Plugin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, image, digest, version, spec, created_at, updated_at
		FROM plugins ORDER BY id
	`)
	if err != nil {
		return nil, wrapErr("ListPlugins", err)
	}
	defer rows.Close()

	var plugins []*plugin.Plugin
	for rows.Next() {
		p, err := scanPlugin(rows.Scan)
		if err != nil {
			return nil, wrapErr("ListPlugins", err)
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

// UpdatePlugin applies a partial update to a plugin row.
func (s *Store) UpdatePlugin(ctx context.Context, id string, patch PluginPatch) error {
	set := "updated_at = ?"
	args := []any{time.Now().Format(time.RFC3339Nano)}

	if patch.Digest != nil {
		set += ", digest = ?"
		args = append(args, nullString(*patch.Digest))
	}
	if patch.Version != nil {
		set += ", version = ?"
		args = append(args, nullString(*patch.Version))
	}
	if patch.Spec != nil {
		specJSON, err := json.Marshal(patch.Spec)
		if err != nil {
			return fmt.Errorf("failed to marshal plugin spec: %w", err)
		}
		set += ", spec = ?"
		args = append(args, string(specJSON))
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx, "UPDATE plugins SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return wrapErr("UpdatePlugin", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &maestroerrors.NotFoundError{Resource: "plugin", ID: id}
	}
	return nil
}

// scanPlugin scans one plugin row via the given Scan function.
func scanPlugin(scan func(dest ...any) error) (*plugin.Plugin, error) {
	var p plugin.Plugin
	var digest, version, specJSON sql.NullString
	var createdAt, updatedAt sql.NullString

	err := scan(&p.ID, &p.Name, &p.Image, &digest, &version, &specJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if digest.Valid {
		p.Digest = digest.String
	}
	if version.Valid {
		p.Version = version.String
	}
	if specJSON.Valid && specJSON.String != "" {
		if err := json.Unmarshal([]byte(specJSON.String), &p.Spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plugin spec: %w", err)
		}
	}
	if t := parseTime(createdAt); t != nil {
		p.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		p.UpdatedAt = *t
	}
	return &p, nil
}
