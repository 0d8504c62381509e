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

// Package registry caches plugin records in front of the store so the
// executor does not hit SQLite for every step dispatch.
package registry

import (
	"context"
	"sync"

	"github.com/maestro-run/maestro/internal/store"
	"github.com/maestro-run/maestro/pkg/plugin"
)

// Registry is a read-through cache of plugin records. Lookups populate
// the cache from the store; writes to plugins must call Invalidate so
// later lookups see the new record.
type Registry struct {
	store *store.Store

	mu    sync.RWMutex
	cache map[string]*plugin.Plugin
}

// New creates a registry over the store.
func New(s *store.Store) *Registry {
	return &Registry{
		store: s,
		cache: make(map[string]*plugin.Plugin),
	}
}

// Get returns the plugin with the given id, from cache when present.
// A miss falls through to the store; not-found errors propagate.
func (r *Registry) Get(ctx context.Context, id string) (*plugin.Plugin, error) {
	r.mu.RLock()
	if p, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	p, err := r.store.GetPlugin(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = p
	r.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached record for id, if any.
func (r *Registry) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}
