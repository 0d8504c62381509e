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

package api

import (
	"net/http"

	"github.com/maestro-run/maestro/internal/httputil"
)

// handleStats returns queue and execution counts.
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.engine.Stats(req.Context())
	if err != nil {
		r.writeDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

// handleHealth aggregates store reachability, the engine running flag
// and the registered plugin count. Any failing component degrades the
// response to 503.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	healthy := true

	storeStatus := "ok"
	if err := r.store.Ping(req.Context()); err != nil {
		storeStatus = "unreachable"
		healthy = false
	}

	engineStatus := "running"
	if !r.engine.Running() {
		engineStatus = "stopped"
		healthy = false
	}

	pluginCount := 0
	if plugins, err := r.store.ListPlugins(req.Context()); err == nil {
		pluginCount = len(plugins)
	} else {
		healthy = false
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	httputil.WriteJSON(w, status, map[string]any{
		"status":  overall,
		"store":   storeStatus,
		"engine":  engineStatus,
		"plugins": pluginCount,
		"version": r.config.Version,
	})
}
