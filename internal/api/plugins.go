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
	"encoding/json"
	"net/http"

	"github.com/maestro-run/maestro/internal/httputil"
	"github.com/maestro-run/maestro/internal/store"
	"github.com/maestro-run/maestro/pkg/plugin"
)

// handleRegisterPlugin registers a new plugin.
func (r *Router) handleRegisterPlugin(w http.ResponseWriter, req *http.Request) {
	var p plugin.Plugin
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		httputil.WriteErrorDetails(w, http.StatusBadRequest, "invalid JSON body", []string{err.Error()})
		return
	}

	if errs := p.Validate(); len(errs) > 0 {
		details := make([]string, len(errs))
		for i, e := range errs {
			details[i] = e.Error()
		}
		httputil.WriteErrorDetails(w, http.StatusBadRequest, "plugin validation failed", details)
		return
	}

	if err := r.store.CreatePlugin(req.Context(), &p); err != nil {
		r.writeDomainError(w, err)
		return
	}
	r.registry.Invalidate(p.ID)

	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "plugin registered",
		"plugin":  p,
	})
}

// handleUpdatePlugin applies a partial update to a registered plugin.
// Only digest, version and spec may change; identity fields are fixed
// at registration.
func (r *Router) handleUpdatePlugin(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")

	var body struct {
		Digest  *string      `json:"digest"`
		Version *string      `json:"version"`
		Spec    *plugin.Spec `json:"spec"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httputil.WriteErrorDetails(w, http.StatusBadRequest, "invalid JSON body", []string{err.Error()})
		return
	}

	patch := store.PluginPatch{Digest: body.Digest, Version: body.Version, Spec: body.Spec}
	if err := r.store.UpdatePlugin(req.Context(), id, patch); err != nil {
		r.writeDomainError(w, err)
		return
	}
	r.registry.Invalidate(id)

	p, err := r.store.GetPlugin(req.Context(), id)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "plugin updated",
		"plugin":  p,
	})
}

// handleGetPlugin returns one plugin by id.
func (r *Router) handleGetPlugin(w http.ResponseWriter, req *http.Request) {
	p, err := r.store.GetPlugin(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, p)
}

// handleListPlugins returns all registered plugins.
func (r *Router) handleListPlugins(w http.ResponseWriter, req *http.Request) {
	plugins, err := r.store.ListPlugins(req.Context())
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	if plugins == nil {
		plugins = []*plugin.Plugin{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"plugins": plugins,
	})
}
