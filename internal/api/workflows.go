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
	"github.com/maestro-run/maestro/pkg/workflow"
)

// maxExecutionsListed caps the executions list response.
const maxExecutionsListed = 50

// handleSubmit admits a workflow for execution.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var spec workflow.Spec
	if err := json.NewDecoder(req.Body).Decode(&spec); err != nil {
		httputil.WriteErrorDetails(w, http.StatusBadRequest, "invalid JSON body", []string{err.Error()})
		return
	}

	result, err := r.engine.Submit(req.Context(), &spec)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, result)
}

// handleStatus returns one execution with its tasks and events. Both
// /api/workflows/{id} and /api/executions/{id} resolve by execution id.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	status, err := r.engine.GetStatus(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, status)
}

// handleListExecutions returns the newest executions, at most 50.
func (r *Router) handleListExecutions(w http.ResponseWriter, req *http.Request) {
	executions, err := r.store.ListExecutions(req.Context(), maxExecutionsListed)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	if executions == nil {
		executions = []*store.ExecutionSummary{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
	})
}
