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
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-run/maestro/internal/engine"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/queue"
	"github.com/maestro-run/maestro/internal/registry"
	"github.com/maestro-run/maestro/internal/store"
)

type apiHarness struct {
	server *httptest.Server
	store  *store.Store
	engine *engine.Engine
}

func createTestAPI(t *testing.T) *apiHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(store.Config{Path: dbPath, WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(s.DB())
	reg := registry.New(s)
	exec := executor.New(reg, executor.NewHTTPAdapter(nil, ""), logger)
	eng := engine.New(s, q, exec, logger)
	eng.Start()
	t.Cleanup(eng.Stop)

	router := NewRouter(RouterConfig{Version: "test"}, eng, s, reg, logger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiHarness{server: server, store: s, engine: eng}
}

func (h *apiHarness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (h *apiHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestSubmitWorkflow(t *testing.T) {
	h := createTestAPI(t)

	// The referenced plugin does not need to exist at admission time;
	// dispatch failures surface on the execution, not the submit.
	resp := h.post(t, "/api/workflows", map[string]any{
		"name": "lin",
		"steps": []map[string]any{
			{"id": "a", "plugin": "echo", "action": "run"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode(t, resp)
	assert.NotEmpty(t, body["executionId"])
	assert.NotEmpty(t, body["workflowId"])
}

func TestSubmitWorkflowCycle(t *testing.T) {
	h := createTestAPI(t)

	resp := h.post(t, "/api/workflows", map[string]any{
		"name": "cyc",
		"steps": []map[string]any{
			{"id": "a", "plugin": "echo", "action": "run", "needs": []string{"b"}},
			{"id": "b", "plugin": "echo", "action": "run", "needs": []string{"a"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode(t, resp)
	assert.Contains(t, body["message"], "Cycle")
}

func TestSubmitWorkflowMissingDependency(t *testing.T) {
	h := createTestAPI(t)

	resp := h.post(t, "/api/workflows", map[string]any{
		"name": "dangling",
		"steps": []map[string]any{
			{"id": "a", "plugin": "echo", "action": "run", "needs": []string{"ghost"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode(t, resp)
	assert.Contains(t, body["message"], "Dependency not found")
}

func TestSubmitWorkflowValidationDetails(t *testing.T) {
	h := createTestAPI(t)

	resp := h.post(t, "/api/workflows", map[string]any{
		"name": "bad name!",
		"steps": []map[string]any{
			{"id": "a"},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode(t, resp)
	details, ok := body["details"].([]interface{})
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(details), 3)
}

func TestSubmitWorkflowInvalidJSON(t *testing.T) {
	h := createTestAPI(t)

	resp, err := http.Post(h.server.URL+"/api/workflows", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetExecutionStatus(t *testing.T) {
	h := createTestAPI(t)

	resp := h.post(t, "/api/workflows", map[string]any{
		"name": "s",
		"steps": []map[string]any{
			{"id": "a", "plugin": "echo", "action": "run"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	executionID := decode(t, resp)["executionId"].(string)

	for _, path := range []string{"/api/executions/", "/api/workflows/"} {
		resp := h.get(t, path+executionID)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode(t, resp)
		execution := body["execution"].(map[string]interface{})
		assert.Equal(t, executionID, execution["id"])
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	h := createTestAPI(t)

	resp := h.get(t, "/api/executions/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListExecutions(t *testing.T) {
	h := createTestAPI(t)

	resp := h.get(t, "/api/executions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	executions, ok := body["executions"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, executions)
}

func TestRegisterPlugin(t *testing.T) {
	h := createTestAPI(t)

	resp := h.post(t, "/api/plugins", map[string]any{
		"id":    "echo",
		"name":  "Echo",
		"image": "registry/echo:v1",
		"spec":  map[string]any{"exposes": []string{"run"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "plugin registered", body["message"])

	resp = h.get(t, "/api/plugins/echo")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode(t, resp)
	assert.Equal(t, "echo", p["id"])

	resp = h.get(t, "/api/plugins")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode(t, resp)
	assert.Len(t, list["plugins"], 1)
}

func TestRegisterPluginValidation(t *testing.T) {
	h := createTestAPI(t)

	resp := h.post(t, "/api/plugins", map[string]any{
		"id":    "Bad ID!",
		"image": "no-tag",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode(t, resp)
	details := body["details"].([]interface{})
	assert.GreaterOrEqual(t, len(details), 3)
}

func TestUpdatePlugin(t *testing.T) {
	h := createTestAPI(t)

	resp := h.post(t, "/api/plugins", map[string]any{
		"id": "echo", "name": "Echo", "image": "registry/echo:v1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPut, h.server.URL+"/api/plugins/echo",
		bytes.NewReader([]byte(`{"version":"v2"}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	updated := body["plugin"].(map[string]interface{})
	assert.Equal(t, "v2", updated["version"])
}

func TestUpdatePluginNotFound(t *testing.T) {
	h := createTestAPI(t)

	req, err := http.NewRequest(http.MethodPut, h.server.URL+"/api/plugins/ghost",
		bytes.NewReader([]byte(`{"version":"v2"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetPluginNotFound(t *testing.T) {
	h := createTestAPI(t)

	resp := h.get(t, "/api/plugins/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStats(t *testing.T) {
	h := createTestAPI(t)

	resp := h.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Contains(t, body, "queue")
	assert.Contains(t, body, "executions")
}

func TestHealth(t *testing.T) {
	h := createTestAPI(t)

	resp := h.get(t, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "running", body["engine"])
}

func TestHealthDegradedWhenEngineStopped(t *testing.T) {
	h := createTestAPI(t)
	h.engine.Stop()

	// Give the processor a beat to fully settle.
	time.Sleep(10 * time.Millisecond)

	resp := h.get(t, "/api/health")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "stopped", body["engine"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := createTestAPI(t)

	resp := h.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRootEndpoint(t *testing.T) {
	h := createTestAPI(t)

	resp := h.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "maestrod", body["name"])
}
