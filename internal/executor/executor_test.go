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

package executor

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-run/maestro/internal/registry"
	"github.com/maestro-run/maestro/internal/store"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
	"github.com/maestro-run/maestro/pkg/plugin"
	"github.com/maestro-run/maestro/pkg/workflow"
)

// fakeAdapter scripts a sequence of responses for successive attempts.
type fakeAdapter struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	output interface{}
	err    error
}

func (f *fakeAdapter) Invoke(ctx context.Context, p *plugin.Plugin, action, stepID string, input map[string]interface{}) (interface{}, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		return nil, &maestroerrors.PluginError{
			Plugin: p.ID, Action: action, Permanent: true, Message: "unscripted call",
		}
	}
	resp := f.responses[idx]
	return resp.output, resp.err
}

func createTestExecutor(t *testing.T, adapter Adapter, plugins ...*plugin.Plugin) *Executor {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(store.Config{Path: dbPath, WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, p := range plugins {
		require.NoError(t, s.CreatePlugin(ctx, p))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(registry.New(s), adapter, logger)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func echoPlugin() *plugin.Plugin {
	return &plugin.Plugin{ID: "echo", Name: "Echo", Image: "registry/echo:v1"}
}

func transientErr() error {
	return &maestroerrors.PluginError{Plugin: "echo", Action: "run", StatusCode: 503, Message: "unavailable"}
}

func TestExecuteSuccess(t *testing.T) {
	adapter := &fakeAdapter{responses: []fakeResponse{
		{output: map[string]interface{}{"echoed": "hi"}},
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	result, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
		Input: map[string]interface{}{"msg": "hi"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, map[string]interface{}{"echoed": "hi"}, result.Output)
}

func TestExecuteNonObjectOutput(t *testing.T) {
	adapter := &fakeAdapter{responses: []fakeResponse{
		{output: []interface{}{float64(1), float64(2), float64(3)}},
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	result, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, result.Output)
}

func TestExecuteRetryThenSuccess(t *testing.T) {
	adapter := &fakeAdapter{responses: []fakeResponse{
		{err: transientErr()},
		{output: map[string]interface{}{"ok": true}},
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	result, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
		Retry: &workflow.RetryPolicy{MaxAttempts: 2, Backoff: workflow.BackoffFixed},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, adapter.calls)
}

func TestExecuteTransientExhausted(t *testing.T) {
	adapter := &fakeAdapter{responses: []fakeResponse{
		{err: transientErr()},
		{err: transientErr()},
		{err: transientErr()},
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	result, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
		Retry: &workflow.RetryPolicy{MaxAttempts: 3, Backoff: workflow.BackoffFixed},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, adapter.calls)
}

func TestExecutePermanentNotRetried(t *testing.T) {
	adapter := &fakeAdapter{responses: []fakeResponse{
		{err: &maestroerrors.PluginError{Plugin: "echo", Action: "run", StatusCode: 400, Permanent: true, Message: "bad input"}},
		{output: map[string]interface{}{"never": "reached"}},
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	result, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
		Retry: &workflow.RetryPolicy{MaxAttempts: 3, Backoff: workflow.BackoffFixed},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, adapter.calls)

	var pe *maestroerrors.PluginError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Permanent)
}

func TestExecutePluginNotFound(t *testing.T) {
	e := createTestExecutor(t, &fakeAdapter{})

	result, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "missing", Action: "run",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, result.Attempts)

	var pe *maestroerrors.PluginError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Permanent)
	assert.Contains(t, pe.Error(), "plugin not registered")
}

func TestExecuteActionNotExposed(t *testing.T) {
	p := echoPlugin()
	p.Spec.Exposes = []string{"run"}
	e := createTestExecutor(t, &fakeAdapter{}, p)

	_, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "delete-everything",
	}, nil)
	require.Error(t, err)

	var pe *maestroerrors.PluginError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Permanent)
	assert.Contains(t, pe.Error(), "not exposed")
}

func TestExecuteBackoffDelays(t *testing.T) {
	adapter := &fakeAdapter{responses: []fakeResponse{
		{err: transientErr()},
		{err: transientErr()},
		{output: map[string]interface{}{}},
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	var delays []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
		Retry: &workflow.RetryPolicy{MaxAttempts: 3, Backoff: workflow.BackoffExponential},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
}

func TestExecuteFixedBackoffDelay(t *testing.T) {
	adapter := &fakeAdapter{responses: []fakeResponse{
		{err: transientErr()},
		{output: map[string]interface{}{}},
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	var delays []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
		Retry: &workflow.RetryPolicy{MaxAttempts: 2, Backoff: workflow.BackoffFixed},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{1 * time.Second}, delays)
}

func TestExecuteTemplateResolutionFlowsToAdapter(t *testing.T) {
	var seen map[string]interface{}
	adapter := &recordingAdapter{onInvoke: func(input map[string]interface{}) {
		seen = input
	}}
	e := createTestExecutor(t, adapter, echoPlugin())

	results := map[string]interface{}{
		"fetch": map[string]interface{}{"url": "https://ex/x"},
	}
	_, err := e.Execute(context.Background(), workflow.Step{
		ID: "b", Plugin: "echo", Action: "run",
		Input: map[string]interface{}{"u": "{{ steps.fetch.result.url }}"},
	}, results)
	require.NoError(t, err)
	assert.Equal(t, "https://ex/x", seen["u"])
}

func TestExecuteInProcessAdapterOverridesFallback(t *testing.T) {
	fallback := &fakeAdapter{responses: []fakeResponse{
		{err: &maestroerrors.PluginError{Plugin: "echo", Action: "run", Permanent: true, Message: "should not be called"}},
	}}
	e := createTestExecutor(t, fallback, echoPlugin())

	inProcess := &fakeAdapter{responses: []fakeResponse{
		{output: map[string]interface{}{"local": true}},
	}}
	e.RegisterAdapter("echo", inProcess)

	result, err := e.Execute(context.Background(), workflow.Step{
		ID: "a", Plugin: "echo", Action: "run",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"local": true}, result.Output)
	assert.Zero(t, fallback.calls)
}

// recordingAdapter captures the resolved input it receives.
type recordingAdapter struct {
	onInvoke func(input map[string]interface{})
}

func (r *recordingAdapter) Invoke(ctx context.Context, p *plugin.Plugin, action, stepID string, input map[string]interface{}) (interface{}, error) {
	r.onInvoke(input)
	return map[string]interface{}{}, nil
}
