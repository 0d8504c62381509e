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

// Package executor runs individual workflow steps against their
// plugins, with per-attempt timeouts and per-step retry policies.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/maestro-run/maestro/internal/metrics"
	"github.com/maestro-run/maestro/internal/registry"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
	"github.com/maestro-run/maestro/pkg/plugin"
	"github.com/maestro-run/maestro/pkg/workflow"
)

// Adapter dispatches one plugin invocation. The returned output may be
// any decoded JSON value. Implementations classify failures as
// permanent or transient via PluginError.Permanent.
type Adapter interface {
	Invoke(ctx context.Context, p *plugin.Plugin, action, stepID string, input map[string]interface{}) (interface{}, error)
}

// Result is the outcome of a step execution. On failure Output is nil
// but Attempts still records how many invocations were made, so the
// task row can report them.
type Result struct {
	// Output is the plugin's decoded response body; any JSON value.
	Output interface{}

	// Attempts is how many invocations were made, including the final
	// one.
	Attempts int
}

// Executor resolves a step's plugin and input, then invokes an adapter
// under the step's timeout and retry policy. Plugins may register a
// typed in-process adapter; everything else dispatches over HTTP.
type Executor struct {
	registry *registry.Registry
	fallback Adapter
	adapters map[string]Adapter
	logger   *slog.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor. fallback handles plugins without a
// registered in-process adapter, normally the HTTP adapter.
func New(reg *registry.Registry, fallback Adapter, logger *slog.Logger) *Executor {
	return &Executor{
		registry: reg,
		fallback: fallback,
		adapters: make(map[string]Adapter),
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// RegisterAdapter binds an in-process adapter to a plugin id,
// bypassing HTTP dispatch for that plugin's steps.
func (e *Executor) RegisterAdapter(pluginID string, a Adapter) {
	e.adapters[pluginID] = a
}

// adapterFor selects the adapter for a plugin id.
func (e *Executor) adapterFor(pluginID string) Adapter {
	if a, ok := e.adapters[pluginID]; ok {
		return a
	}
	return e.fallback
}

// Execute runs one step. results maps completed step ids to their
// outputs and feeds template resolution. Permanent failures return
// immediately; transient ones retry up to the step's attempt budget
// with backoff between attempts.
func (e *Executor) Execute(ctx context.Context, step workflow.Step, results map[string]interface{}) (*Result, error) {
	// Pre-dispatch failures still count as one attempt so terminal
	// tasks always report attempts >= 1.
	p, err := e.registry.Get(ctx, step.Plugin)
	if err != nil {
		var nf *maestroerrors.NotFoundError
		if maestroerrors.As(err, &nf) {
			return &Result{Attempts: 1}, &maestroerrors.PluginError{
				Plugin: step.Plugin, Action: step.Action, Permanent: true,
				Message: "plugin not registered",
			}
		}
		return &Result{Attempts: 1}, err
	}

	if !p.Spec.AllowsAction(step.Action) {
		return &Result{Attempts: 1}, &maestroerrors.PluginError{
			Plugin: step.Plugin, Action: step.Action, Permanent: true,
			Message: "action not exposed by plugin",
		}
	}

	input := ResolveInput(step.Input, results)
	timeout := time.Duration(step.TimeoutOrDefault()) * time.Millisecond
	maxAttempts := step.MaxAttempts()

	logger := e.logger.With(
		slog.String("step_id", step.ID),
		slog.String("plugin", step.Plugin),
		slog.String("action", step.Action),
	)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		output, err := e.invoke(ctx, p, step, input, timeout)
		duration := time.Since(start)

		if err == nil {
			metrics.RecordStep(step.Plugin, step.Action, "completed", duration)
			return &Result{Output: output, Attempts: attempt}, nil
		}
		lastErr = err
		metrics.RecordStep(step.Plugin, step.Action, "failed", duration)

		if !maestroerrors.IsRetryable(err) {
			logger.Warn("step failed permanently",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return &Result{Attempts: attempt}, err
		}

		if attempt < maxAttempts {
			delay := backoffDelay(step.Retry, attempt)
			logger.Warn("step attempt failed, retrying",
				slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts),
				slog.Duration("backoff", delay), slog.String("error", err.Error()))
			if serr := e.sleep(ctx, delay); serr != nil {
				return &Result{Attempts: attempt}, serr
			}
		}
	}

	logger.Warn("step failed after all attempts",
		slog.Int("attempts", maxAttempts), slog.String("error", lastErr.Error()))
	return &Result{Attempts: maxAttempts}, lastErr
}

// invoke runs a single attempt under the per-attempt timeout. A
// deadline hit is reported as a transient timeout error.
func (e *Executor) invoke(ctx context.Context, p *plugin.Plugin, step workflow.Step, input map[string]interface{}, timeout time.Duration) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.adapterFor(p.ID).Invoke(attemptCtx, p, step.Action, step.ID, input)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, &maestroerrors.TimeoutError{
			Operation: "plugin invoke",
			Duration:  timeout,
			Cause:     err,
		}
	}
	return output, err
}

// backoffDelay computes the wait before the next attempt. Exponential
// backoff doubles from 2 seconds; fixed backoff waits 1 second.
func backoffDelay(policy *workflow.RetryPolicy, attempt int) time.Duration {
	if policy != nil && policy.Backoff == workflow.BackoffExponential {
		return time.Duration(1<<attempt) * time.Second
	}
	return 1 * time.Second
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
