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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
	"github.com/maestro-run/maestro/pkg/plugin"
)

const (
	// DefaultNamespace is used when neither the plugin spec nor the
	// adapter configuration names one.
	DefaultNamespace = "plugins"

	// DefaultPort is the plugin service port when the spec lists none.
	DefaultPort = 8080

	// StepHeader carries the step id to the plugin for tracing.
	StepHeader = "X-Workflow-Step"
)

// HTTPAdapter invokes plugin actions over HTTP. Each invocation POSTs
// the resolved step input as JSON to the plugin's action endpoint.
type HTTPAdapter struct {
	client    *http.Client
	namespace string
}

// NewHTTPAdapter creates an adapter using the given client and default
// namespace for cluster-local plugin URLs. A nil client falls back to
// http.DefaultClient; per-attempt timeouts come from the request
// context, not the client.
func NewHTTPAdapter(client *http.Client, namespace string) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{client: client, namespace: namespace}
}

// Invoke POSTs input to the plugin's action endpoint and decodes the
// JSON response; any JSON value is a valid result. 4xx responses are
// permanent failures; 5xx and transport errors are transient and
// eligible for retry.
func (a *HTTPAdapter) Invoke(ctx context.Context, p *plugin.Plugin, action, stepID string, input map[string]interface{}) (interface{}, error) {
	url := a.actionURL(p, action)

	body, err := json.Marshal(input)
	if err != nil {
		return nil, &maestroerrors.PluginError{
			Plugin: p.ID, Action: action, Permanent: true,
			Message: "failed to encode input", Cause: err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &maestroerrors.PluginError{
			Plugin: p.ID, Action: action, Permanent: true,
			Message: "failed to build request", Cause: err,
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(StepHeader, stepID)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &maestroerrors.PluginError{
			Plugin: p.ID, Action: action,
			Message: "request failed", Cause: err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &maestroerrors.PluginError{
			Plugin: p.ID, Action: action,
			Message: "failed to read response", Cause: err,
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &maestroerrors.PluginError{
			Plugin: p.ID, Action: action,
			StatusCode: resp.StatusCode,
			Permanent:  resp.StatusCode < 500,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	var output interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &output); err != nil {
			return nil, &maestroerrors.PluginError{
				Plugin: p.ID, Action: action, StatusCode: resp.StatusCode,
				Message: "invalid JSON response", Cause: err,
			}
		}
	}
	return output, nil
}

// actionURL builds the endpoint for a plugin action. A configured base
// URL wins; otherwise the cluster-local service DNS name is derived
// from the plugin id, with dots mapped to hyphens. The namespace falls
// back from the plugin spec to the adapter's configured default.
func (a *HTTPAdapter) actionURL(p *plugin.Plugin, action string) string {
	if p.Spec.BaseURL != "" {
		return strings.TrimSuffix(p.Spec.BaseURL, "/") + "/" + action
	}

	namespace := a.namespace
	if p.Spec.Namespace != "" {
		namespace = p.Spec.Namespace
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	port := DefaultPort
	if len(p.Spec.Ports) > 0 {
		port = p.Spec.Ports[0]
	}

	service := strings.ReplaceAll(p.ID, ".", "-")
	return fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/%s", service, namespace, port, action)
}
