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

// Package plugin defines registered plugin metadata and its validation.
// A plugin is an opaque external capability addressed by id; the
// orchestrator reaches it over HTTP or through an in-process adapter.
package plugin

import (
	"fmt"
	"regexp"
	"time"

	"github.com/maestro-run/maestro/pkg/errors"
)

// MaxIDLength bounds plugin ids and names.
const MaxIDLength = 255

var (
	idPattern    = regexp.MustCompile(`^[a-z0-9._-]+$`)
	imagePattern = regexp.MustCompile(`(?i)^[a-z0-9._/-]+:[a-z0-9._-]+$`)
)

// Plugin is a registered external capability.
type Plugin struct {
	// ID is the plugin identifier (lowercase letters, digits, '.', '-', '_')
	ID string `json:"id"`

	// Name is the human-readable plugin name
	Name string `json:"name"`

	// Image is the container image reference (registry/repo:tag)
	Image string `json:"image"`

	// Digest is the optional image digest
	Digest string `json:"digest,omitempty"`

	// Version is an optional version string
	Version string `json:"version,omitempty"`

	// Spec carries connection parameters and the action whitelist
	Spec Spec `json:"spec,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Spec is the plugin's connection document.
type Spec struct {
	// Exposes is an optional whitelist of action names. When non-empty,
	// steps may only invoke actions that appear in it.
	Exposes []string `json:"exposes,omitempty"`

	// BaseURL overrides cluster-local service URL construction
	BaseURL string `json:"baseUrl,omitempty"`

	// Ports lists the service ports; the first is used for dispatch
	Ports []int `json:"ports,omitempty"`

	// Namespace is the Kubernetes namespace the plugin service runs in
	Namespace string `json:"namespace,omitempty"`

	// Connection carries arbitrary plugin-specific connection parameters
	Connection map[string]interface{} `json:"connection,omitempty"`
}

// AllowsAction reports whether the action may be invoked on this
// plugin. An empty whitelist allows everything.
func (s *Spec) AllowsAction(action string) bool {
	if len(s.Exposes) == 0 {
		return true
	}
	for _, a := range s.Exposes {
		if a == action {
			return true
		}
	}
	return false
}

// Validate checks the plugin's identity fields and accumulates every
// violation so admission can report them together.
func (p *Plugin) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, &errors.ValidationError{
			Field:   "id",
			Message: "plugin id is required",
		})
	} else {
		if len(p.ID) > MaxIDLength {
			errs = append(errs, &errors.ValidationError{
				Field:   "id",
				Message: fmt.Sprintf("plugin id exceeds %d characters", MaxIDLength),
			})
		}
		if !idPattern.MatchString(p.ID) {
			errs = append(errs, &errors.ValidationError{
				Field:      "id",
				Message:    fmt.Sprintf("invalid plugin id: %s", p.ID),
				Suggestion: "ids may contain lowercase letters, digits, '.', '-' and '_'",
			})
		}
	}

	if p.Name == "" {
		errs = append(errs, &errors.ValidationError{
			Field:   "name",
			Message: "plugin name is required",
		})
	} else if len(p.Name) > MaxIDLength {
		errs = append(errs, &errors.ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("plugin name exceeds %d characters", MaxIDLength),
		})
	}

	if p.Image == "" {
		errs = append(errs, &errors.ValidationError{
			Field:   "image",
			Message: "plugin image is required",
		})
	} else if !imagePattern.MatchString(p.Image) {
		errs = append(errs, &errors.ValidationError{
			Field:      "image",
			Message:    fmt.Sprintf("invalid image reference: %s", p.Image),
			Suggestion: "use the registry/repo:tag form",
		})
	}

	return errs
}
