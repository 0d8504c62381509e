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

package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	transient := &PluginError{Plugin: "echo", Action: "run", StatusCode: 503}
	assert.True(t, IsRetryable(transient))

	permanent := &PluginError{Plugin: "echo", Action: "run", StatusCode: 400, Permanent: true}
	assert.False(t, IsRetryable(permanent))

	// Wrapping must not hide the classification.
	assert.False(t, IsRetryable(fmt.Errorf("step a: %w", permanent)))
	assert.True(t, IsRetryable(fmt.Errorf("step a: %w", transient)))

	// Unclassified errors get the benefit of the retry policy.
	assert.True(t, IsRetryable(New("connection reset")))
}

func TestPluginErrorUnwrap(t *testing.T) {
	cause := New("dial tcp: connection refused")
	err := &PluginError{Plugin: "echo", Action: "run", Message: "request failed", Cause: cause}

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "echo")
	assert.Contains(t, err.Error(), "request failed")
}

func TestStoreErrorWrapsCause(t *testing.T) {
	cause := New("database is locked")
	err := &StoreError{Op: "CreateTask", Cause: cause}

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "CreateTask")
}

func TestResolverErrorMessages(t *testing.T) {
	assert.Contains(t, (&CycleError{StepID: "a"}).Error(), "Cycle")
	assert.Contains(t, (&MissingDependencyError{StepID: "a", NeededID: "ghost"}).Error(), "Dependency not found")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
}
