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

package workflow

import (
	"github.com/maestro-run/maestro/pkg/errors"
)

// Resolve produces a topological order of step ids, or an error if the
// DAG has a cycle or a dangling dependency.
//
// The traversal is a depth-first post-order over the steps in the order
// they appear in the spec, using a visiting set for cycle detection and
// a done set for memoisation. The order is therefore deterministic for
// a given spec: identical input always yields an identical order.
func Resolve(spec *Spec) ([]string, error) {
	byID := make(map[string]*Step, len(spec.Steps))
	for i := range spec.Steps {
		byID[spec.Steps[i].ID] = &spec.Steps[i]
	}

	visiting := make(map[string]bool, len(spec.Steps))
	done := make(map[string]bool, len(spec.Steps))
	order := make([]string, 0, len(spec.Steps))

	var visit func(step *Step) error
	visit = func(step *Step) error {
		if done[step.ID] {
			return nil
		}
		if visiting[step.ID] {
			return &errors.CycleError{StepID: step.ID}
		}
		visiting[step.ID] = true

		for _, need := range step.Needs {
			dep, ok := byID[need]
			if !ok {
				return &errors.MissingDependencyError{StepID: step.ID, NeededID: need}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		delete(visiting, step.ID)
		done[step.ID] = true
		order = append(order, step.ID)
		return nil
	}

	for i := range spec.Steps {
		if err := visit(&spec.Steps[i]); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// ReadySteps filters to the steps whose dependencies are all satisfied
// and which have not themselves completed. The engine executes steps
// sequentially in topological order and does not consult this today; it
// is the seam a parallel scheduler would build on.
func ReadySteps(steps []Step, completed map[string]bool) []Step {
	var ready []Step
	for _, step := range steps {
		if completed[step.ID] {
			continue
		}
		ok := true
		for _, need := range step.Needs {
			if !completed[need] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, step)
		}
	}
	return ready
}
