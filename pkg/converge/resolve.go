// Copyright 2025 UMH Systems GmbH
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

package converge

import (
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
)

// Resolve computes the actions that turn current into desired. It has no side
// effects and returns the same list for the same inputs:
//
//   - Create, Reload and RejectReload follow the order of desired.
//   - Stop actions come last, sorted by id.
//
// A pipeline whose fingerprint is unchanged gets no action, even if its unit
// has died. When desired lists an id twice, the first entry wins.
func Resolve(current registry.Snapshot, desired []pipeline.Config) []Action {
	actions := make([]Action, 0, len(desired))
	wanted := make(map[string]struct{}, len(desired))

	for _, cfg := range desired {
		if _, dup := wanted[cfg.ID]; dup {
			continue
		}

		wanted[cfg.ID] = struct{}{}

		running, ok := current[cfg.ID]

		switch {
		case !ok:
			actions = append(actions, Create{Config: cfg})
		case running.Fingerprint == cfg.Fingerprint:
			// unchanged
		case running.Reloadable && cfg.Reloadable:
			actions = append(actions, Reload{Config: cfg})
		default:
			actions = append(actions, RejectReload{Config: cfg, RunningFingerprint: running.Fingerprint})
		}
	}

	for _, id := range current.IDs() {
		if _, ok := wanted[id]; !ok {
			actions = append(actions, Stop{ID: id})
		}
	}

	return actions
}
