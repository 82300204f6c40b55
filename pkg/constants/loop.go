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

package constants

import "time"

const (
	// DefaultReconcileInterval is the sleep between two converge cycles when
	// auto-reconcile is enabled.
	// - Too small: config sources get polled more often than they change
	// - Too high: delayed response to configuration changes
	DefaultReconcileInterval = 3 * time.Second

	// LivenessPollInterval is how often the agent checks whether user pipelines
	// are still alive when auto-reconcile is disabled.
	LivenessPollInterval = 500 * time.Millisecond

	// StarvationThreshold defines when to consider the converge loop starved.
	// If no converge cycle finished for this duration, the starvation
	// detector will log warnings and record metrics. A Stop action that waits
	// on a wedged pipeline holds the reconciliation lock and shows up here.
	StarvationThreshold = 30 * time.Second

	// StarvationCheckInterval is how often the starvation checker wakes up.
	StarvationCheckInterval = time.Second

	// ShutdownCollaboratorTimeout bounds how long the agent waits for the metrics
	// poller and the status API to stop during shutdown.
	ShutdownCollaboratorTimeout = 3 * time.Second

	// CycleStatsWindow is how far back the status API aggregates converge durations.
	CycleStatsWindow = 5 * time.Minute

	// DefaultNodeName is used when neither the settings file nor NODE_NAME set one.
	DefaultNodeName = "pipeline-agent"
)
