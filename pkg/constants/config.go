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
	// DefaultDataDir holds the identity token and rendered pipeline configs.
	DefaultDataDir = "/data"

	// DefaultSettingsPath is the agent settings file.
	DefaultSettingsPath = "/data/agent.yaml"

	// DefaultPipelinesPath is the file listing the desired pipelines.
	DefaultPipelinesPath = "/data/pipelines.yml"

	// IdentityFileName is the file below the data dir that stores the node id.
	IdentityFileName = "uuid"

	// ConfigFetchTimeout bounds one read of the pipelines file including retries.
	ConfigFetchTimeout = 5 * time.Second

	// ConfigFetchMaxRetries is how often a transient read failure is retried
	// within a single fetch.
	ConfigFetchMaxRetries = 3

	// ConfigWatchDebounce collapses bursts of file events (editors write files in
	// several steps) into one wakeup.
	ConfigWatchDebounce = 250 * time.Millisecond
)
