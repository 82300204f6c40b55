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

package logger

const (
	// Core components
	ComponentCore              = "Core"
	ComponentAgent             = "Agent"
	ComponentConvergeLoop      = "ConvergeLoop"
	ComponentStarvationChecker = "StarveCheck"

	// Reconciliation
	ComponentRegistry = "Registry"
	ComponentExecutor = "Executor"

	// Collaborators
	ComponentConfigSource  = "ConfigSource"
	ComponentIdentity      = "Identity"
	ComponentStatusAPI     = "StatusAPI"
	ComponentMetricsPoller = "MetricsPoller"

	// ComponentPipeline is the prefix of per-pipeline loggers, see ForPipeline.
	ComponentPipeline = "Pipeline"
)

// FieldPipelineID is the structured field carrying the pipeline id. The pretty
// encoder renders it first.
const FieldPipelineID = "pipeline_id"
