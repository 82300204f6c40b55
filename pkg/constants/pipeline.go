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
	// MainPipelineID is the id given to the pipeline defined on the command line.
	MainPipelineID = "main"

	// DefaultStopTimeout bounds the join on a stopping pipeline. The reconciliation
	// lock is held while waiting, so this is also the worst case a single wedged
	// pipeline can delay the following converge cycle.
	DefaultStopTimeout = 60 * time.Second

	// StopStallReportInterval is how often a still-running pipeline is reported
	// while a Stop action waits for it.
	StopStallReportInterval = 5 * time.Second

	// DefaultPipelineWorkers and DefaultPipelineBatchSize are applied to pipeline
	// entries that do not set them.
	DefaultPipelineWorkers   = 1
	DefaultPipelineBatchSize = 125

	// DefaultPipelineCommand is the data-processing binary started per pipeline.
	DefaultPipelineCommand = "benthos"

	// PipelineConfigPlaceholder is replaced with the rendered pipeline config path
	// in the pipeline command arguments.
	PipelineConfigPlaceholder = "{config}"

	// PipelineKillGracePeriod is how long a pipeline process gets between SIGTERM
	// and SIGKILL once its context is cancelled.
	PipelineKillGracePeriod = 10 * time.Second

	// PipelineConfigDirName is the directory below the data dir holding rendered
	// pipeline configs.
	PipelineConfigDirName = "pipelines"
)
