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

package main

import (
	"os"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
)

func main() {
	// Initialize the global logger first thing; run replaces it once the
	// settings are known.
	logger.Initialize()

	if err := newRootCommand().Execute(); err != nil {
		logger.For(logger.ComponentCore).Errorf("pipeline-agent failed: %v", err)
		_ = logger.Sync()

		os.Exit(1)
	}
}
