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

package config

import (
	"context"
	"slices"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

// Source supplies the desired pipelines. Fetch is called once per converge
// cycle and returns the full desired set in declaration order.
type Source interface {
	Fetch(ctx context.Context) ([]pipeline.Config, error)
}

// Notifier is implemented by sources that can tell when the desired set may
// have changed. A receive on Changes is a hint, not a guarantee.
type Notifier interface {
	Changes() <-chan struct{}
}

// StaticSource always returns the same pipelines.
type StaticSource struct {
	configs []pipeline.Config
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource(configs ...pipeline.Config) *StaticSource {
	return &StaticSource{configs: slices.Clone(configs)}
}

// NewMainSource builds the source for a single pipeline given on the command line.
func NewMainSource(content string, opts ...pipeline.Option) (*StaticSource, error) {
	cfg, err := pipeline.NewConfig(constants.MainPipelineID, content, opts...)
	if err != nil {
		return nil, err
	}

	return NewStaticSource(cfg), nil
}

func (s *StaticSource) Fetch(ctx context.Context) ([]pipeline.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return slices.Clone(s.configs), nil
}
