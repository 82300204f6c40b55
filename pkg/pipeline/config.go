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

// Package pipeline describes desired pipelines and the execution units that
// run them.
package pipeline

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
)

// ErrEmptyID is returned by NewConfig for an empty pipeline id.
var ErrEmptyID = errors.New("pipeline id must not be empty")

// Settings are the runtime settings that take part in the fingerprint.
type Settings struct {
	Workers   int `json:"workers"    yaml:"workers"    toml:"workers"`
	BatchSize int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
}

// DefaultSettings returns the settings used when an entry leaves them unset.
func DefaultSettings() Settings {
	return Settings{
		Workers:   constants.DefaultPipelineWorkers,
		BatchSize: constants.DefaultPipelineBatchSize,
	}
}

// Config is one desired pipeline. Build it with NewConfig and treat it as a
// value; the fingerprint is only valid for the content and settings it was
// computed from.
type Config struct {
	ID          string   `json:"id"`
	Content     string   `json:"-"`
	Fingerprint string   `json:"fingerprint"`
	Settings    Settings `json:"settings"`
	Reloadable  bool     `json:"reloadable"`
	System      bool     `json:"system"`
}

// Option adjusts a Config before its fingerprint is computed.
type Option func(*Config)

// WithReloadable sets whether content changes may be applied by a restart.
func WithReloadable(reloadable bool) Option {
	return func(c *Config) { c.Reloadable = reloadable }
}

// WithSystem marks an agent-internal pipeline.
func WithSystem(system bool) Option {
	return func(c *Config) { c.System = system }
}

// WithSettings overrides the runtime settings. Zero fields keep their defaults.
func WithSettings(s Settings) Option {
	return func(c *Config) {
		if s.Workers > 0 {
			c.Settings.Workers = s.Workers
		}

		if s.BatchSize > 0 {
			c.Settings.BatchSize = s.BatchSize
		}
	}
}

// NewConfig builds a Config. Pipelines are reloadable unless an option says
// otherwise.
func NewConfig(id, content string, opts ...Option) (Config, error) {
	if id == "" {
		return Config{}, ErrEmptyID
	}

	cfg := Config{
		ID:         id,
		Content:    content,
		Settings:   DefaultSettings(),
		Reloadable: true,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.Fingerprint = Fingerprint(cfg.Content, cfg.Settings)

	return cfg, nil
}

// MustNewConfig is NewConfig for static configs and tests. It panics on error.
func MustNewConfig(id, content string, opts ...Option) Config {
	cfg, err := NewConfig(id, content, opts...)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Fingerprint hashes the content together with the settings that change how
// it runs. The result is 16 lowercase hex characters.
func Fingerprint(content string, settings Settings) string {
	h := xxhash.New()
	_, _ = h.WriteString(content)
	_, _ = h.WriteString("\x00workers=" + strconv.Itoa(settings.Workers))
	_, _ = h.WriteString("\x00batch_size=" + strconv.Itoa(settings.BatchSize))

	return fmt.Sprintf("%016x", h.Sum64())
}
