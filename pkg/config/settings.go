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

// Package config loads the agent settings and the desired pipelines.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the agent settings file.
type Settings struct {
	Agent    AgentSettings    `yaml:"agent"`
	Pipeline PipelineSettings `yaml:"pipeline"`
	Logging  LoggingSettings  `yaml:"logging"`
	Sentry   SentrySettings   `yaml:"sentry"`
	API      APISettings      `yaml:"api"`
	Metrics  MetricsSettings  `yaml:"metrics"`
}

type AgentSettings struct {
	NodeName          string        `yaml:"nodeName"`
	DataDir           string        `yaml:"dataDir"`
	PipelinesPath     string        `yaml:"pipelinesPath"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	AutoReconcile     bool          `yaml:"autoReconcile"`
}

type PipelineSettings struct {
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

type APISettings struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
}

type MetricsSettings struct {
	Port         int           `yaml:"port"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

type SentrySettings struct {
	DSN string `yaml:"dsn"`
}

type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Agent: AgentSettings{
			NodeName:          constants.DefaultNodeName,
			DataDir:           constants.DefaultDataDir,
			PipelinesPath:     constants.DefaultPipelinesPath,
			ReconcileInterval: constants.DefaultReconcileInterval,
			AutoReconcile:     true,
		},
		Pipeline: PipelineSettings{
			Command:     constants.DefaultPipelineCommand,
			StopTimeout: constants.DefaultStopTimeout,
		},
		API: APISettings{
			Enabled: true,
			Port:    constants.DefaultAPIPort,
		},
		Metrics: MetricsSettings{
			Port:         constants.DefaultMetricsPort,
			PollInterval: constants.DefaultMetricsPollInterval,
		},
		Logging: LoggingSettings{
			Level:  string(logger.ProductionLevel),
			Format: string(logger.FormatPretty),
		},
	}
}

// LoadSettings reads the settings file over the defaults and applies the
// environment overrides. A missing file is not an error.
//
// Order of precedence (highest to lowest):
//  1. Environment variables
//  2. Settings file
//  3. Defaults
//
// Command line flags are applied by the caller afterwards, followed by Validate.
func LoadSettings(ctx context.Context, fs filesystem.Service, path string) (Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		data, err := fs.ReadFile(ctx, path)

		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.For(logger.ComponentConfigSource).Infof("No settings file at %s, using defaults", path)
		case err != nil:
			return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
		default:
			if err := decodeSettings(data, &settings); err != nil {
				return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
			}
		}
	}

	if err := settings.ApplyEnv(); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func decodeSettings(data []byte, settings *Settings) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	return dec.Decode(settings)
}

// ApplyEnv overrides fields from the environment. Unset variables keep the
// current value.
func (s *Settings) ApplyEnv() error {
	var errs []error

	str := func(key string, target *string) {
		v, err := env.GetAsString(key, false, *target)
		if err != nil {
			errs = append(errs, err)

			return
		}

		*target = v
	}

	boolean := func(key string, target *bool) {
		v, err := env.GetAsBool(key, false, *target)
		if err != nil {
			errs = append(errs, err)

			return
		}

		*target = v
	}

	integer := func(key string, target *int) {
		v, err := env.GetAsInt(key, false, *target)
		if err != nil {
			errs = append(errs, err)

			return
		}

		*target = v
	}

	duration := func(key string, target *time.Duration) {
		raw, err := env.GetAsString(key, false, "")
		if err != nil || raw == "" {
			return
		}

		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("environment variable %s is not a duration: %w", key, err))

			return
		}

		*target = d
	}

	str("NODE_NAME", &s.Agent.NodeName)
	str("DATA_DIR", &s.Agent.DataDir)
	str("PIPELINES_PATH", &s.Agent.PipelinesPath)
	boolean("AUTO_RECONCILE", &s.Agent.AutoReconcile)
	duration("RECONCILE_INTERVAL", &s.Agent.ReconcileInterval)
	duration("STOP_TIMEOUT", &s.Pipeline.StopTimeout)
	str("PIPELINE_COMMAND", &s.Pipeline.Command)
	boolean("API_ENABLED", &s.API.Enabled)
	integer("API_PORT", &s.API.Port)
	integer("METRICS_PORT", &s.Metrics.Port)
	duration("METRICS_POLL_INTERVAL", &s.Metrics.PollInterval)
	str("SENTRY_DSN", &s.Sentry.DSN)
	str("LOGGING_LEVEL", &s.Logging.Level)
	str("LOGGING_FORMAT", &s.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}

	return nil
}

// Validate reports every problem at once.
func (s Settings) Validate() error {
	var errs []error

	if s.Agent.DataDir == "" {
		errs = append(errs, errors.New("agent.dataDir must not be empty"))
	}

	if s.Agent.PipelinesPath == "" {
		errs = append(errs, errors.New("agent.pipelinesPath must not be empty"))
	}

	if s.Agent.ReconcileInterval <= 0 {
		errs = append(errs, fmt.Errorf("agent.reconcileInterval must be positive, got %s", s.Agent.ReconcileInterval))
	}

	if s.Pipeline.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.stopTimeout must be positive, got %s", s.Pipeline.StopTimeout))
	}

	if s.Pipeline.Command == "" {
		errs = append(errs, errors.New("pipeline.command must not be empty"))
	}

	if s.API.Enabled && !validPort(s.API.Port) {
		errs = append(errs, fmt.Errorf("api.port %d is out of range", s.API.Port))
	}

	if s.Metrics.Port != 0 && !validPort(s.Metrics.Port) {
		errs = append(errs, fmt.Errorf("metrics.port %d is out of range", s.Metrics.Port))
	}

	if s.Metrics.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.pollInterval must be positive, got %s", s.Metrics.PollInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}

	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
