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
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/config"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/version"
)

// flags holds the command line overrides. Only flags the user actually set
// are applied over the settings file and the environment.
type flags struct {
	settingsPath      string
	pipelinesPath     string
	configString      string
	dataDir           string
	nodeName          string
	pipelineCommand   string
	logLevel          string
	logFormat         string
	reconcileInterval time.Duration
	stopTimeout       time.Duration
	apiPort           int
	metricsPort       int
	autoReconcile     bool
	apiEnabled        bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "pipeline-agent",
		Short:         "Keeps a set of data pipelines running as declared",
		Version:       version.GetAppVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindSourceFlags(root.PersistentFlags(), f)

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, f)
		},
	}

	bindRunFlags(run.Flags(), f)

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the pipelines once and print their ids and fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validatePipelines(cmd, f)
		},
	}

	root.AddCommand(run, validate)

	return root
}

// bindSourceFlags registers the flags shared by every subcommand.
func bindSourceFlags(set *pflag.FlagSet, f *flags) {
	set.StringVar(&f.settingsPath, "settings", constants.DefaultSettingsPath, "agent settings file")
	set.StringVar(&f.pipelinesPath, "pipelines", "", "pipelines file (.yml, .yaml, .json or .toml)")
	set.StringVar(&f.configString, "config-string", "", "run a single pipeline with this content instead of a pipelines file")
	set.StringVar(&f.dataDir, "data-dir", "", "directory for the node id and rendered pipeline configs")
}

func bindRunFlags(set *pflag.FlagSet, f *flags) {
	set.StringVar(&f.nodeName, "node-name", "", "name reported by the status API")
	set.StringVar(&f.pipelineCommand, "pipeline-command", "", "binary started per pipeline")
	set.StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	set.StringVar(&f.logFormat, "log-format", "", "CONSOLE, JSON or PRETTY")
	set.BoolVar(&f.autoReconcile, "auto-reconcile", true, "converge on an interval instead of once at startup")
	set.DurationVar(&f.reconcileInterval, "reconcile-interval", 0, "sleep between converge cycles")
	set.DurationVar(&f.stopTimeout, "stop-timeout", 0, "how long a stopping pipeline may take")
	set.BoolVar(&f.apiEnabled, "api", true, "serve the status API")
	set.IntVar(&f.apiPort, "api-port", 0, "status API port")
	set.IntVar(&f.metricsPort, "metrics-port", 0, "prometheus port, 0 keeps the configured one")
}

// loadSettings resolves the settings with the precedence
// flags > environment > settings file > defaults.
func loadSettings(ctx context.Context, fs filesystem.Service, set *pflag.FlagSet, f *flags) (config.Settings, error) {
	settings, err := config.LoadSettings(ctx, fs, f.settingsPath)
	if err != nil {
		return config.Settings{}, err
	}

	applyFlags(set, f, &settings)

	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}

	return settings, nil
}

func applyFlags(set *pflag.FlagSet, f *flags, s *config.Settings) {
	changed := func(name string) bool {
		fl := set.Lookup(name)

		return fl != nil && fl.Changed
	}

	if changed("pipelines") {
		s.Agent.PipelinesPath = f.pipelinesPath
	}

	if changed("data-dir") {
		s.Agent.DataDir = f.dataDir
	}

	if changed("node-name") {
		s.Agent.NodeName = f.nodeName
	}

	if changed("auto-reconcile") {
		s.Agent.AutoReconcile = f.autoReconcile
	}

	if changed("reconcile-interval") {
		s.Agent.ReconcileInterval = f.reconcileInterval
	}

	if changed("stop-timeout") {
		s.Pipeline.StopTimeout = f.stopTimeout
	}

	if changed("pipeline-command") {
		s.Pipeline.Command = f.pipelineCommand
	}

	if changed("api") {
		s.API.Enabled = f.apiEnabled
	}

	if changed("api-port") {
		s.API.Port = f.apiPort
	}

	if changed("metrics-port") {
		s.Metrics.Port = f.metricsPort
	}

	if changed("log-level") {
		s.Logging.Level = f.logLevel
	}

	if changed("log-format") {
		s.Logging.Format = f.logFormat
	}
}
