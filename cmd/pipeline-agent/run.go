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
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/agent"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/config"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/identity"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/sentry"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/status"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/version"
)

func runAgent(cmd *cobra.Command, f *flags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := filesystem.NewDefaultService()

	settings, err := loadSettings(ctx, fs, cmd.Flags(), f)
	if err != nil {
		logger.For(logger.ComponentCore).Errorf("Failed to load settings: %v", err)

		return err
	}

	setupLogging(settings)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting pipeline-agent %s on node %s", version.GetAppVersion(), settings.Agent.NodeName)

	var metricsServer *http.Server
	if settings.Metrics.Port != 0 {
		metricsServer = metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", settings.Metrics.Port))
	}

	poller, err := metrics.NewProcessPoller(settings.Metrics.PollInterval, logger.For(logger.ComponentMetricsPoller))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Process stats disabled: %v", err)
	} else {
		poller.Start(ctx)
	}

	store := metrics.NewStore()
	sink := metrics.MultiSink{store, metrics.NewPrometheusSink(prometheus.DefaultRegisterer)}

	source, err := newSource(fs, settings, f.configString)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to set up the pipeline source: %v", err)

		return err
	}

	if fileSource, ok := source.(*config.FileSource); ok && settings.Agent.AutoReconcile {
		if err := fileSource.Watch(ctx); err != nil {
			// the interval still picks up changes
			log.Warnf("Not watching %s: %v", fileSource.Path(), err)
		}
	}

	a, err := agent.New(agent.Options{
		Source:        source,
		Factory:       newFactory(fs, settings),
		Identity:      identity.NewStore(fs, settings.Agent.DataDir),
		Sink:          sink,
		NodeName:      settings.Agent.NodeName,
		Version:       version.GetAppVersion(),
		Interval:      settings.Agent.ReconcileInterval,
		StopTimeout:   settings.Pipeline.StopTimeout,
		AutoReconcile: settings.Agent.AutoReconcile,
	})
	if err != nil {
		return err
	}

	log.Infof("Node id %s", a.ID(ctx))

	if poller != nil {
		a.OnShutdown("metrics poller", func(context.Context) error {
			poller.Stop()

			return nil
		})
	}

	if settings.API.Enabled {
		api := status.NewServer(fmt.Sprintf(":%d", settings.API.Port), a, store)
		if err := api.Start(); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Status API disabled: %v", err)
		} else {
			a.OnShutdown("status api", api.Shutdown)
		}
	}

	if metricsServer != nil {
		a.OnShutdown("metrics endpoint", metricsServer.Shutdown)
	}

	execErr := a.Execute(ctx)

	// pipelines get the full stop timeout, the collaborators a fixed budget each
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		settings.Pipeline.StopTimeout+3*constants.ShutdownCollaboratorTimeout+time.Second)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Shutdown incomplete: %v", err)
	}

	if errors.Is(execErr, agent.ErrFatalStartup) {
		log.Errorf("Exiting: %v", execErr)
	} else {
		log.Info("pipeline-agent stopped")
	}

	sentry.Flush(2 * time.Second)

	return execErr
}

// setupLogging replaces the bootstrap logger and attaches the Sentry hook
// when error reporting is enabled.
func setupLogging(settings config.Settings) {
	log := logger.New(settings.Logging.Level, logger.ParseFormat(settings.Logging.Format, logger.FormatPretty))

	if sentry.InitSentry(settings.Sentry.DSN, version.GetAppVersion(), true) {
		log = zap.New(sentry.NewSentryHook(log.Core()), zap.AddCaller())
	}

	logger.Replace(log)
}

func newSource(fs filesystem.Service, settings config.Settings, configString string) (config.Source, error) {
	if configString != "" {
		return config.NewMainSource(configString)
	}

	return config.NewFileSource(fs, settings.Agent.PipelinesPath), nil
}

func newFactory(fs filesystem.Service, settings config.Settings) *pipeline.ProcessFactory {
	factory := pipeline.NewProcessFactory(fs, settings.Pipeline.Command,
		filepath.Join(settings.Agent.DataDir, constants.PipelineConfigDirName))

	if len(settings.Pipeline.Args) > 0 {
		factory.Args = settings.Pipeline.Args
	}

	return factory
}
