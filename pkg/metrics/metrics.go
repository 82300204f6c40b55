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

package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/sentry"
)

const (
	// Component labels for errors_total.
	ComponentConvergeLoop  = "converge_loop"
	ComponentExecutor      = "executor"
	ComponentConfigSource  = "config_source"
	ComponentIdentity      = "identity"
	ComponentStatusAPI     = "status_api"
	ComponentMetricsPoller = "metrics_poller"
	ComponentPipeline      = "pipeline"
	ComponentFilesystem    = "filesystem"
)

var (
	namespace = "umh"
	subsystem = "pipeline_agent"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	convergeTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "converge_duration_milliseconds",
			Help:      "Time taken by one converge cycle (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.95: 0.01,
				0.99: 0.01,
			},
		},
		[]string{"component", "instance"},
	)

	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "converge_starved_total_seconds",
			Help:      "Total seconds the converge loop was starved",
		},
	)

	pipelinesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipelines_running",
			Help:      "Number of pipelines in the registry after the last converge cycle",
		},
	)

	convergeActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "converge_actions_total",
			Help:      "Executed converge actions by kind and outcome",
		},
		[]string{"action", "outcome"},
	)
)

// SetupMetricsEndpoint starts an HTTP server exposing the default registry
// on /metrics. It should be called once at startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: constants.APIReadTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentCore))
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter for a component and logs
// the error at debug level, together with all goroutine stacks.
func IncErrorCountAndLog(component, instance string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if log != nil && log.Level().Enabled(zap.DebugLevel) {
		buf := make([]byte, 1024*1024)
		n := runtime.Stack(buf, true)
		log.Debugf("Component %s instance %s failed: %v\n%s", component, instance, err, buf[:n])
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveConvergeTime records the duration of a converge cycle.
func ObserveConvergeTime(component, instance string, duration time.Duration) {
	convergeTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime increases the starvation counter by the specified seconds.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// SetPipelinesRunning publishes the registry size.
func SetPipelinesRunning(n int) {
	pipelinesRunning.Set(float64(n))
}

// IncConvergeAction counts one executed action.
func IncConvergeAction(action, outcome string) {
	convergeActions.WithLabelValues(action, outcome).Inc()
}
