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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InstanceLabel is the pipeline label value used for instance level metrics.
const InstanceLabel = "_agent"

// PrometheusSink exports converge metrics as Prometheus series.
//
//	umh_pipeline_agent_reloads_total{pipeline, result}
//	umh_pipeline_agent_reload_last_success_timestamp_seconds{pipeline}
//	umh_pipeline_agent_reload_last_failure_timestamp_seconds{pipeline}
//	umh_pipeline_agent_reload_error{pipeline}   1 while last_error is set
type PrometheusSink struct {
	results     *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	lastFailure *prometheus.GaugeVec
	hasError    *prometheus.GaugeVec
}

// NewPrometheusSink registers the sink's collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)

	return &PrometheusSink{
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reloads_total",
			Help:      "Converge outcomes per pipeline by result",
		}, []string{"pipeline", "result"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reload_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful reload",
		}, []string{"pipeline"}),
		lastFailure: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reload_last_failure_timestamp_seconds",
			Help:      "Unix time of the last failed action",
		}, []string{"pipeline"}),
		hasError: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reload_error",
			Help:      "1 while the pipeline has a recorded last error",
		}, []string{"pipeline"}),
	}
}

func pipelineLabel(key Key) string {
	if key.Pipeline == "" {
		return InstanceLabel
	}

	return key.Pipeline
}

func (p *PrometheusSink) Increment(key Key, delta int64) {
	switch key.Name {
	case NameSuccesses:
		p.results.WithLabelValues(pipelineLabel(key), "success").Add(float64(delta))
	case NameFailures:
		p.results.WithLabelValues(pipelineLabel(key), "failure").Add(float64(delta))
	}
}

func (p *PrometheusSink) Gauge(key Key, value any) {
	label := pipelineLabel(key)

	switch key.Name {
	case NameLastSuccessTimestamp:
		p.lastSuccess.WithLabelValues(label).Set(unixSeconds(value))
	case NameLastFailureTimestamp:
		p.lastFailure.WithLabelValues(label).Set(unixSeconds(value))
	case NameLastError:
		if v, ok := value.(*LastError); ok && v != nil {
			p.hasError.WithLabelValues(label).Set(1)
		} else {
			p.hasError.WithLabelValues(label).Set(0)
		}
	}
}

func unixSeconds(value any) float64 {
	t, ok := value.(time.Time)
	if !ok || t.IsZero() {
		return 0
	}

	return float64(t.UnixNano()) / float64(time.Second)
}
