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

package metrics_test

import (
	"context"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
)

var _ = Describe("Store", func() {
	var store *metrics.Store

	BeforeEach(func() {
		store = metrics.NewStore()
	})

	It("accumulates counters per key", func() {
		store.Increment(metrics.PipelineKey("orders", metrics.NameSuccesses), 1)
		store.Increment(metrics.PipelineKey("orders", metrics.NameSuccesses), 2)
		store.Increment(metrics.InstanceKey(metrics.NameSuccesses), 1)

		Expect(store.Counter(metrics.PipelineKey("orders", metrics.NameSuccesses))).To(Equal(int64(3)))
		Expect(store.Instance().Successes).To(Equal(int64(1)))
	})

	It("distinguishes an initialised nil gauge from a missing one", func() {
		store.Gauge(metrics.PipelineKey("orders", metrics.NameLastError), nil)

		v, ok := store.GaugeValue(metrics.PipelineKey("orders", metrics.NameLastError))
		Expect(ok).To(BeTrue())
		Expect(v).To(BeNil())

		_, ok = store.GaugeValue(metrics.PipelineKey("billing", metrics.NameLastError))
		Expect(ok).To(BeFalse())
	})

	It("builds a stats view with copies of the gauges", func() {
		now := time.Now()
		lastErr := &metrics.LastError{Message: "boom", StackTrace: "trace"}

		store.Increment(metrics.PipelineKey("orders", metrics.NameFailures), 1)
		store.Gauge(metrics.PipelineKey("orders", metrics.NameLastError), lastErr)
		store.Gauge(metrics.PipelineKey("orders", metrics.NameLastFailureTimestamp), now)

		stats := store.Pipeline("orders")
		Expect(stats.Failures).To(Equal(int64(1)))
		Expect(stats.LastError).To(Equal(lastErr))
		Expect(stats.LastError).NotTo(BeIdenticalTo(lastErr))
		Expect(*stats.LastFailureTimestamp).To(BeTemporally("==", now))
		Expect(stats.LastSuccessTimestamp).To(BeNil())
	})

	It("lists pipelines sorted and without the instance", func() {
		store.Increment(metrics.PipelineKey("orders", metrics.NameSuccesses), 1)
		store.Gauge(metrics.PipelineKey("billing", metrics.NameLastError), nil)
		store.Increment(metrics.InstanceKey(metrics.NameFailures), 1)

		Expect(store.Pipelines()).To(Equal([]string{"billing", "orders"}))
	})
})

var _ = Describe("MultiSink", func() {
	It("forwards to every sink", func() {
		a, b := metrics.NewStore(), metrics.NewStore()
		sink := metrics.MultiSink{a, b}

		sink.Increment(metrics.InstanceKey(metrics.NameFailures), 2)
		sink.Gauge(metrics.InstanceKey(metrics.NameLastError), &metrics.LastError{Message: "x"})

		for _, s := range []*metrics.Store{a, b} {
			Expect(s.Instance().Failures).To(Equal(int64(2)))
			Expect(s.Instance().LastError.Message).To(Equal("x"))
		}
	})
})

var _ = Describe("PrometheusSink", func() {
	var (
		reg  *prometheus.Registry
		sink *metrics.PrometheusSink
	)

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
		sink = metrics.NewPrometheusSink(reg)
	})

	gather := func(name string) []*dto.Metric {
		families, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())

		for _, f := range families {
			if f.GetName() == name {
				return f.GetMetric()
			}
		}

		return nil
	}

	It("counts results per pipeline", func() {
		sink.Increment(metrics.PipelineKey("orders", metrics.NameSuccesses), 1)
		sink.Increment(metrics.PipelineKey("orders", metrics.NameFailures), 2)
		sink.Increment(metrics.InstanceKey(metrics.NameSuccesses), 1)

		Expect(counterValue(gather("umh_pipeline_agent_reloads_total"), "orders", "failure")).To(Equal(2.0))
		Expect(counterValue(gather("umh_pipeline_agent_reloads_total"), "orders", "success")).To(Equal(1.0))
		Expect(testutil.GatherAndCount(reg, "umh_pipeline_agent_reloads_total")).To(Equal(3))
	})

	It("exports timestamps as unix seconds and errors as a flag", func() {
		ts := time.Unix(1700000000, 0)
		sink.Gauge(metrics.PipelineKey("orders", metrics.NameLastSuccessTimestamp), ts)
		sink.Gauge(metrics.PipelineKey("orders", metrics.NameLastError), &metrics.LastError{Message: "boom"})

		success := gather("umh_pipeline_agent_reload_last_success_timestamp_seconds")
		Expect(success).To(HaveLen(1))
		Expect(success[0].GetGauge().GetValue()).To(Equal(1700000000.0))

		errFlag := gather("umh_pipeline_agent_reload_error")
		Expect(errFlag).To(HaveLen(1))
		Expect(errFlag[0].GetGauge().GetValue()).To(Equal(1.0))

		sink.Gauge(metrics.PipelineKey("orders", metrics.NameLastError), nil)
		Expect(gather("umh_pipeline_agent_reload_error")[0].GetGauge().GetValue()).To(Equal(0.0))
	})

	It("labels instance metrics with the instance label", func() {
		sink.Increment(metrics.InstanceKey(metrics.NameFailures), 1)

		series := gather("umh_pipeline_agent_reloads_total")
		Expect(series).To(HaveLen(1))
		Expect(series[0].GetLabel()).To(ContainElement(HaveField("GetValue()", metrics.InstanceLabel)))
	})

	It("is scrapeable in the text exposition format", func() {
		sink.Increment(metrics.PipelineKey("orders", metrics.NameSuccesses), 3)

		rec := httptest.NewRecorder()
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		var parser expfmt.TextParser
		families, err := parser.TextToMetricFamilies(rec.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(families).To(HaveKey("umh_pipeline_agent_reloads_total"))
		Expect(counterValue(families["umh_pipeline_agent_reloads_total"].GetMetric(), "orders", "success")).To(Equal(3.0))
	})
})

var _ = Describe("ProcessPoller", func() {
	It("rejects a non-positive interval", func() {
		_, err := metrics.NewProcessPoller(0, nil)
		Expect(err).To(HaveOccurred())
	})

	It("samples the own process until stopped", func() {
		poller, err := metrics.NewProcessPoller(20*time.Millisecond, nil)
		Expect(err).NotTo(HaveOccurred())

		poller.Start(context.Background())
		Eventually(func() time.Time { return poller.Latest().Time }, 2*time.Second, 10*time.Millisecond).ShouldNot(BeZero())
		Expect(poller.Latest().Goroutines).To(BeNumerically(">", 0))

		poller.Stop()
		poller.Stop()
	})
})

// counterValue returns the counter with the given pipeline and result labels.
func counterValue(series []*dto.Metric, pipeline, result string) float64 {
	for _, m := range series {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}

		if labels["pipeline"] == pipeline && labels["result"] == result {
			return m.GetCounter().GetValue()
		}
	}

	return -1
}
