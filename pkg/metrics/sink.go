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

// Metric names recorded per pipeline and at instance level.
const (
	NameSuccesses            = "successes"
	NameFailures             = "failures"
	NameLastError            = "last_error"
	NameLastSuccessTimestamp = "last_success_timestamp"
	NameLastFailureTimestamp = "last_failure_timestamp"
)

// Key addresses one metric. An empty Pipeline is the agent instance itself.
type Key struct {
	Pipeline string
	Name     string
}

// InstanceKey returns the instance level key for name.
func InstanceKey(name string) Key {
	return Key{Name: name}
}

// PipelineKey returns the key for name on one pipeline.
func PipelineKey(pipelineID, name string) Key {
	return Key{Pipeline: pipelineID, Name: name}
}

// LastError is the gauge value stored under NameLastError.
type LastError struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Sink receives converge metrics. Gauge values are time.Time for the
// timestamps, *LastError for last_error and nil to reset either.
type Sink interface {
	Increment(key Key, delta int64)
	Gauge(key Key, value any)
}

// MultiSink forwards to every wrapped sink in order.
type MultiSink []Sink

func (m MultiSink) Increment(key Key, delta int64) {
	for _, s := range m {
		s.Increment(key, delta)
	}
}

func (m MultiSink) Gauge(key Key, value any) {
	for _, s := range m {
		s.Gauge(key, value)
	}
}
