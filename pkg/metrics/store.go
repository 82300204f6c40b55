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
	"sort"
	"sync"
	"time"
)

// Stats is the view of one pipeline, or of the instance, held by a Store.
type Stats struct {
	Successes            int64      `json:"successes"`
	Failures             int64      `json:"failures"`
	LastError            *LastError `json:"last_error"`
	LastSuccessTimestamp *time.Time `json:"last_success_timestamp"`
	LastFailureTimestamp *time.Time `json:"last_failure_timestamp"`
}

// Store is an in-memory Sink. The status API reads reload statistics from it.
type Store struct {
	counters map[Key]int64
	gauges   map[Key]any
	mu       sync.RWMutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		counters: make(map[Key]int64),
		gauges:   make(map[Key]any),
	}
}

func (s *Store) Increment(key Key, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key] += delta
}

func (s *Store) Gauge(key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gauges[key] = value
}

// Counter returns the counter value for key, zero when it was never touched.
func (s *Store) Counter(key Key) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.counters[key]
}

// GaugeValue returns the gauge for key. The bool reports whether it was ever set,
// which distinguishes an initialised nil gauge from a missing one.
func (s *Store) GaugeValue(key Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.gauges[key]

	return v, ok
}

// Instance returns the instance level stats.
func (s *Store) Instance() Stats {
	return s.stats("")
}

// Pipeline returns the stats of one pipeline.
func (s *Store) Pipeline(id string) Stats {
	return s.stats(id)
}

// Pipelines returns the ids that have at least one metric, sorted.
func (s *Store) Pipelines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})

	for k := range s.counters {
		if k.Pipeline != "" {
			seen[k.Pipeline] = struct{}{}
		}
	}

	for k := range s.gauges {
		if k.Pipeline != "" {
			seen[k.Pipeline] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (s *Store) stats(pipelineID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Successes: s.counters[Key{Pipeline: pipelineID, Name: NameSuccesses}],
		Failures:  s.counters[Key{Pipeline: pipelineID, Name: NameFailures}],
	}

	if v, ok := s.gauges[Key{Pipeline: pipelineID, Name: NameLastError}].(*LastError); ok && v != nil {
		copied := *v
		st.LastError = &copied
	}

	st.LastSuccessTimestamp = timeGauge(s.gauges[Key{Pipeline: pipelineID, Name: NameLastSuccessTimestamp}])
	st.LastFailureTimestamp = timeGauge(s.gauges[Key{Pipeline: pipelineID, Name: NameLastFailureTimestamp}])

	return st
}

func timeGauge(v any) *time.Time {
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}

	return &t
}
