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

package status

import (
	"time"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
)

// NodeInfo describes the agent itself.
type NodeInfo struct {
	StartedAt     time.Time `json:"started_at"`
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	State         string    `json:"state"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// PipelineSummary is one Registry entry.
type PipelineSummary struct {
	StartedAt   time.Time `json:"started_at"`
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Alive       bool      `json:"alive"`
	Reloadable  bool      `json:"reloadable"`
	System      bool      `json:"system"`
}

// CycleSummary describes the most recent converge cycle. Failures maps
// "<action> <pipeline id>" to the failure message.
type CycleSummary struct {
	FinishedAt time.Time         `json:"finished_at"`
	Failures   map[string]string `json:"failures,omitempty"`
	Actions    []string          `json:"actions"`
	DurationMs int64             `json:"duration_ms"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
}

// CycleStats aggregates the converge cycles that finished within the
// recent window.
type CycleStats struct {
	Count int   `json:"count"`
	MinMs int64 `json:"min_ms"`
	AvgMs int64 `json:"avg_ms"`
	P95Ms int64 `json:"p95_ms"`
	MaxMs int64 `json:"max_ms"`
}

// Summary is the complete view served by the status API.
type Summary struct {
	LastCycle    *CycleSummary     `json:"last_cycle"`
	Node         NodeInfo          `json:"node"`
	Pipelines    []PipelineSummary `json:"pipelines"`
	RecentCycles CycleStats        `json:"recent_cycles"`
}

// ReloadStats is the body of /_node/stats/reloads.
type ReloadStats struct {
	Pipelines map[string]metrics.Stats `json:"pipelines"`
	Reloads   metrics.Stats            `json:"reloads"`
}
