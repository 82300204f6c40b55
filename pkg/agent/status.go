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

package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/status"
)

var _ status.Provider = (*Agent)(nil)

// Status implements status.Provider. The registry is copied under the lock;
// the returned summary shares no memory with the agent.
func (a *Agent) Status(ctx context.Context) (status.Summary, error) {
	snap, err := a.registry.Snapshot(ctx)
	if err != nil {
		return status.Summary{}, err
	}

	summary := status.Summary{
		Node: status.NodeInfo{
			ID:            a.ID(ctx),
			Name:          a.nodeName,
			Version:       a.version,
			State:         a.State(),
			StartedAt:     a.startedAt,
			UptimeSeconds: a.Uptime().Seconds(),
		},
		Pipelines:    make([]status.PipelineSummary, 0, len(snap)),
		RecentCycles: a.cycleStats(),
	}

	for _, id := range snap.IDs() {
		entry := snap[id]
		summary.Pipelines = append(summary.Pipelines, status.PipelineSummary{
			ID:          entry.ID,
			Fingerprint: entry.Fingerprint,
			StartedAt:   entry.StartedAt,
			Alive:       entry.Alive,
			Reloadable:  entry.Reloadable,
			System:      entry.System,
		})
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.lastCycle != nil {
		var cycle status.CycleSummary
		if err := deepcopy.Copy(&cycle, a.lastCycle); err != nil {
			return status.Summary{}, fmt.Errorf("failed to copy last cycle: %w", err)
		}

		summary.LastCycle = &cycle
	}

	return summary, nil
}

// cycleStats summarises the converge durations still held in the window.
func (a *Agent) cycleStats() status.CycleStats {
	var durations []time.Duration

	a.recentCycles.Range(func(_ time.Time, d time.Duration) bool {
		durations = append(durations, d)

		return true
	})

	if len(durations) == 0 {
		return status.CycleStats{}
	}

	slices.Sort(durations)

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	p95 := int(float64(len(durations)) * 0.95)
	if p95 >= len(durations) {
		p95 = len(durations) - 1
	}

	return status.CycleStats{
		Count: len(durations),
		MinMs: durations[0].Milliseconds(),
		AvgMs: (total / time.Duration(len(durations))).Milliseconds(),
		P95Ms: durations[p95].Milliseconds(),
		MaxMs: durations[len(durations)-1].Milliseconds(),
	}
}
