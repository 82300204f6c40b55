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
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/converge"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/sentry"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/status"
)

// Converge runs one cycle: fetch, resolve, execute every action in order,
// then report. Cycles are serialized by the registry lock; a second caller
// blocks until the first one finished.
//
// A failed fetch is a no-op cycle returning ErrConfigFetch. Failed actions do
// not fail the cycle, they are recorded in the returned Result. ctx only
// bounds the fetch and waiting for the lock: once acquired, every action runs
// to completion.
func (a *Agent) Converge(ctx context.Context) (*converge.Result, error) {
	if a.State() == StateShuttingDown {
		return nil, ErrShuttingDown
	}

	start := time.Now()
	result := converge.NewResult()

	desired, err := a.source.Fetch(ctx)
	if err != nil {
		result.Seal()
		a.cycleFinished(start, result)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		metrics.IncErrorCount(metrics.ComponentConvergeLoop, "fetch")
		sentry.ReportIssueWithContext(err, sentry.IssueTypeWarning, a.logger.With("operation", "fetch"),
			map[string]interface{}{"operation": "fetch"})

		return result, fmt.Errorf("%w: %w", ErrConfigFetch, err)
	}

	a.logger.Debugf("Fetched %d desired pipelines: %v", len(desired), desiredIDs(desired))

	var (
		snap       registry.Snapshot
		stateErr   error
		actionsCtx = context.WithoutCancel(ctx)
	)

	err = a.registry.Apply(ctx, func(tx *registry.Tx) {
		if err := a.machine.Event(actionsCtx, EventConverge); err != nil {
			stateErr = err

			return
		}

		defer a.leaveConverging(actionsCtx)

		actions := converge.Resolve(tx.Snapshot(), desired)

		for _, action := range actions {
			outcome := a.executor.Execute(actionsCtx, tx, action)
			if err := result.Add(action, outcome); err != nil {
				a.logger.Errorf("Dropping outcome of %s: %v", action, err)
			}
		}

		result.Seal()
		snap = tx.Snapshot()
	})
	if err != nil {
		return nil, err
	}

	if stateErr != nil {
		var invalid fsm.InvalidEventError
		if errors.As(stateErr, &invalid) && a.State() == StateShuttingDown {
			return nil, ErrShuttingDown
		}

		return nil, fmt.Errorf("agent cannot converge in state %s: %w", a.State(), stateErr)
	}

	a.report(result, snap)
	a.cycleFinished(start, result)

	return result, nil
}

// leaveConverging returns to idle unless Shutdown moved the agent on.
func (a *Agent) leaveConverging(ctx context.Context) {
	if a.State() != StateConverging {
		return
	}

	if err := a.machine.Event(ctx, EventConverged); err != nil {
		a.logger.Debugf("Not returning to idle: %v", err)
	}
}

// report translates a sealed result into metrics and logs. It runs after the
// lock was released.
func (a *Agent) report(result *converge.Result, snap registry.Snapshot) {
	log := logger.For(logger.ComponentConvergeLoop)

	for _, rec := range result.Records() {
		id := rec.Action.PipelineID()
		kind := string(rec.Action.Kind())

		switch outcome := rec.Outcome.(type) {
		case converge.Success:
			metrics.IncConvergeAction(kind, "success")
			a.recordSuccess(rec.Action, outcome.ExecutedAt)
		case converge.Failure:
			metrics.IncConvergeAction(kind, "failure")
			a.recordFailure(id, outcome)
			sentry.ReportPipelineError(log.With("outcome", "failure"), id, kind, outcome)
		}
	}

	metrics.SetPipelinesRunning(len(snap.Alive()))

	switch failed := len(result.Failed()); {
	case result.Total() == 0:
		log.Debugf("Converged, nothing to do (%d running)", len(snap.Alive()))
	case failed > 0:
		log.Warnf("Converge cycle finished: %d actions, %d failed", result.Total(), failed)
	default:
		log.Infof("Converge cycle finished: %d actions", result.Total())
	}
}

func (a *Agent) recordSuccess(action converge.Action, at time.Time) {
	id := action.PipelineID()

	switch action.(type) {
	case converge.Create:
		// a fresh pipeline starts with clean stats
		a.sink.Increment(metrics.PipelineKey(id, metrics.NameSuccesses), 0)
		a.sink.Increment(metrics.PipelineKey(id, metrics.NameFailures), 0)
		a.sink.Gauge(metrics.PipelineKey(id, metrics.NameLastError), nil)
		a.sink.Gauge(metrics.PipelineKey(id, metrics.NameLastSuccessTimestamp), nil)
		a.sink.Gauge(metrics.PipelineKey(id, metrics.NameLastFailureTimestamp), nil)
	case converge.Reload:
		for _, key := range []metrics.Key{metrics.InstanceKey(""), metrics.PipelineKey(id, "")} {
			key.Name = metrics.NameSuccesses
			a.sink.Increment(key, 1)
			key.Name = metrics.NameLastSuccessTimestamp
			a.sink.Gauge(key, at)
		}
	}
}

func (a *Agent) recordFailure(id string, failure converge.Failure) {
	now := time.Now()
	lastErr := &metrics.LastError{Message: failure.Message, StackTrace: failure.StackTrace}

	for _, key := range []metrics.Key{metrics.InstanceKey(""), metrics.PipelineKey(id, "")} {
		key.Name = metrics.NameFailures
		a.sink.Increment(key, 1)
		key.Name = metrics.NameLastError
		a.sink.Gauge(key, lastErr)
		key.Name = metrics.NameLastFailureTimestamp
		a.sink.Gauge(key, now)
	}
}

func (a *Agent) cycleFinished(start time.Time, result *converge.Result) {
	elapsed := time.Since(start)
	metrics.ObserveConvergeTime(metrics.ComponentConvergeLoop, "main", elapsed)
	a.recentCycles.Set(time.Now(), elapsed)

	summary := &status.CycleSummary{
		FinishedAt: time.Now(),
		DurationMs: elapsed.Milliseconds(),
		Actions:    make([]string, 0, result.Total()),
		Successful: len(result.Successful()),
		Failed:     len(result.Failed()),
	}

	for _, rec := range result.Records() {
		summary.Actions = append(summary.Actions, rec.Action.String())

		if f, ok := rec.Outcome.(converge.Failure); ok {
			if summary.Failures == nil {
				summary.Failures = make(map[string]string)
			}

			summary.Failures[string(rec.Action.Kind())+" "+rec.Action.PipelineID()] = f.Message
		}
	}

	a.mu.Lock()
	a.lastCycle = summary
	starve := a.starve
	a.mu.Unlock()

	if starve != nil {
		starve.CycleFinished()
	}
}

func desiredIDs(configs []pipeline.Config) []string {
	ids := make([]string, len(configs))
	for i, cfg := range configs {
		ids[i] = cfg.ID
	}

	return ids
}
