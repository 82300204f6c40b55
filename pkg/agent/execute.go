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
	"time"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/config"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/sentry"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/starvationchecker"
)

// Execute runs the first cycle immediately and then keeps the agent going
// until ctx is done.
//
// With auto-reconcile, a cycle runs every interval (sleeping first) and early
// whenever the source notifies a change. Without it, Execute polls pipeline
// liveness and returns once no user pipeline is alive any more.
//
// Execute returns ErrFatalStartup when auto-reconcile is disabled and the
// first cycle left the registry empty. It returns nil on cancellation.
//
// The starvation checker covers the first cycle too, so a Stop wedged during
// startup is flagged. Without auto-reconcile it stops after that cycle.
func (a *Agent) Execute(ctx context.Context) error {
	stopChecker := a.startStarvationChecker()
	defer stopChecker()

	if _, err := a.Converge(ctx); err != nil {
		if errors.Is(err, ErrShuttingDown) || ctx.Err() != nil {
			return nil
		}

		// fetch failures are retried by the loop below
		a.logger.Warnf("First converge cycle failed: %v", err)
	}

	if !a.autoReconcile {
		stopChecker()

		snap, err := a.registry.Snapshot(ctx)
		if err != nil {
			return nil
		}

		if len(snap) == 0 {
			sentry.ReportIssuef(sentry.IssueTypeError, a.logger,
				"[Agent.Execute] No pipeline running after startup with auto-reconcile disabled")

			return ErrFatalStartup
		}

		return a.waitForPipelines(ctx)
	}

	return a.reconcileLoop(ctx)
}

// startStarvationChecker installs a checker fed by cycleFinished. The
// returned func removes it and may be called more than once.
func (a *Agent) startStarvationChecker() func() {
	checker := starvationchecker.NewStarvationChecker(a.starvationThreshold)

	a.mu.Lock()
	a.starve = checker
	a.mu.Unlock()

	return func() {
		checker.Stop()

		a.mu.Lock()
		if a.starve == checker {
			a.starve = nil
		}
		a.mu.Unlock()
	}
}

// Starved reports whether the running checker currently sees no finished
// cycle within the starvation threshold.
func (a *Agent) Starved() bool {
	a.mu.RLock()
	checker := a.starve
	a.mu.RUnlock()

	return checker != nil && checker.Starved()
}

func (a *Agent) reconcileLoop(ctx context.Context) error {
	var changes <-chan struct{}
	if n, ok := a.source.(config.Notifier); ok {
		changes = n.Changes()
	}

	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	a.logger.Infof("Reconciling every %s", a.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-changes:
			a.logger.Debugf("Desired pipelines changed, converging early")
		}

		if _, err := a.Converge(ctx); err != nil {
			switch {
			case errors.Is(err, ErrShuttingDown), ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrConfigFetch):
				// already reported, keep the last known state
			default:
				a.logger.Errorf("Converge cycle failed: %v", err)
			}
		}

		timer.Reset(a.interval)
	}
}

// waitForPipelines returns once no user pipeline is alive. System pipelines
// do not keep the agent running.
func (a *Agent) waitForPipelines(ctx context.Context) error {
	ticker := time.NewTicker(constants.LivenessPollInterval)
	defer ticker.Stop()

	a.logger.Infof("Auto-reconcile disabled, waiting for pipelines to finish")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		snap, err := a.registry.Snapshot(ctx)
		if err != nil {
			return nil
		}

		if !userPipelineAlive(snap) {
			a.logger.Infof("All pipelines finished")

			return nil
		}
	}
}

func userPipelineAlive(snap registry.Snapshot) bool {
	for _, entry := range snap {
		if entry.Alive && !entry.System {
			return true
		}
	}

	return false
}
