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

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/converge"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
)

// Shutdown stops the collaborators registered with OnShutdown, in order,
// then every pipeline. Pipelines are asked to stop together and joined in
// parallel, each bounded by the stop timeout. Every stop is recorded as a
// Stop outcome and reported to the metrics sink; pipelines that do not stop
// in time stay registered and are reported in the returned error.
//
// Shutdown waits for a running converge cycle to finish. Calling it again
// returns nil.
func (a *Agent) Shutdown(ctx context.Context) error {
	if err := a.machine.Event(ctx, EventShutdown); err != nil {
		if a.State() == StateShuttingDown {
			return nil
		}

		return fmt.Errorf("agent cannot shut down: %w", err)
	}

	a.mu.RLock()
	hooks := append([]shutdownHook(nil), a.hooks...)
	a.mu.RUnlock()

	var errs []error

	for _, hook := range hooks {
		hookCtx, cancel := context.WithTimeout(ctx, constants.ShutdownCollaboratorTimeout)
		err := hook.fn(hookCtx)
		cancel()

		if err != nil {
			a.logger.Warnf("Failed to stop %s: %v", hook.name, err)
			errs = append(errs, fmt.Errorf("stop %s: %w", hook.name, err))

			continue
		}

		a.logger.Debugf("Stopped %s", hook.name)
	}

	if err := a.stopAll(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// stopAll issues a Stop for every registered pipeline. Units are asked to
// stop together and joined in parallel; each outcome is recorded and reported
// like a converge cycle.
func (a *Agent) stopAll(ctx context.Context) error {
	var (
		start  = time.Now()
		result = converge.NewResult()
		snap   registry.Snapshot
		errs   []error
	)

	err := a.registry.Apply(ctx, func(tx *registry.Tx) {
		defer func() {
			result.Seal()
			snap = tx.Snapshot()
		}()

		ids := tx.IDs()
		if len(ids) == 0 {
			return
		}

		handles := make([]*pipeline.Handle, 0, len(ids))

		for _, id := range ids {
			h, _ := tx.Get(id)
			h.Unit.RequestStop()
			handles = append(handles, h)
		}

		a.logger.Infof("Stopping %d pipelines", len(handles))

		stopErrs := make([]error, len(handles))

		var g errgroup.Group

		for i, h := range handles {
			g.Go(func() error {
				joined := time.Now()

				if !h.Unit.Join(a.stopTimeout) {
					stopErrs[i] = fmt.Errorf("stop %s after %s: %w", h.ID, a.stopTimeout, converge.ErrStopTimeout)

					return nil
				}

				logger.ForPipeline(h.ID).Infof("Pipeline stopped after %s", time.Since(joined).Round(time.Millisecond))

				return nil
			})
		}

		_ = g.Wait()

		for i, h := range handles {
			if stopErrs[i] == nil {
				tx.Delete(h.ID)
			} else {
				errs = append(errs, stopErrs[i])
			}

			if err := result.AddError(converge.Stop{ID: h.ID}, stopErrs[i]); err != nil {
				a.logger.Errorf("Dropping stop outcome of %s: %v", h.ID, err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to stop pipelines: %w", err)
	}

	a.report(result, snap)
	a.cycleFinished(start, result)

	return errors.Join(errs...)
}
