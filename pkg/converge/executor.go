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

package converge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
)

var (
	// ErrStopTimeout is the failure of a Stop whose unit did not terminate in time.
	ErrStopTimeout = errors.New("pipeline did not stop in time")
	// ErrNotReloadable is the failure reported by RejectReload.
	ErrNotReloadable = errors.New("reload requested on non-reloadable pipeline")
	// ErrAlreadyRunning is the failure of a Create for an id that is registered.
	ErrAlreadyRunning = errors.New("pipeline is already running")
)

// Executor applies actions to a registry transaction.
type Executor struct {
	factory       pipeline.Factory
	logger        *zap.SugaredLogger
	now           func() time.Time
	stopTimeout   time.Duration
	stallInterval time.Duration
}

// NewExecutor creates an executor building units with factory. A stopTimeout
// <= 0 selects the default.
func NewExecutor(factory pipeline.Factory, stopTimeout time.Duration) *Executor {
	if stopTimeout <= 0 {
		stopTimeout = constants.DefaultStopTimeout
	}

	return &Executor{
		factory:       factory,
		stopTimeout:   stopTimeout,
		stallInterval: constants.StopStallReportInterval,
		logger:        logger.For(logger.ComponentExecutor),
		now:           time.Now,
	}
}

// WithStallInterval changes how often a slow stop is reported.
func (e *Executor) WithStallInterval(d time.Duration) *Executor {
	if d > 0 {
		e.stallInterval = d
	}

	return e
}

// Execute applies one action and never panics. The caller must hold the
// registry lock, which is guaranteed by receiving a Tx.
func (e *Executor) Execute(ctx context.Context, tx *registry.Tx, action Action) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failure{
				Message:    fmt.Sprintf("%s panicked: %v", action, r),
				StackTrace: string(debug.Stack()),
			}
		}
	}()

	var err error

	switch a := action.(type) {
	case Create:
		err = e.create(ctx, tx, a.Config)
	case Reload:
		err = e.reload(ctx, tx, a.Config)
	case Stop:
		err = e.stop(tx, a.ID)
	case RejectReload:
		err = fmt.Errorf("%w: %s running %s, desired %s",
			ErrNotReloadable, a.Config.ID, a.RunningFingerprint, a.Config.Fingerprint)
	default:
		err = fmt.Errorf("unknown action %T", action)
	}

	if err != nil {
		return Failure{Message: err.Error()}
	}

	return Success{ExecutedAt: e.now()}
}

func (e *Executor) create(ctx context.Context, tx *registry.Tx, cfg pipeline.Config) error {
	if _, ok := tx.Get(cfg.ID); ok {
		return fmt.Errorf("create %s: %w", cfg.ID, ErrAlreadyRunning)
	}

	unit, err := e.factory.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create %s: %w", cfg.ID, err)
	}

	if err := unit.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cfg.ID, err)
	}

	tx.Put(pipeline.NewHandle(cfg, unit))
	e.logger.Infow("Pipeline started", logger.FieldPipelineID, cfg.ID, "fingerprint", cfg.Fingerprint)

	return nil
}

// reload validates first, then stops, then creates. A failed validation or
// stop keeps the old unit; a failed create leaves the id absent.
func (e *Executor) reload(ctx context.Context, tx *registry.Tx, cfg pipeline.Config) error {
	if v, ok := e.factory.(pipeline.Validator); ok {
		if err := v.Validate(ctx, cfg); err != nil {
			return fmt.Errorf("reload %s: validation failed, keeping running pipeline: %w", cfg.ID, err)
		}
	}

	if err := e.stop(tx, cfg.ID); err != nil {
		return fmt.Errorf("reload %s: %w", cfg.ID, err)
	}

	if err := e.create(ctx, tx, cfg); err != nil {
		return fmt.Errorf("reload %s: stopped but not restarted: %w", cfg.ID, err)
	}

	return nil
}

// stop requests termination and joins with the stop timeout, logging every
// stall interval. On timeout the handle stays registered.
func (e *Executor) stop(tx *registry.Tx, id string) error {
	h, ok := tx.Get(id)
	if !ok {
		return nil
	}

	log := e.logger.With(logger.FieldPipelineID, id)
	h.Unit.RequestStop()

	started := time.Now()
	deadline := started.Add(e.stopTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("stop %s after %s: %w", id, e.stopTimeout, ErrStopTimeout)
		}

		if h.Unit.Join(min(e.stallInterval, remaining)) {
			break
		}

		log.Warnf("Pipeline still stopping after %s", time.Since(started).Round(time.Millisecond))
	}

	tx.Delete(id)
	log.Infof("Pipeline stopped after %s", time.Since(started).Round(time.Millisecond))

	return nil
}
