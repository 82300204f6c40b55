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

// Package agent drives the converge loop: it fetches the desired pipelines,
// resolves them against the registry and executes the resulting actions.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/config"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/converge"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/identity"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/starvationchecker"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/status"
)

const (
	StateIdle         = "idle"
	StateConverging   = "converging"
	StateShuttingDown = "shutting_down"

	EventConverge  = "converge"
	EventConverged = "converged"
	EventShutdown  = "shutdown"
)

var (
	// ErrShuttingDown is returned by Converge once Shutdown began.
	ErrShuttingDown = errors.New("agent is shutting down")

	// ErrConfigFetch wraps a failed fetch. The cycle is a no-op and the
	// registry keeps its previous state.
	ErrConfigFetch = errors.New("failed to fetch desired pipelines")

	// ErrFatalStartup is returned by Execute when auto-reconcile is disabled
	// and the first cycle left nothing running.
	ErrFatalStartup = errors.New("no pipeline running after startup")
)

// Options configure an Agent. Source, Factory and Identity are required.
type Options struct {
	Source   config.Source
	Factory  pipeline.Factory
	Identity *identity.Store
	// Sink receives per-pipeline converge metrics. Defaults to a fresh Store.
	Sink        metrics.Sink
	NodeName    string
	Version     string
	Interval    time.Duration
	StopTimeout time.Duration
	// StarvationThreshold <= 0 selects the default.
	StarvationThreshold time.Duration
	AutoReconcile       bool
}

type shutdownHook struct {
	fn   func(ctx context.Context) error
	name string
}

// Agent owns the registry and is the only writer to it.
type Agent struct {
	startedAt    time.Time
	source       config.Source
	identity     *identity.Store
	sink         metrics.Sink
	registry     *registry.Registry
	executor     *converge.Executor
	machine      *fsm.FSM
	logger       *zap.SugaredLogger
	starve       *starvationchecker.StarvationChecker
	lastCycle    *status.CycleSummary
	recentCycles *expiremap.ExpireMap[time.Time, time.Duration]
	nodeName     string
	version      string
	hooks        []shutdownHook

	interval            time.Duration
	stopTimeout         time.Duration
	starvationThreshold time.Duration
	mu                  sync.RWMutex
	autoReconcile       bool
}

// New creates an idle agent. Nothing runs until Converge or Execute is called.
func New(opts Options) (*Agent, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("agent: a config source is required")
	case opts.Factory == nil:
		return nil, errors.New("agent: a pipeline factory is required")
	case opts.Identity == nil:
		return nil, errors.New("agent: an identity store is required")
	}

	if opts.Sink == nil {
		opts.Sink = metrics.NewStore()
	}

	if opts.Interval <= 0 {
		opts.Interval = constants.DefaultReconcileInterval
	}

	if opts.StopTimeout <= 0 {
		opts.StopTimeout = constants.DefaultStopTimeout
	}

	if opts.StarvationThreshold <= 0 {
		opts.StarvationThreshold = constants.StarvationThreshold
	}

	if opts.NodeName == "" {
		opts.NodeName = constants.DefaultNodeName
	}

	log := logger.For(logger.ComponentAgent)

	a := &Agent{
		startedAt:           time.Now(),
		source:              opts.Source,
		identity:            opts.Identity,
		sink:                opts.Sink,
		registry:            registry.New(),
		executor:            converge.NewExecutor(opts.Factory, opts.StopTimeout),
		recentCycles:        expiremap.NewEx[time.Time, time.Duration](constants.CycleStatsWindow, constants.CycleStatsWindow),
		logger:              log,
		nodeName:            opts.NodeName,
		version:             opts.Version,
		interval:            opts.Interval,
		stopTimeout:         opts.StopTimeout,
		starvationThreshold: opts.StarvationThreshold,
		autoReconcile:       opts.AutoReconcile,
	}

	a.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventConverge, Src: []string{StateIdle}, Dst: StateConverging},
			{Name: EventConverged, Src: []string{StateConverging}, Dst: StateIdle},
			{Name: EventShutdown, Src: []string{StateIdle, StateConverging}, Dst: StateShuttingDown},
		},
		fsm.Callbacks{
			"enter_" + StateShuttingDown: func(_ context.Context, e *fsm.Event) {
				log.Infof("Agent shutting down (was %s)", e.Src)
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("Agent state %s -> %s", e.Src, e.Dst)
			},
		},
	)

	metrics.InitErrorCounter(metrics.ComponentConvergeLoop, "main")

	return a, nil
}

// OnShutdown registers a collaborator to stop during Shutdown. Hooks run in
// registration order before the pipelines are stopped.
func (a *Agent) OnShutdown(name string, fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.hooks = append(a.hooks, shutdownHook{name: name, fn: fn})
}

// State returns the lifecycle state.
func (a *Agent) State() string {
	return a.machine.Current()
}

// ID returns the persistent node id.
func (a *Agent) ID(ctx context.Context) string {
	return a.identity.ID(ctx)
}

func (a *Agent) Uptime() time.Duration {
	return time.Since(a.startedAt)
}

// RunningPipelines returns the ids whose unit is alive, sorted.
func (a *Agent) RunningPipelines(ctx context.Context) ([]string, error) {
	snap, err := a.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return snap.Alive(), nil
}
