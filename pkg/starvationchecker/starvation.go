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

package starvationchecker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/sentry"
)

// StarvationChecker watches the converge loop from the outside. Every cycle
// marks itself with CycleFinished; a background goroutine reports starvation
// when no cycle finished within the threshold.
//
// Starvation usually means a Stop action is waiting on a wedged pipeline
// while holding the reconciliation lock. Checking from a separate goroutine
// keeps the detection working while the loop itself is blocked.
//
// While starved, every check adds the check interval to
// converge_starved_total_seconds. The first check of a starvation period
// also reports a warning.
type StarvationChecker struct {
	lastCycle  time.Time
	logger     *zap.SugaredLogger
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	threshold  time.Duration
	interval   time.Duration
	starvedFor time.Duration
	mutex      sync.RWMutex
	starved    bool
}

// NewStarvationChecker starts a checker with the default check interval. It
// must be stopped with Stop.
func NewStarvationChecker(threshold time.Duration) *StarvationChecker {
	return NewStarvationCheckerWithInterval(threshold, constants.StarvationCheckInterval)
}

func NewStarvationCheckerWithInterval(threshold, interval time.Duration) *StarvationChecker {
	checker := &StarvationChecker{
		threshold: threshold,
		interval:  interval,
		lastCycle: time.Now(),
		logger:    logger.For(logger.ComponentStarvationChecker),
		done:      make(chan struct{}),
	}

	checker.wg.Add(1)

	go checker.checkLoop()

	checker.logger.Infof("Starvation checker started with threshold %s", threshold)

	return checker
}

func (s *StarvationChecker) checkLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *StarvationChecker) check() {
	s.mutex.Lock()
	sinceLast := time.Since(s.lastCycle)
	starved := sinceLast > s.threshold
	entered := starved && !s.starved
	s.starved = starved

	if starved {
		s.starvedFor += s.interval
	}
	s.mutex.Unlock()

	if !starved {
		s.logger.Debugf("Converge loop is healthy, last cycle finished %.2f seconds ago", sinceLast.Seconds())

		return
	}

	metrics.AddStarvationTime(s.interval.Seconds())

	if entered {
		sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger,
			"[StarvationChecker.check] Converge loop starvation detected: %.2f seconds since last cycle", sinceLast.Seconds())
	}
}

// CycleFinished marks the end of a converge cycle and ends any starvation period.
func (s *StarvationChecker) CycleFinished() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.starved {
		s.logger.Infof("Converge loop recovered after %.2f seconds", time.Since(s.lastCycle).Seconds())
	}

	s.lastCycle = time.Now()
	s.starved = false
}

// LastCycle returns when the most recent converge cycle finished.
func (s *StarvationChecker) LastCycle() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastCycle
}

// Starved reports whether the last check found the loop starved.
func (s *StarvationChecker) Starved() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.starved
}

// StarvedFor is the total starvation time observed so far.
func (s *StarvationChecker) StarvedFor() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.starvedFor
}

// Stop terminates the background check. It is safe to call more than once.
func (s *StarvationChecker) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.logger.Info("Starvation checker stopped")
	})
}
