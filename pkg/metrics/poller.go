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
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

var processGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "process",
		Help:      "Agent process statistics sampled by the metrics poller",
	},
	[]string{"stat"},
)

// Sample is one reading of the agent process.
type Sample struct {
	Time              time.Time `json:"time"`
	CPUPercent        float64   `json:"cpu_percent"`
	RSSBytes          uint64    `json:"rss_bytes"`
	Threads           int32     `json:"threads"`
	Goroutines        int       `json:"goroutines"`
	HostMemoryPercent float64   `json:"host_memory_percent"`
}

// ProcessPoller periodically samples the agent process and publishes the
// result as gauges.
type ProcessPoller struct {
	proc     *process.Process
	logger   *zap.SugaredLogger
	cancel   context.CancelFunc
	latest   Sample
	interval time.Duration
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
}

// NewProcessPoller creates a poller for the current process.
func NewProcessPoller(interval time.Duration, log *zap.SugaredLogger) (*ProcessPoller, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}

	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &ProcessPoller{proc: proc, interval: interval, logger: log}, nil
}

// Start samples once and then keeps sampling in the background until Stop
// is called or ctx is cancelled.
func (p *ProcessPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)

	go p.run(ctx)
}

// Stop halts polling and waits for the background goroutine.
func (p *ProcessPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()

		return
	}

	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("Process poller stopped")
}

// Latest returns the most recent sample, zero before the first poll.
func (p *ProcessPoller) Latest() Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.latest
}

func (p *ProcessPoller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll keeps whatever it could read; a failing stat does not discard the rest.
func (p *ProcessPoller) poll(ctx context.Context) {
	sample := Sample{Time: time.Now(), Goroutines: runtime.NumGoroutine()}

	if cpu, err := p.proc.CPUPercentWithContext(ctx); err == nil {
		sample.CPUPercent = cpu
	} else {
		IncErrorCountAndLog(ComponentMetricsPoller, "cpu", err, p.logger)
	}

	if memInfo, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		sample.RSSBytes = memInfo.RSS
	} else {
		IncErrorCountAndLog(ComponentMetricsPoller, "rss", err, p.logger)
	}

	if threads, err := p.proc.NumThreadsWithContext(ctx); err == nil {
		sample.Threads = threads
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.HostMemoryPercent = vm.UsedPercent
	}

	processGauge.WithLabelValues("cpu_percent").Set(sample.CPUPercent)
	processGauge.WithLabelValues("rss_bytes").Set(float64(sample.RSSBytes))
	processGauge.WithLabelValues("threads").Set(float64(sample.Threads))
	processGauge.WithLabelValues("goroutines").Set(float64(sample.Goroutines))
	processGauge.WithLabelValues("host_memory_percent").Set(sample.HostMemoryPercent)

	p.mu.Lock()
	p.latest = sample
	p.mu.Unlock()
}
