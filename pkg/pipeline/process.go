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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
)

// ErrInvalidContent is returned when pipeline content is not a YAML mapping.
var ErrInvalidContent = errors.New("pipeline content is not a YAML mapping")

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ProcessFactory runs every pipeline as an external process, by default
// `benthos -c <file>`. The content is written to ConfigDir first.
type ProcessFactory struct {
	FS        filesystem.Service
	Command   string
	ConfigDir string
	// Args may contain constants.PipelineConfigPlaceholder, replaced by the
	// path of the written config file.
	Args      []string
	KillGrace time.Duration
}

// NewProcessFactory creates a factory writing configs below configDir.
func NewProcessFactory(fs filesystem.Service, command, configDir string) *ProcessFactory {
	if command == "" {
		command = constants.DefaultPipelineCommand
	}

	return &ProcessFactory{
		FS:        fs,
		Command:   command,
		ConfigDir: configDir,
		Args:      []string{"-c", constants.PipelineConfigPlaceholder},
		KillGrace: constants.PipelineKillGracePeriod,
	}
}

// Validate checks that the content parses as a YAML mapping.
func (f *ProcessFactory) Validate(_ context.Context, cfg Config) error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(cfg.Content), &doc); err != nil {
		return fmt.Errorf("pipeline %s: %w: %w", cfg.ID, ErrInvalidContent, err)
	}

	if doc == nil {
		return fmt.Errorf("pipeline %s: %w: empty document", cfg.ID, ErrInvalidContent)
	}

	return nil
}

// New validates cfg and writes its content to disk. The process is started by Start.
func (f *ProcessFactory) New(ctx context.Context, cfg Config) (Unit, error) {
	if err := f.Validate(ctx, cfg); err != nil {
		return nil, err
	}

	if err := f.FS.EnsureDirectory(ctx, f.ConfigDir); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", cfg.ID, err)
	}

	path := filepath.Join(f.ConfigDir, ConfigFileName(cfg))
	if err := f.FS.WriteFile(ctx, path, []byte(cfg.Content), 0o600); err != nil {
		return nil, fmt.Errorf("pipeline %s: failed to write config: %w", cfg.ID, err)
	}

	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = strings.ReplaceAll(a, constants.PipelineConfigPlaceholder, path)
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	cmd := exec.CommandContext(procCtx, f.Command, args...) //nolint:gosec
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = f.KillGrace
	cmd.Env = append(os.Environ(),
		"PIPELINE_ID="+cfg.ID,
		"PIPELINE_WORKERS="+strconv.Itoa(cfg.Settings.Workers),
		"PIPELINE_BATCH_SIZE="+strconv.Itoa(cfg.Settings.BatchSize),
	)

	log := logger.ForPipeline(cfg.ID)
	stdout := &zapio.Writer{Log: log.Desugar(), Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: log.Desugar(), Level: zapcore.WarnLevel}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	return &processUnit{
		cmd:        cmd,
		cancel:     cancel,
		configPath: path,
		fs:         f.FS,
		logger:     log,
		outputs:    []*zapio.Writer{stdout, stderr},
		done:       make(chan struct{}),
	}, nil
}

// ConfigFileName is unique per id and fingerprint, so a reload never
// overwrites the file of the unit it replaces.
func ConfigFileName(cfg Config) string {
	return unsafeFileChars.ReplaceAllString(cfg.ID, "_") + "-" + cfg.Fingerprint + ".yaml"
}

type processUnit struct {
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	fs         filesystem.Service
	logger     *zap.SugaredLogger
	done       chan struct{}
	configPath string
	outputs    []*zapio.Writer
	mu         sync.Mutex
	started    bool
}

func (u *processUnit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started {
		return ErrAlreadyStarted
	}

	if err := u.cmd.Start(); err != nil {
		u.cancel()
		u.removeConfig()

		return fmt.Errorf("failed to start %s: %w", u.cmd.Path, err)
	}

	u.started = true
	u.logger.Infof("Started process %d", u.cmd.Process.Pid)

	go u.wait()

	return nil
}

func (u *processUnit) wait() {
	defer close(u.done)

	err := u.cmd.Wait()

	for _, w := range u.outputs {
		_ = w.Close()
	}

	u.cancel()
	u.removeConfig()

	if err != nil {
		u.logger.Warnf("Process exited: %v", err)

		return
	}

	u.logger.Info("Process exited")
}

func (u *processUnit) removeConfig() {
	if err := u.fs.Remove(context.Background(), u.configPath); err != nil {
		u.logger.Debugf("Failed to remove %s: %v", u.configPath, err)
	}
}

func (u *processUnit) RequestStop() {
	u.cancel()
}

func (u *processUnit) Join(timeout time.Duration) bool {
	u.mu.Lock()
	started := u.started
	u.mu.Unlock()

	if !started {
		return true
	}

	if timeout <= 0 {
		<-u.done

		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-u.done:
		return true
	case <-timer.C:
		return false
	}
}

func (u *processUnit) IsAlive() bool {
	u.mu.Lock()
	started := u.started
	u.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-u.done:
		return false
	default:
		return true
	}
}
