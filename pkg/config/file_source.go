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

package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/backoff"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

var (
	// ErrInvalidPipelines is returned when the pipelines file parses but
	// describes an impossible desired set.
	ErrInvalidPipelines = errors.New("invalid pipelines file")

	// ErrUnsupportedFormat is returned for file extensions without a decoder.
	ErrUnsupportedFormat = errors.New("unsupported pipelines file format")

	// ErrEmptyPipelines is returned when the pipelines file is blank. Writers
	// often truncate before rewriting, so a blank file is retried and never
	// read as an empty desired set; `pipelines: []` asks for zero pipelines.
	ErrEmptyPipelines = errors.New("pipelines file is empty")
)

// pipelinesFile is the document shape shared by all formats.
type pipelinesFile struct {
	Pipelines []pipelineEntry `json:"pipelines" toml:"pipelines" yaml:"pipelines"`
}

type pipelineEntry struct {
	Reloadable *bool  `json:"reloadable" toml:"reloadable" yaml:"reloadable"`
	ID         string `json:"id"         toml:"id"         yaml:"id"`
	Config     string `json:"config"     toml:"config"     yaml:"config"`
	Path       string `json:"path"       toml:"path"       yaml:"path"`
	Workers    int    `json:"workers"    toml:"workers"    yaml:"workers"`
	BatchSize  int    `json:"batch_size" toml:"batch_size" yaml:"batch_size"`
	System     bool   `json:"system"     toml:"system"     yaml:"system"`
}

// FileSource reads the desired pipelines from a file on disk.
type FileSource struct {
	fs     filesystem.Service
	log    *zap.SugaredLogger
	path   string
	policy backoff.Policy

	changes chan struct{}

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	tracked  map[string]struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var (
	_ Source   = (*FileSource)(nil)
	_ Notifier = (*FileSource)(nil)
)

func NewFileSource(fs filesystem.Service, path string) *FileSource {
	path = filepath.Clean(path)

	return &FileSource{
		fs:      fs,
		log:     logger.For(logger.ComponentConfigSource),
		path:    path,
		policy:  backoff.DefaultPolicy(constants.ConfigFetchMaxRetries),
		changes: make(chan struct{}, 1),
		tracked: map[string]struct{}{path: {}},
		done:    make(chan struct{}),
	}
}

// WithPolicy replaces the read retry policy.
func (s *FileSource) WithPolicy(policy backoff.Policy) *FileSource {
	s.policy = policy

	return s
}

func (s *FileSource) Path() string {
	return s.path
}

// Fetch reads and parses the pipelines file. Transient read errors and a blank
// file are retried within ConfigFetchTimeout; a missing file and parse errors
// fail immediately.
func (s *FileSource) Fetch(ctx context.Context) ([]pipeline.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ConfigFetchTimeout)
	defer cancel()

	data, err := s.read(ctx, s.path)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentConfigSource, s.path)

		return nil, fmt.Errorf("failed to read pipelines file %s: %w", s.path, err)
	}

	doc, err := decode(s.path, data)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentConfigSource, s.path)

		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPipelines, s.path, err)
	}

	configs, read, err := s.build(ctx, doc)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentConfigSource, s.path)

		return nil, err
	}

	s.track(read)

	return configs, nil
}

func (s *FileSource) read(ctx context.Context, path string) ([]byte, error) {
	var data []byte

	err := backoff.Retry(ctx, s.policy, func() error {
		d, err := s.fs.ReadFile(ctx, path)
		if errors.Is(err, os.ErrNotExist) {
			return backoff.NewPermanentError(err)
		}

		if err != nil {
			return err
		}

		if len(bytes.TrimSpace(d)) == 0 {
			return backoff.NewTransientError(ErrEmptyPipelines)
		}

		data = d

		return nil
	}, s.log)

	return data, err
}

func decode(path string, data []byte) (pipelinesFile, error) {
	var doc pipelinesFile

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&doc); err != nil {
			return doc, err
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return doc, err
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return doc, err
		}
	default:
		return doc, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	return doc, nil
}

// build turns the entries into configs and returns every file and glob it read.
func (s *FileSource) build(ctx context.Context, doc pipelinesFile) ([]pipeline.Config, []string, error) {
	var (
		errs    []error
		configs = make([]pipeline.Config, 0, len(doc.Pipelines))
		read    = []string{s.path}
		seen    = make(map[string]struct{}, len(doc.Pipelines))
	)

	for i, entry := range doc.Pipelines {
		if entry.ID == "" {
			errs = append(errs, fmt.Errorf("entry %d: id must not be empty", i))

			continue
		}

		if _, dup := seen[entry.ID]; dup {
			errs = append(errs, fmt.Errorf("entry %d: duplicate id %q", i, entry.ID))

			continue
		}

		seen[entry.ID] = struct{}{}

		content, files, err := s.content(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline %q: %w", entry.ID, err))

			continue
		}

		read = append(read, files...)

		reloadable := true
		if entry.Reloadable != nil {
			reloadable = *entry.Reloadable
		}

		cfg, err := pipeline.NewConfig(entry.ID, content,
			pipeline.WithReloadable(reloadable),
			pipeline.WithSystem(entry.System),
			pipeline.WithSettings(pipeline.Settings{Workers: entry.Workers, BatchSize: entry.BatchSize}),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline %q: %w", entry.ID, err))

			continue
		}

		configs = append(configs, cfg)
	}

	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrInvalidPipelines, s.path, errors.Join(errs...))
	}

	return configs, read, nil
}

// content resolves the inline config or the files matched by the path glob.
// Globs are relative to the pipelines file.
func (s *FileSource) content(ctx context.Context, entry pipelineEntry) (string, []string, error) {
	switch {
	case entry.Config != "" && entry.Path != "":
		return "", nil, errors.New("config and path are mutually exclusive")
	case entry.Config != "":
		return entry.Config, nil, nil
	case entry.Path == "":
		return "", nil, errors.New("one of config or path is required")
	}

	pattern := entry.Path
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(filepath.Dir(s.path), pattern)
	}

	matches, err := s.fs.Glob(ctx, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("invalid path %q: %w", entry.Path, err)
	}

	if len(matches) == 0 {
		return "", nil, fmt.Errorf("path %q matched no files", entry.Path)
	}

	var b strings.Builder

	for _, match := range matches {
		data, err := s.read(ctx, match)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read %s: %w", match, err)
		}

		b.Write(data)

		if len(data) > 0 && data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}

	return b.String(), append(matches, pattern), nil
}

// track remembers the files behind the current desired set so that Watch
// reports changes to them. Directories of newly seen files are added to a
// running watcher.
func (s *FileSource) track(files []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked := make(map[string]struct{}, len(files))
	for _, f := range files {
		tracked[filepath.Clean(f)] = struct{}{}
	}

	s.tracked = tracked

	if s.watcher == nil {
		return
	}

	for f := range tracked {
		if err := s.watcher.Add(filepath.Dir(f)); err != nil {
			s.log.Warnf("Failed to watch %s: %v", filepath.Dir(f), err)
		}
	}
}

func (s *FileSource) isTracked(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = filepath.Clean(name)
	if _, ok := s.tracked[name]; ok {
		return true
	}

	// new files matching a path glob
	for pattern := range s.tracked {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}

	return false
}

// Changes implements Notifier. It only fires while Watch is running.
func (s *FileSource) Changes() <-chan struct{} {
	return s.changes
}

// Watch starts watching the pipelines file and the files it references. It
// returns once the watcher is set up; watching ends when ctx is done or Close
// is called. Editors write files in several steps, so events are debounced.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		_ = watcher.Close()

		return errors.New("file source is already watching")
	}

	dirs := make(map[string]struct{})
	for f := range s.tracked {
		dirs[filepath.Dir(f)] = struct{}{}
	}

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			s.mu.Unlock()
			_ = watcher.Close()

			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	s.watcher = watcher
	s.mu.Unlock()

	raw := make(chan struct{}, 1)

	go s.processEvents(ctx, watcher, raw)
	go s.debounceLoop(ctx, raw)

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	s.log.Infof("Watching %s for changes", s.path)

	return nil
}

// Close stops watching. It is safe to call more than once.
func (s *FileSource) Close() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}

func (s *FileSource) processEvents(ctx context.Context, watcher *fsnotify.Watcher, raw chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if !s.isTracked(event.Name) {
				continue
			}

			select {
			case raw <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			s.log.Warnf("File watcher error: %v", err)
		}
	}
}

func (s *FileSource) debounceLoop(ctx context.Context, raw <-chan struct{}) {
	var timerC <-chan time.Time

	var timer *time.Timer

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-raw:
			if timer == nil {
				timer = time.NewTimer(constants.ConfigWatchDebounce)
			} else {
				timer.Reset(constants.ConfigWatchDebounce)
			}

			timerC = timer.C
		case <-timerC:
			timerC = nil

			s.log.Debugf("Pipelines changed on disk")

			select {
			case s.changes <- struct{}{}:
			default:
			}
		}
	}
}
