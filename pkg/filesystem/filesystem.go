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

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
)

// DefaultService is the os backed Service.
type DefaultService struct{}

// NewDefaultService creates a new DefaultService.
func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

// run executes op in a goroutine and returns early when ctx is done. The
// goroutine is left to finish on its own in that case.
func run[T any](ctx context.Context, name, path string, op func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		value T
		err   error
	}

	resCh := make(chan result, 1)

	go func() {
		v, err := op()
		resCh <- result{value: v, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil && !errors.Is(res.err, os.ErrNotExist) {
			metrics.IncErrorCount(metrics.ComponentFilesystem, name)
		}

		return res.value, res.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%s %s: %w", name, path, ctx.Err())
	}
}

func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	_, err := run(ctx, "EnsureDirectory", path, func() (struct{}, error) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return struct{}{}, fmt.Errorf("failed to create directory %s: %w", path, err)
		}

		return struct{}{}, nil
	})

	return err
}

func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return run(ctx, "ReadFile", path, func() ([]byte, error) {
		return os.ReadFile(path)
	})
}

func (s *DefaultService) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	_, err := run(ctx, "WriteFile", path, func() (struct{}, error) {
		return struct{}{}, writeAtomic(path, data, perm)
	})

	return err
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	tmpName := tmp.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, path, err)
	}

	return nil
}

func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	return run(ctx, "PathExists", path, func() (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}

		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, err
	})
}

func (s *DefaultService) Remove(ctx context.Context, path string) error {
	_, err := run(ctx, "Remove", path, func() (struct{}, error) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return struct{}{}, err
		}

		return struct{}{}, nil
	})

	return err
}

func (s *DefaultService) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	return run(ctx, "Stat", path, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

func (s *DefaultService) Glob(ctx context.Context, pattern string) ([]string, error) {
	return run(ctx, "Glob", pattern, func() ([]string, error) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}

		sort.Strings(matches)

		return matches, nil
	})
}
