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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// MockFileSystem is an in-memory Service for tests. Any *Func field that is
// set replaces the in-memory behaviour of that operation.
type MockFileSystem struct {
	files map[string][]byte
	dirs  map[string]bool
	calls map[string]int

	ReadFileFunc        func(ctx context.Context, path string) ([]byte, error)
	WriteFileFunc       func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	EnsureDirectoryFunc func(ctx context.Context, path string) error
	GlobFunc            func(ctx context.Context, pattern string) ([]string, error)

	mutex sync.Mutex
}

// NewMockFileSystem creates an empty MockFileSystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
		calls: make(map[string]int),
	}
}

// WithFile seeds a file.
func (m *MockFileSystem) WithFile(path string, data []byte) *MockFileSystem {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.files[filepath.Clean(path)] = append([]byte(nil), data...)

	return m
}

// Calls returns how often the named operation was invoked.
func (m *MockFileSystem) Calls(op string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.calls[op]
}

func (m *MockFileSystem) record(op string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.calls[op]++
}

func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	m.record("EnsureDirectory")

	if m.EnsureDirectoryFunc != nil {
		return m.EnsureDirectoryFunc(ctx, path)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.dirs[filepath.Clean(path)] = true

	return nil
}

func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.record("ReadFile")

	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.files[filepath.Clean(path)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}

	return append([]byte(nil), data...), nil
}

func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	m.record("WriteFile")

	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.files[filepath.Clean(path)] = append([]byte(nil), data...)

	return nil
}

func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	m.record("PathExists")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	clean := filepath.Clean(path)
	_, isFile := m.files[clean]

	return isFile || m.dirs[clean], nil
}

func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	m.record("Remove")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.files, filepath.Clean(path))

	return nil
}

func (m *MockFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	m.record("Stat")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	clean := filepath.Clean(path)
	if data, ok := m.files[clean]; ok {
		return mockFileInfo{name: filepath.Base(clean), size: int64(len(data))}, nil
	}

	if m.dirs[clean] {
		return mockFileInfo{name: filepath.Base(clean), dir: true}, nil
	}

	return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
}

func (m *MockFileSystem) Glob(ctx context.Context, pattern string) ([]string, error) {
	m.record("Glob")

	if m.GlobFunc != nil {
		return m.GlobFunc(ctx, pattern)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var matches []string

	for name := range m.files {
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, err
		}

		if ok {
			matches = append(matches, name)
		}
	}

	sort.Strings(matches)

	return matches, nil
}

type mockFileInfo struct {
	name string
	size int64
	dir  bool
}

func (i mockFileInfo) Name() string { return i.name }
func (i mockFileInfo) Size() int64  { return i.size }
func (i mockFileInfo) Mode() os.FileMode {
	if i.dir {
		return os.ModeDir | 0o755
	}

	return 0o644
}
func (i mockFileInfo) ModTime() time.Time { return time.Time{} }
func (i mockFileInfo) IsDir() bool        { return i.dir }
func (i mockFileInfo) Sys() any           { return nil }
