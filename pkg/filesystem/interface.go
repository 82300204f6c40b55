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
	"os"
)

// Service provides the filesystem operations the agent needs. All calls
// respect the context, so a hung mount cannot block a converge cycle forever.
type Service interface {
	// EnsureDirectory creates a directory and its parents if missing.
	EnsureDirectory(ctx context.Context, path string) error

	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the file atomically through a temporary file and a rename.
	WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error

	PathExists(ctx context.Context, path string) (bool, error)

	// Remove removes a file. A missing file is not an error.
	Remove(ctx context.Context, path string) error

	Stat(ctx context.Context, path string) (os.FileInfo, error)

	// Glob is filepath.Glob with the result sorted.
	Glob(ctx context.Context, pattern string) ([]string, error)
}
