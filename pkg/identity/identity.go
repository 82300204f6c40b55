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

// Package identity persists the node identity token.
package identity

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
)

// Store reads the token from <dataDir>/uuid once and caches it for the life
// of the process. A missing or unreadable token is replaced by a fresh one,
// which is written back on a best-effort basis.
type Store struct {
	fs     filesystem.Service
	logger *zap.SugaredLogger
	path   string
	id     string
	mu     sync.Mutex
}

// NewStore creates a store for the token below dataDir.
func NewStore(fs filesystem.Service, dataDir string) *Store {
	return &Store{
		fs:     fs,
		path:   filepath.Join(dataDir, constants.IdentityFileName),
		logger: logger.For(logger.ComponentIdentity),
	}
}

// Path returns the token file location.
func (s *Store) Path() string {
	return s.path
}

// ID returns the token. Failures are logged and never returned.
func (s *Store) ID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		return s.id
	}

	data, err := s.fs.ReadFile(ctx, s.path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			s.id = id

			return s.id
		}

		s.logger.Warnf("Identity file %s is empty, generating a new identity", s.path)
	} else {
		s.logger.Infof("No identity at %s (%v), generating a new identity", s.path, err)
	}

	s.id = uuid.NewString()
	s.persist(ctx)

	return s.id
}

func (s *Store) persist(ctx context.Context) {
	if err := s.fs.EnsureDirectory(ctx, filepath.Dir(s.path)); err != nil {
		metrics.IncErrorCount(metrics.ComponentIdentity, "write")
		s.logger.Warnf("Failed to create %s, identity is kept in memory only: %v", filepath.Dir(s.path), err)

		return
	}

	if err := s.fs.WriteFile(ctx, s.path, []byte(s.id+"\n"), 0o644); err != nil {
		metrics.IncErrorCount(metrics.ComponentIdentity, "write")
		s.logger.Warnf("Failed to write %s, identity is kept in memory only: %v", s.path, err)
	}
}
