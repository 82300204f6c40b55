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
	"time"
)

// Unit is one running instance of a pipeline.
type Unit interface {
	// Start launches the unit. It is called at most once.
	Start() error

	// RequestStop asks the unit to terminate and returns immediately.
	RequestStop()

	// Join waits up to timeout for the unit to terminate and reports whether
	// it did. A timeout <= 0 waits without bound.
	Join(timeout time.Duration) bool

	IsAlive() bool
}

// Factory constructs units from configs. Construction must not start anything.
type Factory interface {
	New(ctx context.Context, cfg Config) (Unit, error)
}

// Validator is implemented by factories that can check a config without
// constructing a unit. Reloads validate before stopping the running unit.
type Validator interface {
	Validate(ctx context.Context, cfg Config) error
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, cfg Config) (Unit, error)

func (f FactoryFunc) New(ctx context.Context, cfg Config) (Unit, error) {
	return f(ctx, cfg)
}

// Handle is the registry entry for a started unit.
type Handle struct {
	StartedAt   time.Time
	Unit        Unit
	ID          string
	Fingerprint string
	Config      Config
}

// NewHandle records a unit started from cfg.
func NewHandle(cfg Config, unit Unit) *Handle {
	return &Handle{
		ID:          cfg.ID,
		Fingerprint: cfg.Fingerprint,
		Config:      cfg,
		Unit:        unit,
		StartedAt:   time.Now(),
	}
}
