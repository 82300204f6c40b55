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
	"sync"
	"time"
)

// MockUnit is a Unit for tests. It becomes alive on Start and dead on
// RequestStop unless StopIgnored is set, in which case only Exit ends it.
type MockUnit struct {
	StartErr    error
	StartPanic  any
	exited      chan struct{}
	Config      Config
	StopCalls   int
	mu          sync.Mutex
	StopIgnored bool
	started     bool
	exitOnce    sync.Once
}

// NewMockUnit creates a unit for cfg.
func NewMockUnit(cfg Config) *MockUnit {
	return &MockUnit{Config: cfg, exited: make(chan struct{})}
}

func (u *MockUnit) Start() error {
	if u.StartPanic != nil {
		panic(u.StartPanic)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.StartErr != nil {
		return u.StartErr
	}

	if u.started {
		return ErrAlreadyStarted
	}

	u.started = true

	return nil
}

func (u *MockUnit) RequestStop() {
	u.mu.Lock()
	u.StopCalls++
	ignored := u.StopIgnored
	u.mu.Unlock()

	if !ignored {
		u.Exit()
	}
}

// Exit makes the unit terminate as if its work had finished.
func (u *MockUnit) Exit() {
	u.exitOnce.Do(func() { close(u.exited) })
}

func (u *MockUnit) Join(timeout time.Duration) bool {
	if !u.Started() {
		return true
	}

	if timeout <= 0 {
		<-u.exited

		return true
	}

	select {
	case <-u.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (u *MockUnit) IsAlive() bool {
	if !u.Started() {
		return false
	}

	select {
	case <-u.exited:
		return false
	default:
		return true
	}
}

func (u *MockUnit) Started() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.started
}

// Stops returns how often RequestStop was called.
func (u *MockUnit) Stops() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.StopCalls
}

// MockFactory hands out MockUnits and records them per id.
type MockFactory struct {
	// NewErr fails construction for the given ids.
	NewErr map[string]error
	// ValidateErr fails validation for the given ids.
	ValidateErr map[string]error
	// Configure runs on every unit before it is returned.
	Configure func(*MockUnit)
	units     map[string][]*MockUnit
	mu        sync.Mutex
}

func NewMockFactory() *MockFactory {
	return &MockFactory{
		NewErr:      make(map[string]error),
		ValidateErr: make(map[string]error),
		units:       make(map[string][]*MockUnit),
	}
}

func (f *MockFactory) New(_ context.Context, cfg Config) (Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.NewErr[cfg.ID]; err != nil {
		return nil, err
	}

	unit := NewMockUnit(cfg)
	if f.Configure != nil {
		f.Configure(unit)
	}

	f.units[cfg.ID] = append(f.units[cfg.ID], unit)

	return unit, nil
}

func (f *MockFactory) Validate(_ context.Context, cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.ValidateErr[cfg.ID]
}

// Units returns the units built for id, oldest first.
func (f *MockFactory) Units(id string) []*MockUnit {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*MockUnit(nil), f.units[id]...)
}

// Latest returns the newest unit built for id, nil if there is none.
func (f *MockFactory) Latest(id string) *MockUnit {
	units := f.Units(id)
	if len(units) == 0 {
		return nil
	}

	return units[len(units)-1]
}

// SetNewErr and SetValidateErr change failures while the agent may be running.
func (f *MockFactory) SetNewErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.NewErr[id] = err
}

func (f *MockFactory) SetValidateErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ValidateErr[id] = err
}
