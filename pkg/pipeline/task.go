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
	"runtime/debug"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("unit already started")

// RunFunc is the body of a Task. It must return once ctx is cancelled.
type RunFunc func(ctx context.Context) error

// Task is a Unit backed by a goroutine.
type Task struct {
	ctx     context.Context
	cancel  context.CancelFunc
	run     RunFunc
	done    chan struct{}
	err     error
	name    string
	mu      sync.Mutex
	started bool
}

// NewTask creates a task. Its lifetime is detached from ctx; only
// RequestStop ends it.
func NewTask(ctx context.Context, name string, run RunFunc) *Task {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	return &Task{
		ctx:    taskCtx,
		cancel: cancel,
		run:    run,
		name:   name,
		done:   make(chan struct{}),
	}
}

func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("%s: %w", t.name, ErrAlreadyStarted)
	}

	t.started = true

	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.setErr(fmt.Errorf("%s panicked: %v\n%s", t.name, r, debug.Stack()))
			}
		}()

		t.setErr(t.run(t.ctx))
	}()

	return nil
}

func (t *Task) RequestStop() {
	t.cancel()
}

func (t *Task) Join(timeout time.Duration) bool {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()

	if !started {
		return true
	}

	if timeout <= 0 {
		<-t.done

		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

func (t *Task) IsAlive() bool {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Err returns what the body returned, nil while it is still running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err == nil {
		t.err = err
	}
}
