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

package ctxmutex

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// CtxMutex is a mutex whose Lock gives up when the context is done. It is a
// weighted semaphore of size one.
type CtxMutex struct {
	sem *semaphore.Weighted
}

func NewCtxMutex() *CtxMutex {
	return &CtxMutex{
		sem: semaphore.NewWeighted(1),
	}
}

// Lock blocks until the mutex is held or ctx is done.
func (m *CtxMutex) Lock(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return nil
}

// TryLock takes the mutex only if it is free.
func (m *CtxMutex) TryLock() bool {
	return m.sem.TryAcquire(1)
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *CtxMutex) Unlock() {
	m.sem.Release(1)
}

// Do runs fn while holding the mutex.
func (m *CtxMutex) Do(ctx context.Context, fn func()) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()

	fn()

	return nil
}
