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

// Package registry holds the running pipelines. Every access goes through
// the reconciliation lock.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

// Entry is the copy of one handle handed out by snapshots.
type Entry struct {
	StartedAt   time.Time `json:"started_at"`
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Alive       bool      `json:"alive"`
	Reloadable  bool      `json:"reloadable"`
	System      bool      `json:"system"`
}

// Snapshot is a point-in-time copy of the registry keyed by pipeline id.
type Snapshot map[string]Entry

// IDs returns the ids in sorted order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Alive returns the ids whose unit is alive, sorted.
func (s Snapshot) Alive() []string {
	ids := make([]string, 0, len(s))
	for _, id := range s.IDs() {
		if s[id].Alive {
			ids = append(ids, id)
		}
	}

	return ids
}

// Registry maps pipeline ids to handles.
type Registry struct {
	lock    *ctxmutex.CtxMutex
	handles map[string]*pipeline.Handle
}

func New() *Registry {
	return &Registry{
		lock:    ctxmutex.NewCtxMutex(),
		handles: make(map[string]*pipeline.Handle),
	}
}

// Snapshot takes the lock and copies the registry.
func (r *Registry) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	err := r.Apply(ctx, func(tx *Tx) {
		snap = tx.Snapshot()
	})

	return snap, err
}

// Apply runs fn with the lock held. The Tx must not be used after fn returns.
func (r *Registry) Apply(ctx context.Context, fn func(tx *Tx)) error {
	if err := r.lock.Lock(ctx); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer r.lock.Unlock()

	tx := &Tx{handles: r.handles}
	defer tx.close()

	fn(tx)

	return nil
}

// Tx is the mutable view of the registry inside Apply.
type Tx struct {
	handles map[string]*pipeline.Handle
}

func (tx *Tx) close() {
	tx.handles = nil
}

func (tx *Tx) check() {
	if tx.handles == nil {
		panic("registry: transaction used after Apply returned")
	}
}

func (tx *Tx) Get(id string) (*pipeline.Handle, bool) {
	tx.check()

	h, ok := tx.handles[id]

	return h, ok
}

// Put stores h under h.ID, replacing any previous handle.
func (tx *Tx) Put(h *pipeline.Handle) {
	tx.check()

	tx.handles[h.ID] = h
}

func (tx *Tx) Delete(id string) {
	tx.check()

	delete(tx.handles, id)
}

func (tx *Tx) Len() int {
	tx.check()

	return len(tx.handles)
}

// IDs returns the registered ids in sorted order.
func (tx *Tx) IDs() []string {
	tx.check()

	ids := make([]string, 0, len(tx.handles))
	for id := range tx.handles {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Snapshot copies the registry. Liveness is sampled now.
func (tx *Tx) Snapshot() Snapshot {
	tx.check()

	snap := make(Snapshot, len(tx.handles))
	for id, h := range tx.handles {
		snap[id] = Entry{
			ID:          id,
			Fingerprint: h.Fingerprint,
			StartedAt:   h.StartedAt,
			Alive:       h.Unit != nil && h.Unit.IsAlive(),
			Reloadable:  h.Config.Reloadable,
			System:      h.Config.System,
		}
	}

	return snap
}
