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

package converge

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrSealed is returned when adding to a Result after Seal.
	ErrSealed = errors.New("converge result is sealed")

	// ErrIncompleteRecord is returned when Add gets a nil action or outcome.
	ErrIncompleteRecord = errors.New("converge record needs an action and an outcome")
)

// Record pairs an action with its outcome.
type Record struct {
	Action  Action
	Outcome Outcome
}

// Result collects the outcomes of one converge cycle in execution order.
type Result struct {
	now     func() time.Time
	records []Record
	mu      sync.RWMutex
	sealed  bool
}

func NewResult() *Result {
	return &Result{now: time.Now}
}

// Add appends one outcome. Nil actions and outcomes are rejected.
func (r *Result) Add(action Action, outcome Outcome) error {
	if action == nil || outcome == nil {
		return ErrIncompleteRecord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}

	r.records = append(r.records, Record{Action: action, Outcome: outcome})

	return nil
}

// AddBool records true as Success and false as a generic Failure.
func (r *Result) AddBool(action Action, ok bool) error {
	if action == nil {
		return ErrIncompleteRecord
	}

	if ok {
		return r.Add(action, Success{ExecutedAt: r.now()})
	}

	return r.Add(action, Failure{Message: string(action.Kind()) + " " + action.PipelineID() + " failed"})
}

// AddError records nil as Success and anything else as Failure.
func (r *Result) AddError(action Action, err error) error {
	if err == nil {
		return r.Add(action, Success{ExecutedAt: r.now()})
	}

	var failure Failure
	if errors.As(err, &failure) {
		return r.Add(action, failure)
	}

	return r.Add(action, Failure{Message: err.Error()})
}

// Seal makes the result read-only.
func (r *Result) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
}

func (r *Result) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sealed
}

// Records returns all records in execution order.
func (r *Result) Records() []Record {
	return r.filter(func(Outcome) bool { return true })
}

// Successful returns the records whose action succeeded.
func (r *Result) Successful() []Record {
	return r.filter(Outcome.Succeeded)
}

// Failed returns the records whose action failed.
func (r *Result) Failed() []Record {
	return r.filter(func(o Outcome) bool { return !o.Succeeded() })
}

func (r *Result) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

func (r *Result) filter(keep func(Outcome) bool) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec.Outcome) {
			out = append(out, rec)
		}
	}

	return out
}
