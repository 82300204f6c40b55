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
	"time"
)

// Outcome is either Success or Failure.
type Outcome interface {
	Succeeded() bool
	isOutcome()
}

type Success struct {
	ExecutedAt time.Time `json:"executed_at"`
}

type Failure struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (Success) Succeeded() bool { return true }
func (Failure) Succeeded() bool { return false }

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// Error makes a Failure usable where an error is expected.
func (f Failure) Error() string {
	return f.Message
}
