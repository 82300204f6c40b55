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

package backoff

import "errors"

// ErrorCategory tells Retry how to treat a failed attempt.
type ErrorCategory int

const (
	// CategoryIgnored marks an error that is logged but counts as success,
	// e.g. a watched file that vanished between the event and the read.
	CategoryIgnored ErrorCategory = iota

	// CategoryTransient marks an error worth retrying, e.g. a pipelines file
	// that is being rewritten by an editor.
	CategoryTransient

	// CategoryPermanent marks an error that retrying will not fix, e.g. a
	// parse error. Retry returns it immediately.
	CategoryPermanent
)

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// IsCategory checks if the CategorizedError has the specified category.
func (ce *CategorizedError) IsCategory(category ErrorCategory) bool {
	return ce.Category == category
}

// NewIgnoredError wraps err as CategoryIgnored.
func NewIgnoredError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryIgnored}
}

// NewTransientError wraps err as CategoryTransient.
func NewTransientError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentError wraps err as CategoryPermanent.
func NewPermanentError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// CategorizeError makes every uncategorized error Transient.
func CategorizeError(err error) error {
	if err == nil {
		return nil
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return err
	}

	return NewTransientError(err)
}

func IsIgnoredError(err error) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.IsCategory(CategoryIgnored)
}

func IsTransientError(err error) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.IsCategory(CategoryTransient)
}

func IsPermanentError(err error) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.IsCategory(CategoryPermanent)
}
