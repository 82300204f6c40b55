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

package backoff_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/backoff"
)

var errBusy = errors.New("file busy")

var _ = Describe("Error categories", func() {
	It("treats uncategorized errors as transient", func() {
		err := backoff.CategorizeError(errBusy)
		Expect(backoff.IsTransientError(err)).To(BeTrue())
		Expect(errors.Is(err, errBusy)).To(BeTrue())
	})

	It("keeps an existing category", func() {
		err := backoff.CategorizeError(fmt.Errorf("parse: %w", backoff.NewPermanentError(errBusy)))
		Expect(backoff.IsPermanentError(err)).To(BeTrue())
		Expect(backoff.IsTransientError(err)).To(BeFalse())
	})

	It("returns nil for nil", func() {
		Expect(backoff.CategorizeError(nil)).To(BeNil())
		Expect(backoff.IsIgnoredError(nil)).To(BeFalse())
	})
})

var _ = Describe("Retry", func() {
	var policy backoff.Policy

	BeforeEach(func() {
		policy = backoff.Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxRetries: 3}
	})

	It("retries transient errors until success", func() {
		calls := 0
		err := backoff.Retry(context.Background(), policy, func() error {
			calls++
			if calls < 3 {
				return errBusy
			}

			return nil
		}, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(3))
	})

	It("gives up after the configured retries", func() {
		calls := 0
		err := backoff.Retry(context.Background(), policy, func() error {
			calls++

			return errBusy
		}, nil)

		Expect(err).To(MatchError(errBusy))
		Expect(calls).To(Equal(4))
	})

	It("stops at the first permanent error", func() {
		calls := 0
		err := backoff.Retry(context.Background(), policy, func() error {
			calls++

			return backoff.NewPermanentError(errBusy)
		}, nil)

		Expect(backoff.IsPermanentError(err)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})

	It("reports ignored errors as success", func() {
		err := backoff.Retry(context.Background(), policy, func() error {
			return backoff.NewIgnoredError(errBusy)
		}, nil)

		Expect(err).NotTo(HaveOccurred())
	})

	It("does not run the operation when the context is already done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := backoff.Retry(ctx, policy, func() error {
			calls++

			return nil
		}, nil)

		Expect(err).To(MatchError(context.Canceled))
		Expect(calls).To(BeZero())
	})
})
