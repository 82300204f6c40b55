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

package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

var _ = Describe("Task", func() {
	It("runs until stop is requested", func() {
		task := pipeline.NewTask(context.Background(), "main", func(ctx context.Context) error {
			<-ctx.Done()

			return ctx.Err()
		})

		Expect(task.IsAlive()).To(BeFalse())
		Expect(task.Start()).To(Succeed())
		Expect(task.IsAlive()).To(BeTrue())
		Expect(task.Join(20 * time.Millisecond)).To(BeFalse())

		task.RequestStop()
		Expect(task.Join(time.Second)).To(BeTrue())
		Expect(task.IsAlive()).To(BeFalse())
		Expect(task.Err()).To(MatchError(context.Canceled))
	})

	It("refuses a second start", func() {
		task := pipeline.NewTask(context.Background(), "main", func(context.Context) error { return nil })

		Expect(task.Start()).To(Succeed())
		Expect(task.Start()).To(MatchError(pipeline.ErrAlreadyStarted))
		Expect(task.Join(0)).To(BeTrue())
	})

	It("is not stopped by the construction context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		task := pipeline.NewTask(ctx, "main", func(ctx context.Context) error {
			<-ctx.Done()

			return nil
		})
		Expect(task.Start()).To(Succeed())

		cancel()
		Consistently(task.IsAlive, 50*time.Millisecond).Should(BeTrue())

		task.RequestStop()
		Expect(task.Join(time.Second)).To(BeTrue())
	})

	It("turns a panic into an error", func() {
		task := pipeline.NewTask(context.Background(), "main", func(context.Context) error {
			panic("boom")
		})

		Expect(task.Start()).To(Succeed())
		Expect(task.Join(time.Second)).To(BeTrue())
		Expect(task.Err()).To(MatchError(ContainSubstring("main panicked: boom")))
	})

	It("reports a body that exits on its own as dead", func() {
		errDone := errors.New("input closed")
		task := pipeline.NewTask(context.Background(), "main", func(context.Context) error { return errDone })

		Expect(task.Start()).To(Succeed())
		Eventually(task.IsAlive).Should(BeFalse())
		Expect(task.Err()).To(MatchError(errDone))
	})

	It("joins immediately when never started", func() {
		task := pipeline.NewTask(context.Background(), "main", func(context.Context) error { return nil })
		Expect(task.Join(time.Millisecond)).To(BeTrue())
	})
})
