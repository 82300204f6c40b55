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

package converge_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/converge"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
)

var _ = Describe("Executor", func() {
	var (
		ctx      context.Context
		reg      *registry.Registry
		factory  *pipeline.MockFactory
		executor *converge.Executor
	)

	// cycle resolves desired against the registry and executes the actions
	// under one lock, like the agent does.
	cycle := func(desired ...pipeline.Config) ([]converge.Action, *converge.Result) {
		var actions []converge.Action

		result := converge.NewResult()

		Expect(reg.Apply(ctx, func(tx *registry.Tx) {
			actions = converge.Resolve(tx.Snapshot(), desired)
			for _, a := range actions {
				Expect(result.Add(a, executor.Execute(ctx, tx, a))).To(Succeed())
			}
		})).To(Succeed())

		result.Seal()

		return actions, result
	}

	snapshot := func() registry.Snapshot {
		snap, err := reg.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())

		return snap
	}

	BeforeEach(func() {
		ctx = context.Background()
		reg = registry.New()
		factory = pipeline.NewMockFactory()
		executor = converge.NewExecutor(factory, time.Second).WithStallInterval(20 * time.Millisecond)
	})

	It("creates every pipeline on an empty registry", func() {
		x := pipeline.MustNewConfig("x", "x: 1")
		y := pipeline.MustNewConfig("y", "y: 1")

		actions, result := cycle(x, y)

		Expect(actions).To(Equal([]converge.Action{converge.Create{Config: x}, converge.Create{Config: y}}))
		Expect(result.Successful()).To(HaveLen(2))
		Expect(result.Failed()).To(BeEmpty())
		Expect(snapshot().Alive()).To(Equal([]string{"x", "y"}))
	})

	It("stops pipelines that are no longer desired", func() {
		x := pipeline.MustNewConfig("x", "x: 1")
		z := pipeline.MustNewConfig("z", "z: 1")
		cycle(x, z)

		actions, result := cycle(x)

		Expect(actions).To(Equal([]converge.Action{converge.Stop{ID: "z"}}))
		Expect(result.Successful()).To(HaveLen(1))
		Expect(snapshot().IDs()).To(Equal([]string{"x"}))
		Expect(factory.Latest("z").IsAlive()).To(BeFalse())
	})

	It("reloads a changed pipeline onto a new unit", func() {
		fp1 := pipeline.MustNewConfig("x", "x: 1")
		fp2 := pipeline.MustNewConfig("x", "x: 2")
		cycle(fp1)
		old := factory.Latest("x")

		actions, result := cycle(fp2)

		Expect(actions).To(Equal([]converge.Action{converge.Reload{Config: fp2}}))
		Expect(result.Successful()).To(HaveLen(1))
		Expect(snapshot()["x"].Fingerprint).To(Equal(fp2.Fingerprint))
		Expect(old.IsAlive()).To(BeFalse())
		Expect(factory.Latest("x")).NotTo(BeIdenticalTo(old))
		Expect(factory.Latest("x").IsAlive()).To(BeTrue())
	})

	It("is idempotent once a cycle is fully applied", func() {
		desired := []pipeline.Config{pipeline.MustNewConfig("x", "x: 1"), pipeline.MustNewConfig("y", "y: 1")}
		cycle(desired...)

		actions, result := cycle(desired...)
		Expect(actions).To(BeEmpty())
		Expect(result.Total()).To(BeZero())
	})

	It("isolates a failing create from the other actions", func() {
		factory.NewErr["bad"] = errors.New("construction exploded")

		_, result := cycle(
			pipeline.MustNewConfig("good", "g: 1"),
			pipeline.MustNewConfig("bad", "b: 1"),
			pipeline.MustNewConfig("other", "o: 1"),
		)

		Expect(ids(result.Successful())).To(Equal([]string{"good", "other"}))
		Expect(ids(result.Failed())).To(Equal([]string{"bad"}))
		Expect(result.Failed()[0].Outcome.(converge.Failure).Message).To(ContainSubstring("construction exploded"))
		Expect(snapshot().IDs()).To(Equal([]string{"good", "other"}))
	})

	It("does not register a unit whose start fails", func() {
		factory.Configure = func(u *pipeline.MockUnit) { u.StartErr = errors.New("port in use") }

		_, result := cycle(pipeline.MustNewConfig("x", "x: 1"))

		Expect(result.Failed()).To(HaveLen(1))
		Expect(snapshot()).To(BeEmpty())
	})

	It("turns panics into failures with a stack trace", func() {
		factory.Configure = func(u *pipeline.MockUnit) { u.StartPanic = "nil map" }

		_, result := cycle(pipeline.MustNewConfig("x", "x: 1"), pipeline.MustNewConfig("y", "y: 1"))

		Expect(result.Failed()).To(HaveLen(2))
		failure := result.Failed()[0].Outcome.(converge.Failure)
		Expect(failure.Message).To(ContainSubstring("panicked: nil map"))
		Expect(failure.StackTrace).To(ContainSubstring("goroutine"))
	})

	Context("when the pipeline is not reloadable", func() {
		It("reports a failure and leaves the running unit alone", func() {
			running := pipeline.MustNewConfig("x", "x: 1", pipeline.WithReloadable(false))
			cycle(running)
			unit := factory.Latest("x")

			changed := pipeline.MustNewConfig("x", "x: 2", pipeline.WithReloadable(false))
			actions, result := cycle(changed)

			Expect(actions).To(HaveLen(1))
			Expect(actions[0].Kind()).To(Equal(converge.KindRejectReload))
			Expect(result.Failed()).To(HaveLen(1))
			Expect(result.Failed()[0].Outcome.(converge.Failure).Message).To(ContainSubstring(converge.ErrNotReloadable.Error()))
			Expect(snapshot()["x"].Fingerprint).To(Equal(running.Fingerprint))
			Expect(unit.IsAlive()).To(BeTrue())
			Expect(unit.Stops()).To(BeZero())
		})
	})

	Context("when a reload cannot complete", func() {
		var (
			fp1, fp2 pipeline.Config
			old      *pipeline.MockUnit
		)

		BeforeEach(func() {
			fp1 = pipeline.MustNewConfig("x", "x: 1")
			fp2 = pipeline.MustNewConfig("x", "x: 2")
			cycle(fp1)
			old = factory.Latest("x")
		})

		It("keeps the old unit when validation fails", func() {
			factory.ValidateErr["x"] = errors.New("unknown processor")

			_, result := cycle(fp2)

			Expect(result.Failed()).To(HaveLen(1))
			Expect(old.IsAlive()).To(BeTrue())
			Expect(old.Stops()).To(BeZero())
			Expect(snapshot()["x"].Fingerprint).To(Equal(fp1.Fingerprint))
		})

		It("leaves the id absent when the new unit cannot be built", func() {
			factory.NewErr["x"] = errors.New("construction exploded")

			_, result := cycle(fp2)

			Expect(result.Failed()).To(HaveLen(1))
			Expect(old.IsAlive()).To(BeFalse())
			Expect(snapshot()).NotTo(HaveKey("x"))
		})

		It("keeps the old handle when it does not stop", func() {
			old.StopIgnored = true
			executor = converge.NewExecutor(factory, 60*time.Millisecond).WithStallInterval(20 * time.Millisecond)

			_, result := cycle(fp2)

			Expect(result.Failed()).To(HaveLen(1))
			Expect(result.Failed()[0].Outcome.(converge.Failure).Message).To(ContainSubstring(converge.ErrStopTimeout.Error()))
			Expect(snapshot()["x"].Fingerprint).To(Equal(fp1.Fingerprint))
			Expect(factory.Units("x")).To(HaveLen(1))

			old.Exit()
		})
	})

	Context("when a stop times out", func() {
		It("fails, keeps the entry and continues with the next action", func() {
			cycle(pipeline.MustNewConfig("a", "a: 1"), pipeline.MustNewConfig("b", "b: 1"))
			factory.Latest("a").StopIgnored = true
			executor = converge.NewExecutor(factory, 60*time.Millisecond).WithStallInterval(20 * time.Millisecond)

			_, result := cycle()

			Expect(ids(result.Failed())).To(Equal([]string{"a"}))
			Expect(ids(result.Successful())).To(Equal([]string{"b"}))
			Expect(snapshot().IDs()).To(Equal([]string{"a"}))

			factory.Latest("a").Exit()
		})
	})

	It("treats stopping an unknown id as success", func() {
		var outcome converge.Outcome

		Expect(reg.Apply(ctx, func(tx *registry.Tx) {
			outcome = executor.Execute(ctx, tx, converge.Stop{ID: "ghost"})
		})).To(Succeed())

		Expect(outcome.Succeeded()).To(BeTrue())
	})

	It("refuses to create over a registered id", func() {
		x := pipeline.MustNewConfig("x", "x: 1")
		cycle(x)

		var outcome converge.Outcome

		Expect(reg.Apply(ctx, func(tx *registry.Tx) {
			outcome = executor.Execute(ctx, tx, converge.Create{Config: x})
		})).To(Succeed())

		Expect(outcome.Succeeded()).To(BeFalse())
		Expect(factory.Units("x")).To(HaveLen(1))
	})
})
