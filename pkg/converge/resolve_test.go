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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/converge"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/registry"
)

func entry(cfg pipeline.Config) registry.Entry {
	return registry.Entry{
		ID:          cfg.ID,
		Fingerprint: cfg.Fingerprint,
		Alive:       true,
		Reloadable:  cfg.Reloadable,
		System:      cfg.System,
	}
}

func snapshotOf(cfgs ...pipeline.Config) registry.Snapshot {
	snap := registry.Snapshot{}
	for _, cfg := range cfgs {
		snap[cfg.ID] = entry(cfg)
	}

	return snap
}

var _ = Describe("Resolve", func() {
	var (
		x1, x2, y1, z1 pipeline.Config
	)

	BeforeEach(func() {
		x1 = pipeline.MustNewConfig("x", "input: {a: 1}")
		x2 = pipeline.MustNewConfig("x", "input: {a: 2}")
		y1 = pipeline.MustNewConfig("y", "input: {b: 1}")
		z1 = pipeline.MustNewConfig("z", "input: {c: 1}")
	})

	It("creates everything on an empty registry in desired order", func() {
		actions := converge.Resolve(registry.Snapshot{}, []pipeline.Config{y1, x1})

		Expect(actions).To(Equal([]converge.Action{
			converge.Create{Config: y1},
			converge.Create{Config: x1},
		}))
	})

	It("stops ids that are no longer desired, sorted, after the rest", func() {
		b := pipeline.MustNewConfig("b", "b: 1")
		a := pipeline.MustNewConfig("a", "a: 1")

		actions := converge.Resolve(snapshotOf(z1, b, a, x1), []pipeline.Config{x2, y1})

		Expect(actions).To(Equal([]converge.Action{
			converge.Reload{Config: x2},
			converge.Create{Config: y1},
			converge.Stop{ID: "a"},
			converge.Stop{ID: "b"},
			converge.Stop{ID: "z"},
		}))
	})

	It("does nothing for unchanged fingerprints, even for dead units", func() {
		snap := snapshotOf(x1)
		dead := snap["x"]
		dead.Alive = false
		snap["x"] = dead

		Expect(converge.Resolve(snap, []pipeline.Config{x1})).To(BeEmpty())
	})

	It("treats equal content under another textual source as unchanged", func() {
		again := pipeline.MustNewConfig("x", "input: {a: 1}", pipeline.WithReloadable(false))

		Expect(converge.Resolve(snapshotOf(x1), []pipeline.Config{again})).To(BeEmpty())
	})

	It("rejects a reload when the new config is not reloadable", func() {
		locked := pipeline.MustNewConfig("x", "input: {a: 2}", pipeline.WithReloadable(false))

		Expect(converge.Resolve(snapshotOf(x1), []pipeline.Config{locked})).To(Equal([]converge.Action{
			converge.RejectReload{Config: locked, RunningFingerprint: x1.Fingerprint},
		}))
	})

	It("rejects a reload when the running pipeline is not reloadable", func() {
		running := pipeline.MustNewConfig("x", "input: {a: 1}", pipeline.WithReloadable(false))

		actions := converge.Resolve(snapshotOf(running), []pipeline.Config{x2})
		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Kind()).To(Equal(converge.KindRejectReload))
	})

	It("keeps the first of duplicated desired ids", func() {
		actions := converge.Resolve(registry.Snapshot{}, []pipeline.Config{x1, y1, x2})

		Expect(actions).To(Equal([]converge.Action{
			converge.Create{Config: x1},
			converge.Create{Config: y1},
		}))
	})

	It("is deterministic", func() {
		current := snapshotOf(x1, z1, pipeline.MustNewConfig("q", "q: 1"))
		desired := []pipeline.Config{x2, y1}

		first := converge.Resolve(current, desired)
		for range 20 {
			Expect(converge.Resolve(current, desired)).To(Equal(first))
		}
	})

	It("emits exactly one action per affected id", func() {
		current := snapshotOf(x1, z1)
		desired := []pipeline.Config{x2, y1}

		perID := map[string][]converge.Kind{}
		for _, a := range converge.Resolve(current, desired) {
			perID[a.PipelineID()] = append(perID[a.PipelineID()], a.Kind())
		}

		Expect(perID).To(Equal(map[string][]converge.Kind{
			"x": {converge.KindReload},
			"y": {converge.KindCreate},
			"z": {converge.KindStop},
		}))
	})

	It("renders actions for logs", func() {
		Expect(converge.Stop{ID: "z"}.String()).To(Equal("Stop(z)"))
		Expect(converge.Create{Config: x1}.String()).To(Equal("Create(x@" + x1.Fingerprint + ")"))
	})
})
