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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

var _ = Describe("Config", func() {
	It("rejects an empty id", func() {
		_, err := pipeline.NewConfig("", "input: {}")
		Expect(err).To(MatchError(pipeline.ErrEmptyID))
	})

	It("defaults to reloadable with default settings", func() {
		cfg := pipeline.MustNewConfig("main", "input: {}")

		Expect(cfg.Reloadable).To(BeTrue())
		Expect(cfg.System).To(BeFalse())
		Expect(cfg.Settings).To(Equal(pipeline.DefaultSettings()))
		Expect(cfg.Fingerprint).To(MatchRegexp(`^[0-9a-f]{16}$`))
	})

	It("gives equal content and settings the same fingerprint", func() {
		a := pipeline.MustNewConfig("a", "input: {}")
		b := pipeline.MustNewConfig("b", "input: {}", pipeline.WithReloadable(false))

		Expect(a.Fingerprint).To(Equal(b.Fingerprint))
	})

	It("changes the fingerprint when content or settings change", func() {
		base := pipeline.MustNewConfig("main", "input: {}")
		content := pipeline.MustNewConfig("main", "input: {generate: {}}")
		workers := pipeline.MustNewConfig("main", "input: {}", pipeline.WithSettings(pipeline.Settings{Workers: 4}))

		Expect(content.Fingerprint).NotTo(Equal(base.Fingerprint))
		Expect(workers.Fingerprint).NotTo(Equal(base.Fingerprint))
		Expect(workers.Settings.BatchSize).To(Equal(pipeline.DefaultSettings().BatchSize))
	})

	It("panics in MustNewConfig on invalid input", func() {
		Expect(func() { pipeline.MustNewConfig("", "") }).To(Panic())
	})
})
