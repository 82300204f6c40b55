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
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

var _ = Describe("ProcessFactory", func() {
	var (
		factory *pipeline.ProcessFactory
		dir     string
		ctx     context.Context
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		ctx = context.Background()
		factory = pipeline.NewProcessFactory(filesystem.NewDefaultService(), "/bin/sh", dir)
		factory.KillGrace = 200 * time.Millisecond
	})

	It("rejects content that is not a YAML mapping", func() {
		for _, content := range []string{"", "- a\n- b", "input: ["} {
			err := factory.Validate(ctx, pipeline.MustNewConfig("bad", content))
			Expect(err).To(MatchError(pipeline.ErrInvalidContent), "content %q", content)
		}

		_, err := factory.New(ctx, pipeline.MustNewConfig("bad", "- a"))
		Expect(err).To(MatchError(pipeline.ErrInvalidContent))
	})

	It("builds file names from id and fingerprint", func() {
		cfg := pipeline.MustNewConfig("plant/line 1", "input: {}")
		Expect(pipeline.ConfigFileName(cfg)).To(Equal("plant_line_1-" + cfg.Fingerprint + ".yaml"))
	})

	It("runs the command with the written config and stops it with SIGTERM", func() {
		factory.Args = []string{"-c", "test -f {config} && exec sleep 30"}
		cfg := pipeline.MustNewConfig("main", "input: {}")
		path := filepath.Join(dir, pipeline.ConfigFileName(cfg))

		unit, err := factory.New(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(BeAnExistingFile())
		Expect(unit.IsAlive()).To(BeFalse())

		Expect(unit.Start()).To(Succeed())
		Consistently(unit.IsAlive, 100*time.Millisecond).Should(BeTrue())

		unit.RequestStop()
		Expect(unit.Join(5 * time.Second)).To(BeTrue())
		Expect(unit.IsAlive()).To(BeFalse())
		Eventually(func() bool {
			_, err := os.Stat(path)

			return os.IsNotExist(err)
		}).Should(BeTrue())
	})

	It("reports a process that exits on its own as dead", func() {
		factory.Args = []string{"-c", "exit 3"}

		unit, err := factory.New(ctx, pipeline.MustNewConfig("main", "input: {}"))
		Expect(err).NotTo(HaveOccurred())
		Expect(unit.Start()).To(Succeed())
		Expect(unit.Join(5 * time.Second)).To(BeTrue())
		Expect(unit.IsAlive()).To(BeFalse())
	})

	It("fails Start when the command does not exist", func() {
		factory.Command = filepath.Join(dir, "does-not-exist")

		unit, err := factory.New(ctx, pipeline.MustNewConfig("main", "input: {}"))
		Expect(err).NotTo(HaveOccurred())
		Expect(unit.Start()).NotTo(Succeed())
		Expect(unit.IsAlive()).To(BeFalse())
	})
})
