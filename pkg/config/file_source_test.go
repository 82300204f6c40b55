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

package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/backoff"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/config"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

var fastRetry = backoff.Policy{
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	MaxRetries:      3,
}

var _ = Describe("FileSource", func() {
	var (
		ctx context.Context
		fs  *filesystem.MockFileSystem
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewMockFileSystem()
	})

	fetch := func(path string) ([]pipeline.Config, error) {
		return config.NewFileSource(fs, path).WithPolicy(fastRetry).Fetch(ctx)
	}

	Context("formats", func() {
		It("reads YAML in declaration order", func() {
			fs.WithFile("/etc/agent/pipelines.yml", []byte(`
pipelines:
  - id: opcua
    config: |
      input:
        opcua: {}
    workers: 4
  - id: modbus
    config: "input: {}"
    reloadable: false
  - id: monitor
    config: "input: {}"
    system: true
`))

			configs, err := fetch("/etc/agent/pipelines.yml")
			Expect(err).NotTo(HaveOccurred())
			Expect(configs).To(HaveLen(3))

			Expect(configs[0].ID).To(Equal("opcua"))
			Expect(configs[0].Settings.Workers).To(Equal(4))
			Expect(configs[0].Settings.BatchSize).To(Equal(constants.DefaultPipelineBatchSize))
			Expect(configs[0].Reloadable).To(BeTrue())

			Expect(configs[1].ID).To(Equal("modbus"))
			Expect(configs[1].Reloadable).To(BeFalse())

			Expect(configs[2].System).To(BeTrue())
		})

		It("reads JSON", func() {
			fs.WithFile("/etc/agent/pipelines.json", []byte(
				`{"pipelines":[{"id":"a","config":"input: {}","batch_size":10}]}`))

			configs, err := fetch("/etc/agent/pipelines.json")
			Expect(err).NotTo(HaveOccurred())
			Expect(configs).To(HaveLen(1))
			Expect(configs[0].Settings.BatchSize).To(Equal(10))
		})

		It("reads TOML", func() {
			fs.WithFile("/etc/agent/pipelines.toml", []byte(`
[[pipelines]]
id = "a"
config = "input: {}"

[[pipelines]]
id = "b"
config = "input: {}"
reloadable = false
`))

			configs, err := fetch("/etc/agent/pipelines.toml")
			Expect(err).NotTo(HaveOccurred())
			Expect(configs).To(HaveLen(2))
			Expect(configs[1].ID).To(Equal("b"))
			Expect(configs[1].Reloadable).To(BeFalse())
		})

		It("produces the same fingerprint regardless of format", func() {
			fs.WithFile("/p.yaml", []byte("pipelines:\n  - id: a\n    config: \"x: 1\"\n"))
			fs.WithFile("/p.json", []byte(`{"pipelines":[{"id":"a","config":"x: 1"}]}`))

			fromYAML, err := fetch("/p.yaml")
			Expect(err).NotTo(HaveOccurred())
			fromJSON, err := fetch("/p.json")
			Expect(err).NotTo(HaveOccurred())

			Expect(fromYAML[0].Fingerprint).To(Equal(fromJSON[0].Fingerprint))
		})

		It("retries a blank file and then fails", func() {
			fs.WithFile("/p.yaml", []byte(" \n\t\n"))

			configs, err := fetch("/p.yaml")
			Expect(err).To(MatchError(config.ErrEmptyPipelines))
			Expect(configs).To(BeNil())
			Expect(fs.Calls("ReadFile")).To(Equal(int(fastRetry.MaxRetries) + 1))
		})

		It("picks up a file that was rewritten while retrying", func() {
			attempts := 0
			fs.ReadFileFunc = func(context.Context, string) ([]byte, error) {
				attempts++
				if attempts < 3 {
					return nil, nil
				}

				return []byte("pipelines:\n  - id: a\n    config: \"x: 1\"\n"), nil
			}

			configs, err := fetch("/p.yaml")
			Expect(err).NotTo(HaveOccurred())
			Expect(configs).To(HaveLen(1))
		})

		It("accepts an explicit empty list", func() {
			fs.WithFile("/p.yaml", []byte("pipelines: []\n"))

			configs, err := fetch("/p.yaml")
			Expect(err).NotTo(HaveOccurred())
			Expect(configs).To(BeEmpty())
		})

		It("rejects unknown extensions", func() {
			fs.WithFile("/p.ini", []byte("x=1"))

			_, err := fetch("/p.ini")
			Expect(err).To(MatchError(config.ErrUnsupportedFormat))
		})
	})

	Context("path globs", func() {
		It("concatenates the matches in sorted order", func() {
			fs.WithFile("/etc/agent/pipelines.yml", []byte("pipelines:\n  - id: a\n    path: conf/a-*.yaml\n"))
			fs.WithFile("/etc/agent/conf/a-2.yaml", []byte("output: {}"))
			fs.WithFile("/etc/agent/conf/a-1.yaml", []byte("input: {}\n"))
			fs.WithFile("/etc/agent/conf/b-1.yaml", []byte("other: {}\n"))

			configs, err := fetch("/etc/agent/pipelines.yml")
			Expect(err).NotTo(HaveOccurred())
			Expect(configs[0].Content).To(Equal("input: {}\noutput: {}\n"))
		})

		It("fails when nothing matches", func() {
			fs.WithFile("/etc/agent/pipelines.yml", []byte("pipelines:\n  - id: a\n    path: missing/*.yaml\n"))

			_, err := fetch("/etc/agent/pipelines.yml")
			Expect(err).To(MatchError(config.ErrInvalidPipelines))
			Expect(err.Error()).To(ContainSubstring("matched no files"))
		})
	})

	Context("invalid entries", func() {
		DescribeTable("fail the whole fetch",
			func(body, reason string) {
				fs.WithFile("/p.yaml", []byte(body))

				configs, err := fetch("/p.yaml")
				Expect(err).To(MatchError(config.ErrInvalidPipelines))
				Expect(err.Error()).To(ContainSubstring(reason))
				Expect(configs).To(BeNil())
			},
			Entry("empty id", "pipelines:\n  - config: x\n", "id must not be empty"),
			Entry("duplicate id", "pipelines:\n  - id: a\n    config: x\n  - id: a\n    config: y\n", "duplicate id"),
			Entry("config and path", "pipelines:\n  - id: a\n    config: x\n    path: y\n", "mutually exclusive"),
			Entry("neither config nor path", "pipelines:\n  - id: a\n", "one of config or path"),
			Entry("malformed yaml", "pipelines: [", "p.yaml"),
		)
	})

	Context("reading", func() {
		It("does not retry a missing file", func() {
			_, err := fetch("/p.yaml")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
			Expect(fs.Calls("ReadFile")).To(Equal(1))
		})

		It("retries transient read errors", func() {
			attempts := 0
			fs.ReadFileFunc = func(context.Context, string) ([]byte, error) {
				attempts++
				if attempts < 3 {
					return nil, errors.New("resource temporarily unavailable")
				}

				return []byte("pipelines:\n  - id: a\n    config: x\n"), nil
			}

			configs, err := fetch("/p.yaml")
			Expect(err).NotTo(HaveOccurred())
			Expect(configs).To(HaveLen(1))
			Expect(attempts).To(Equal(3))
		})

		It("gives up after the retries are used", func() {
			fs.ReadFileFunc = func(context.Context, string) ([]byte, error) {
				return nil, errors.New("io error")
			}

			_, err := fetch("/p.yaml")
			Expect(err).To(MatchError(ContainSubstring("io error")))
			Expect(fs.Calls("ReadFile")).To(Equal(int(fastRetry.MaxRetries) + 1))
		})
	})

	Context("watching", func() {
		var (
			dir    string
			path   string
			source *config.FileSource
		)

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
			path = filepath.Join(dir, "pipelines.yml")
			Expect(os.WriteFile(path, []byte("pipelines: []\n"), 0o644)).To(Succeed())

			source = config.NewFileSource(filesystem.NewDefaultService(), path)

			watchCtx, cancel := context.WithCancel(context.Background())
			DeferCleanup(cancel)
			Expect(source.Watch(watchCtx)).To(Succeed())
			DeferCleanup(source.Close)
		})

		It("notifies once for a burst of writes", func() {
			for range 3 {
				Expect(os.WriteFile(path, []byte("pipelines:\n  - id: a\n    config: x\n"), 0o644)).To(Succeed())
			}

			Eventually(source.Changes()).Should(Receive())
			Consistently(source.Changes(), 2*constants.ConfigWatchDebounce).ShouldNot(Receive())
		})

		It("ignores unrelated files in the same directory", func() {
			Expect(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644)).To(Succeed())

			Consistently(source.Changes(), 3*constants.ConfigWatchDebounce).ShouldNot(Receive())
		})

		It("refuses to watch twice", func() {
			Expect(source.Watch(context.Background())).NotTo(Succeed())
		})
	})
})

var _ = Describe("StaticSource", func() {
	It("returns a copy of its configs", func() {
		source := config.NewStaticSource(pipeline.MustNewConfig("a", "x"))

		first, err := source.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		first[0].ID = "mutated"

		second, err := source.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(second[0].ID).To(Equal("a"))
	})

	It("builds the main pipeline from a config string", func() {
		source, err := config.NewMainSource("input: {}")
		Expect(err).NotTo(HaveOccurred())

		configs, err := source.Fetch(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(configs).To(ConsistOf(HaveField("ID", constants.MainPipelineID)))
	})

	It("honours cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := config.NewStaticSource().Fetch(ctx)
		Expect(err).To(MatchError(context.Canceled))
	})
})
