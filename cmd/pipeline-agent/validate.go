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

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/filesystem"
)

// validatePipelines fetches the desired pipelines once, checks every config
// with the pipeline factory and prints a table of what would run.
func validatePipelines(cmd *cobra.Command, f *flags) error {
	ctx := cmd.Context()
	fs := filesystem.NewDefaultService()

	settings, err := loadSettings(ctx, fs, cmd.Flags(), f)
	if err != nil {
		return err
	}

	source, err := newSource(fs, settings, f.configString)
	if err != nil {
		return err
	}

	configs, err := source.Fetch(ctx)
	if err != nil {
		return err
	}

	factory := newFactory(fs, settings)
	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintln(out, "ID\tFINGERPRINT\tRELOADABLE\tSYSTEM\tSTATUS")

	var errs []error

	for _, cfg := range configs {
		result := "ok"

		if err := factory.Validate(ctx, cfg); err != nil {
			result = err.Error()
			errs = append(errs, fmt.Errorf("pipeline %s: %w", cfg.ID, err))
		}

		fmt.Fprintf(out, "%s\t%s\t%t\t%t\t%s\n", cfg.ID, cfg.Fingerprint, cfg.Reloadable, cfg.System, result)
	}

	if err := out.Flush(); err != nil {
		return err
	}

	return errors.Join(errs...)
}
