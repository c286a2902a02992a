// Copyright © 2018 Intel Corporation
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

package cmd

import (
	"fmt"
	"os"

	"github.com/strata-backup/strata/internal/slog"
	"github.com/strata-backup/strata/manifest"

	"github.com/spf13/cobra"
)

type matchCmdFlags struct {
	followSymlinks bool
	overwrite      bool
	manifestPath   string
	quiet          bool
}

var matchFlags matchCmdFlags

var matchCmd = &cobra.Command{
	Use:   "match <path>",
	Short: "Walk a filesystem subtree, assigning each unbound path a handler in parallel",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(c *cobra.Command, args []string) error {
		return checkCmdDeps("git")
	},
	RunE: func(c *cobra.Command, args []string) error {
		cfg := loadConfig()
		reg := newRegistry(cfg)
		m := manifest.NewMatcher(reg)
		m.Concurrency = cfg.MatchConcurrencyMax
		m.Overwrite = matchFlags.overwrite
		if matchFlags.manifestPath != "" {
			if f, err := os.Open(matchFlags.manifestPath); err == nil {
				existing, err := manifest.Load(f, reg)
				_ = f.Close()
				if err != nil {
					return err
				}
				m.Existing = existing
			}
		}
		if !matchFlags.quiet {
			m.Progress = func(done, total int) {
				fmt.Fprintf(os.Stderr, "\rmatched %d/%d", done, total)
			}
		}
		man, err := m.Match(args[0], matchFlags.followSymlinks)
		if !matchFlags.quiet {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			slog.Error(slog.Match, "match failed: %v", err)
			return err
		}
		return writeManifest(man, matchFlags.manifestPath)
	},
}

func init() {
	matchCmd.Flags().BoolVarP(&matchFlags.followSymlinks, "follow-symlinks", "L", false, "follow symlinks when walking")
	matchCmd.Flags().BoolVar(&matchFlags.overwrite, "overwrite", false, "overwrite an existing manifest entry")
	matchCmd.Flags().StringVar(&matchFlags.manifestPath, "manifest", "", "manifest file to read existing bindings from and write the result to (default stdout-only)")
	matchCmd.Flags().BoolVar(&matchFlags.quiet, "quiet", false, "suppress progress output")
	RootCmd.AddCommand(matchCmd)
}
