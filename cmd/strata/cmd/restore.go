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
	"context"
	"fmt"
	"os"

	"github.com/strata-backup/strata/archive"
	"github.com/strata-backup/strata/internal/slog"
	"github.com/strata-backup/strata/manifest"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Restore every path recorded in an archive's manifest",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(c *cobra.Command, args []string) error {
		return checkCmdDeps("git")
	},
	RunE: func(c *cobra.Command, args []string) error {
		cfg := loadConfig()
		reg := newRegistry(cfg)

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		ar, err := archive.NewReader(f)
		if err != nil {
			return err
		}
		man, err := ar.Manifest(reg)
		if err != nil {
			return err
		}

		r := manifest.NewRestorer()
		r.Concurrency = cfg.MatchConcurrencyMax
		result, err := r.Restore(context.Background(), man, ar)
		if err != nil {
			return err
		}
		for _, f := range result.Failures {
			slog.Error(slog.Restore, "%v", f)
		}
		if len(result.Failures) > 0 {
			return fmt.Errorf("restore failed for %d path(s)", len(result.Failures))
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(restoreCmd)
}
