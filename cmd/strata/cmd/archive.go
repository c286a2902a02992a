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
	"os"

	"github.com/strata-backup/strata/archive"
	"github.com/strata-backup/strata/manifest"

	"github.com/spf13/cobra"
)

type archiveCmdFlags struct {
	manifestPath string
	out          string
	compression  string
}

var archiveFlags archiveCmdFlags

var archiveCmd = &cobra.Command{
	Use:   "archive <manifest>",
	Short: "Bundle a manifest and its handlers' extra data into a compressed tar stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		cfg := loadConfig()
		reg := newRegistry(cfg)

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		man, err := manifest.Load(f, reg)
		_ = f.Close()
		if err != nil {
			return err
		}

		out := os.Stdout
		if archiveFlags.out != "" {
			w, err := os.Create(archiveFlags.out)
			if err != nil {
				return err
			}
			defer w.Close()
			out = w
		}

		aw, err := archive.NewWriter(out, archive.Compression(archiveFlags.compression))
		if err != nil {
			return err
		}
		if err := aw.AddManifest(man); err != nil {
			return err
		}
		if err := aw.WriteManifestHandlers(man); err != nil {
			return err
		}
		return aw.Close()
	},
}

func init() {
	archiveCmd.Flags().StringVar(&archiveFlags.out, "out", "", "archive file to write (default stdout)")
	archiveCmd.Flags().StringVar(&archiveFlags.compression, "compression", "gz", "compression: gz, bz2, or none")
	RootCmd.AddCommand(archiveCmd)
}
