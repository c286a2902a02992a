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

	"github.com/strata-backup/strata/manifest"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune <manifest>",
	Short: "Remove manifest entries whose path no longer exists on disk",
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

		pruned := 0
		for _, path := range man.Paths() {
			if _, err := os.Lstat(path); os.IsNotExist(err) {
				man.Remove(path)
				pruned++
			}
		}
		fmt.Fprintf(os.Stderr, "pruned %d entries\n", pruned)
		return writeManifest(man, args[0])
	},
}

func init() {
	RootCmd.AddCommand(pruneCmd)
}
