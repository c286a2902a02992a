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

type addCmdFlags struct {
	followSymlinks bool
	manifestPath   string
}

var addFlags addCmdFlags

var addCmd = &cobra.Command{
	Use:   "add <path> [path...]",
	Short: "Walk paths into a manifest as unbound entries for a later match run",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		cfg := loadConfig()
		reg := newRegistry(cfg)
		man := manifest.New(reg)
		if addFlags.manifestPath != "" {
			if f, err := os.Open(addFlags.manifestPath); err == nil {
				loaded, err := manifest.Load(f, reg)
				_ = f.Close()
				if err != nil {
					return err
				}
				man = loaded
			}
		}
		for _, path := range args {
			// add leaves every discovered path unbound (per add_file_tree's
			// "files with no explicit handler"); a later `match` run claims
			// each one with a registered handler kind.
			if err := man.AddFileTree(path, addFlags.followSymlinks, false, func(p string) (manifest.HandlerBinding, error) {
				if _, err := os.Lstat(p); err != nil {
					return manifest.HandlerBinding{}, err
				}
				return manifest.Unbound(), nil
			}); err != nil {
				return err
			}
		}
		return writeManifest(man, addFlags.manifestPath)
	},
}

func writeManifest(man *manifest.Manifest, path string) error {
	if path == "" {
		return man.Dump(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := man.Dump(f); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d entries to %s\n", man.Len(), path)
	return nil
}

func init() {
	addCmd.Flags().BoolVarP(&addFlags.followSymlinks, "follow-symlinks", "L", false, "follow symlinks when walking added trees")
	addCmd.Flags().StringVar(&addFlags.manifestPath, "manifest", "", "manifest file to read and write (default stdout)")
	RootCmd.AddCommand(addCmd)
}
