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

	"github.com/strata-backup/strata/internal/runx"
	"github.com/strata-backup/strata/internal/strataconfig"
	"github.com/strata-backup/strata/manifest"

	"github.com/spf13/cobra"
)

var configPath string

// RootCmd is strata's top-level cobra command.
var RootCmd = &cobra.Command{
	Use:           "strata",
	Short:         "Back up and restore a filesystem subtree by describing how to rebuild it",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to strata.toml")
}

// Execute runs the root command, the package's sole entry point from main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "strata:", err)
	os.Exit(1)
}

func failf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "strata: "+format+"\n", a...)
	os.Exit(1)
}

// checkCmdDeps verifies every named external binary is on PATH before a
// command that needs it runs, mirroring the mixer tool's
// PersistentPreRunE-based checkCmdDeps rather than letting a handler fail
// deep inside a parallel match or restore.
func checkCmdDeps(bins ...string) error {
	var missing []string
	for _, b := range bins {
		if !runx.Available(b) {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required external tools: %v", missing)
	}
	return nil
}

// newRegistry builds the default handler Registry: PriorityFirst
// handled-by-parent, PriorityMiddle packages + ignore + git handlers,
// PriorityLast basic fallbacks, the exact FIRST/MIDDLE/LAST composition
// spec §4.1 describes. Every subcommand uses this set.
func newRegistry(cfg *strataconfig.Config) *manifest.Registry {
	manifest.SetExtraIgnorePaths(cfg.MatchIgnore)

	reg := manifest.NewRegistry()
	reg.Register(&manifest.HandledByParentHandler{}, manifest.PriorityFirst)

	reg.Register(manifest.NewPackageHandler(manifest.PacmanBackend{}), manifest.PriorityMiddle)
	reg.Register(&manifest.IgnoreHandler{}, manifest.PriorityMiddle)
	// GitCloneHandler is tried before GitBundleHandler: a clone needs a
	// resolvable remote while a bundle only needs a git repository, so the
	// more specific, stronger-signal handler goes first per the original
	// tool's git module docstring and _DEFAULT_HANDLERS order.
	reg.Register(&manifest.GitCloneHandler{}, manifest.PriorityMiddle)
	reg.Register(&manifest.GitBundleHandler{}, manifest.PriorityMiddle)

	reg.Register(&manifest.SymbolicLinkHandler{}, manifest.PriorityLast)
	reg.Register(&manifest.BasicDirectoryHandler{}, manifest.PriorityLast)
	reg.Register(&manifest.BasicFileHandler{}, manifest.PriorityLast)
	return reg
}

func loadConfig() *strataconfig.Config {
	cfg, err := strataconfig.Load(configPath)
	if err != nil {
		fail(err)
	}
	return cfg
}
