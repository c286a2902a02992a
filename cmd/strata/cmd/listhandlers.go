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

	"github.com/spf13/cobra"
)

var listHandlersCmd = &cobra.Command{
	Use:   "list-handlers",
	Short: "List every registered handler kind, in match priority order",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		cfg := loadConfig()
		reg := newRegistry(cfg)
		for _, h := range reg.Ordered() {
			fmt.Println(h.Kind())
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(listHandlersCmd)
}
