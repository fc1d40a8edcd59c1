// Copyright 2025 Nguyen Nhat Nguyen
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
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ngnhng/flowunit/examples/scenarios"
	_ "github.com/ngnhng/flowunit/examples/scenarios/mutation"
	_ "github.com/ngnhng/flowunit/examples/scenarios/order"
	_ "github.com/ngnhng/flowunit/examples/scenarios/recovery"
	_ "github.com/ngnhng/flowunit/examples/scenarios/retries"
	_ "github.com/ngnhng/flowunit/examples/scenarios/routing"
	_ "github.com/ngnhng/flowunit/examples/scenarios/services"
)

func newExampleCmd(opts *globalOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "example [NAME]",
		Short: "Run a built-in scenario",
		Long:  "Run one of the built-in scenarios. Without a name, or with --list, the scenarios are listed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || len(args) == 0 {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tDESCRIPTION")
				for _, name := range scenarios.Names() {
					example, _ := scenarios.Get(name)
					fmt.Fprintf(w, "%s\t%s\n", name, example.Description())
				}
				return w.Flush()
			}

			example, ok := scenarios.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown example %q, available: %s", args[0], strings.Join(scenarios.Names(), ", "))
			}

			ctx := cmd.Context()
			d := opts.newDispatcher()
			defer func() { _ = d.Close(ctx) }()
			if err := example.Register(d); err != nil {
				return err
			}

			store, closeStore, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			return example.Run(ctx, scenarios.Env{
				Dispatcher:    d,
				Store:         store,
				Codec:         opts.cfg.Codec(),
				EngineOptions: opts.cfg.EngineOptions(),
				Logger:        opts.logger,
				Out:           cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list the scenarios and exit")
	return cmd
}
