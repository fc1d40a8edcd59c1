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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/ngnhng/flowunit/examples/scenarios/order"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
	"github.com/ngnhng/flowunit/sdk/graph"
	"github.com/ngnhng/flowunit/sdk/graphdef"
)

type runOptions struct {
	thread string
	resume bool
	input  order.State

	update []string
	reduce []string
	expand []string
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [GRAPH_FILE]",
		Short: "Run an order graph",
		Long: `Run the order workflow over a YAML graph definition. Without a file the
built-in order graph is used.

The active pipeline can be reshaped before the run:
  flowunit run --update ship=express_ship --expand fraud_check:3 --reduce notify

With a persistent --store and a --thread id, every step is checkpointed and an
interrupted thread continues with --resume.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runGraph(cmd, opts, ro, path)
		},
	}

	f := cmd.Flags()
	f.StringVar(&ro.thread, "thread", "", "thread id to checkpoint under (generated when empty)")
	f.BoolVar(&ro.resume, "resume", false, "continue --thread from its latest checkpoint")
	f.StringVar(&ro.input.OrderID, "order", "o-cli", "order id")
	f.StringVar(&ro.input.Customer, "customer", "anonymous", "customer name")
	f.StringVar(&ro.input.Product, "product", "widget", "product to order")
	f.IntVar(&ro.input.Quantity, "quantity", 1, "units to order")
	f.StringVar(&ro.input.Priority, "priority", "standard", "shipping priority")
	f.StringSliceVar(&ro.update, "update", nil, "replace an active node: OLD=NEW")
	f.StringSliceVar(&ro.reduce, "reduce", nil, "deactivate a node")
	f.StringSliceVar(&ro.expand, "expand", nil, "activate a node: NAME or NAME:POSITION")
	return cmd
}

func runGraph(cmd *cobra.Command, opts *globalOptions, ro *runOptions, path string) error {
	ctx := cmd.Context()
	if ro.resume && ro.thread == "" {
		return errors.New("--resume needs --thread")
	}
	if ro.resume && opts.cfg.Checkpoint.Backend == checkpoint.BackendMemory {
		return errors.New("--resume needs a persistent store, use --store nats, redis or postgres")
	}

	def, err := loadDefinition(path)
	if err != nil {
		return err
	}

	d := opts.newDispatcher()
	defer func() { _ = d.Close(ctx) }()
	if err := order.RegisterUnits(d); err != nil {
		return err
	}

	store, closeStore, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engineOpts := opts.cfg.EngineOptions()
	if opts.verbose {
		out := cmd.ErrOrStderr()
		engineOpts = append(engineOpts, graph.WithObserver(func(ev graph.Event) {
			switch ev.Kind {
			case graph.NodeCompleted:
				fmt.Fprintf(out, "step %d %s %s -> %s (%s)\n", ev.Step, ev.Node, ev.Kind, ev.Next, ev.Elapsed)
			case graph.NodeFailed:
				fmt.Fprintf(out, "step %d %s %s: %v\n", ev.Step, ev.Node, ev.Kind, ev.Err)
			}
		}))
	}

	g, err := order.NewGraph(d, def,
		graph.WithLogger[order.State](opts.logger),
		graph.WithEngineOptions[order.State](engineOpts...),
		graph.WithCheckpointer[order.State](store, opts.cfg.Codec()),
	)
	if err != nil {
		return err
	}
	if err := ro.reshape(g); err != nil {
		return err
	}

	var out order.State
	if ro.resume {
		out, err = g.Resume(ctx, ro.thread)
	} else {
		thread := ro.thread
		if thread == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			thread = "run-" + id.String()
		}
		out, err = g.Run(ctx, ro.input, graph.WithThreadID(thread))
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadDefinition(path string) (*graphdef.Definition, error) {
	if path == "" {
		return order.Definition()
	}
	return graphdef.Load(path)
}

// reshape applies updates, then reductions, then expansions.
func (ro *runOptions) reshape(g *graph.Mutable[order.State]) error {
	for _, u := range ro.update {
		old, replacement, ok := strings.Cut(u, "=")
		if !ok {
			return fmt.Errorf("--update %q: want OLD=NEW", u)
		}
		if err := g.Update(old, replacement); err != nil {
			return err
		}
	}
	for _, name := range ro.reduce {
		if err := g.Reduce(name); err != nil {
			return err
		}
	}
	for _, e := range ro.expand {
		name, pos, hasPos := strings.Cut(e, ":")
		if !hasPos {
			if err := g.Expand(name); err != nil {
				return err
			}
			continue
		}
		n, err := strconv.Atoi(pos)
		if err != nil {
			return fmt.Errorf("--expand %q: bad position: %w", e, err)
		}
		if err := g.Expand(name, n); err != nil {
			return err
		}
	}
	return nil
}
