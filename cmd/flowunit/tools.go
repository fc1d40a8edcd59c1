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
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ngnhng/flowunit/sdk/resilience"
	"github.com/ngnhng/flowunit/sdk/toolproto"
)

type toolsOptions struct {
	configPath string
	prefix     string
}

func newToolsCmd(opts *globalOptions) *cobra.Command {
	to := &toolsOptions{}

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call remote capabilities",
		Long: `Talk to capability servers over the tool protocol. Servers come from a
YAML client config (--config) or default to the NATS server in
FLOWUNIT_NATS_URL.`,
	}
	cmd.PersistentFlags().StringVar(&to.configPath, "config", "", "tool client config file")
	cmd.PersistentFlags().StringVar(&to.prefix, "prefix", "", "subject prefix of the default server")

	list := &cobra.Command{
		Use:   "list",
		Short: "List remote tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := to.dial(cmd, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			tools, err := client.ListTools(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPARAMS\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, strings.Join(t.Params, ","), t.Description)
			}
			return w.Flush()
		},
	}

	call := &cobra.Command{
		Use:   "call NAME [ARG...]",
		Short: "Call a remote tool",
		Long: `Call a remote tool. Arguments are YAML scalars; either all are
positional or all are KEY=VALUE keyword arguments:
  flowunit tools call quote_shipping widget 3
  flowunit tools call quote_shipping product=widget quantity=3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positional, kwargs, err := parseToolArgs(args[1:])
			if err != nil {
				return err
			}

			client, err := to.dial(cmd, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			var result any
			if kwargs != nil {
				result, err = client.CallToolKwargs(cmd.Context(), args[0], kwargs)
			} else {
				result, err = client.CallTool(cmd.Context(), args[0], positional...)
			}
			if err != nil {
				return err
			}
			if f, ok := resilience.AsFailure(result); ok {
				return fmt.Errorf("%s failed after %d attempts (%s): %s", f.UnitName, f.Attempts, f.ErrorCategory, f.ErrorMessage)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.AddCommand(list, call)
	return cmd
}

func (to *toolsOptions) clientConfig(opts *globalOptions) (toolproto.ClientConfig, error) {
	if to.configPath != "" {
		return toolproto.LoadClientConfig(to.configPath)
	}
	prefix := to.prefix
	if prefix == "" {
		prefix = opts.cfg.NATS.Prefix
	}
	cfg := toolproto.ClientConfig{Servers: []toolproto.ServerConfig{{
		Name:      "default",
		Transport: toolproto.TransportNATS,
		Endpoint:  opts.cfg.NATS.URL,
		Prefix:    prefix,
		Timeout:   opts.cfg.Timeouts.RequestTimeout,
	}}}
	return cfg, cfg.Validate()
}

func (to *toolsOptions) dial(cmd *cobra.Command, opts *globalOptions) (*toolproto.Client, error) {
	cfg, err := to.clientConfig(opts)
	if err != nil {
		return nil, err
	}
	return toolproto.Dial(cmd.Context(), cfg, opts.dialer,
		toolproto.WithSerde(opts.cfg.Codec()),
		toolproto.WithLogger(opts.logger),
	)
}

// parseToolArgs decodes each argument as a YAML scalar. Keyword arguments
// are returned as a non-nil map.
func parseToolArgs(args []string) ([]any, map[string]any, error) {
	if len(args) == 0 {
		return nil, nil, nil
	}
	_, _, keyword := strings.Cut(args[0], "=")

	var positional []any
	var kwargs map[string]any
	if keyword {
		kwargs = make(map[string]any, len(args))
	}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if ok != keyword {
			return nil, nil, fmt.Errorf("argument %q: do not mix positional and keyword arguments", arg)
		}
		if !keyword {
			raw = arg
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, nil, fmt.Errorf("argument %q: %w", arg, err)
		}
		if keyword {
			if key == "" {
				return nil, nil, fmt.Errorf("argument %q: empty keyword", arg)
			}
			kwargs[key] = v
			continue
		}
		positional = append(positional, v)
	}
	return positional, kwargs, nil
}
