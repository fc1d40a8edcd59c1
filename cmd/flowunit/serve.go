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
	"github.com/spf13/cobra"

	"github.com/ngnhng/flowunit/examples/scenarios/order"
	serverapp "github.com/ngnhng/flowunit/internal/server/app"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var httpPort string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the order capabilities over NATS",
		Long: `Start the capability server. Every external action registered on the
server's dispatcher is listed on <prefix>.tools.list and callable on
<prefix>.tools.call.<name>. Health, readiness, the tool catalog and thread
checkpoints are exposed over HTTP.

Server settings come from FLOWUNIT_* environment variables.`,
		Args: cobra.NoArgs,
		// The server reads its own configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serverapp.Run(cmd.Context(), serverapp.Options{
				NATSURL:  opts.natsURL,
				HTTPPort: httpPort,
				Register: order.RegisterUnits,
			})
		},
	}
	cmd.Flags().StringVar(&httpPort, "http-port", "", "HTTP port (overrides FLOWUNIT_SERVER_PORT)")
	return cmd
}
