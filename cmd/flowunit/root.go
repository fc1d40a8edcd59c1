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
	"context"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	jetstreamx "github.com/ngnhng/flowunit/internal/server/infra/jetstream"
	"github.com/ngnhng/flowunit/internal/server/logger"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
	"github.com/ngnhng/flowunit/sdk/config"
	"github.com/ngnhng/flowunit/sdk/dispatch"
	"github.com/ngnhng/flowunit/sdk/resilience"
	"github.com/ngnhng/flowunit/sdk/toolproto"
)

// globalOptions are shared by every subcommand. They are resolved once in
// the root's PersistentPreRunE.
type globalOptions struct {
	verbose bool
	natsURL string
	store   string
	codec   string

	redisAddr   string
	postgresDSN string

	cfg    *config.Config
	logger *slog.Logger

	// dialer reaches remote tool servers; tests swap it for a loopback.
	dialer toolproto.Dialer
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&globalOptions{dialer: toolproto.DialNATS})
}

func newRootCmdWith(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "flowunit",
		Short: "Resilient execution units and mutable workflow graphs",
		Long: `flowunit runs functions as retried execution units, wires them into
workflow graphs that can be reshaped between runs, and serves them to
remote callers over NATS.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.load,
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output and node events")
	flags.StringVar(&opts.natsURL, "nats-url", "", "NATS URL (overrides FLOWUNIT_NATS_URL)")
	flags.StringVar(&opts.store, "store", "", "checkpoint store: memory, nats, redis or postgres (overrides FLOWUNIT_CHECKPOINT_BACKEND)")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for --store redis")
	flags.StringVar(&opts.postgresDSN, "postgres-dsn", "", "Postgres connection URL for --store postgres")
	flags.StringVar(&opts.codec, "codec", "", "checkpoint and wire codec: json or msgpack")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newExampleCmd(opts),
		newToolsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *globalOptions) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.natsURL != "" {
		cfg.NATS.URL = o.natsURL
	}
	if o.codec != "" {
		cfg.Checkpoint.Codec = o.codec
	}
	if o.store != "" {
		cfg.Checkpoint.Backend = o.store
	}
	if o.redisAddr != "" {
		cfg.Checkpoint.RedisAddr = o.redisAddr
	}
	if o.postgresDSN != "" {
		cfg.Checkpoint.PostgresDSN = o.postgresDSN
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(logger.NewDebugHandler(cmd.ErrOrStderr(), level))
	return nil
}

func (o *globalOptions) newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(
		dispatch.WithLogger(o.logger),
		dispatch.WithRetrier(resilience.New(resilience.WithLogger(o.logger))),
		dispatch.WithDefaultPolicy(o.cfg.Policy()),
		dispatch.WithSerde(o.cfg.Codec()),
		dispatch.WithDialer(o.dialer),
	)
}

// openStore returns the selected checkpoint store and a function releasing
// whatever it holds open.
func (o *globalOptions) openStore(ctx context.Context) (checkpoint.Store, func(), error) {
	switch o.cfg.Checkpoint.Backend {
	case checkpoint.BackendMemory:
		return checkpoint.NewMemory(), func() {}, nil
	case checkpoint.BackendRedis:
		s, err := checkpoint.DialRedis(ctx, o.cfg.Checkpoint.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case checkpoint.BackendPostgres:
		s, err := checkpoint.OpenPostgres(ctx, o.cfg.Checkpoint.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	conn, err := jetstreamx.Connect(o.cfg)
	if err != nil {
		return nil, nil, err
	}
	kv, err := conn.EnsureKV(ctx, jetstream.KeyValueConfig{
		Bucket:      o.cfg.Checkpoint.Bucket,
		Description: "flowunit workflow checkpoints",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return checkpoint.NewKV(kv), conn.Close, nil
}
