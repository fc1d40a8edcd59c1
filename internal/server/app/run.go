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

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/ngnhng/flowunit/internal/server/config"
	"github.com/ngnhng/flowunit/internal/server/logger"
	"github.com/ngnhng/flowunit/sdk/dispatch"
	"github.com/ngnhng/flowunit/sdk/resilience"
)

// Options carry command-line overrides and the units to serve.
type Options struct {
	NATSURL  string
	HTTPPort string

	// Register adds the units the server exposes.
	Register func(d *dispatch.Dispatcher) error
}

// Run loads the configuration, serves the registered capabilities and blocks
// until SIGINT, SIGTERM or a component failure.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if opts.NATSURL != "" {
		cfg.NATS.URL = opts.NATSURL
	}
	if opts.HTTPPort != "" {
		cfg.Server.Port = opts.HTTPPort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	defer cfg.Logger.CloseFiles()

	log, err := logger.NewLogger(ctx, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log.Slogger)
	defer func() {
		if err := log.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to shut down logger provider", "error", err)
		}
	}()

	d := dispatch.New(
		dispatch.WithLogger(log.Slogger),
		dispatch.WithRetrier(resilience.New(resilience.WithLogger(log.Slogger))),
		dispatch.WithSerde(cfg.Codec()),
	)
	if opts.Register != nil {
		if err := opts.Register(d); err != nil {
			return fmt.Errorf("register units: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := NewManager(ctx, cfg, d, log.Slogger)
	if err != nil {
		return err
	}

	slog.Info("flowunit server starting", "service", cfg.ServiceName(), "version", cfg.GetVersion(), "mode", cfg.Mode)
	return mgr.Run(ctx)
}
