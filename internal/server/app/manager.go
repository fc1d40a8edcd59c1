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
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/internal/server/config"
	httphandler "github.com/ngnhng/flowunit/internal/server/handler/http"
	"github.com/ngnhng/flowunit/internal/server/handler/tools"
	jetstreamx "github.com/ngnhng/flowunit/internal/server/infra/jetstream"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
	"github.com/ngnhng/flowunit/sdk/dispatch"
)

type Manager struct {
	cfg        *config.Config
	conn       *jetstreamx.Connection
	dispatcher *dispatch.Dispatcher
	handler    *tools.Handler
	httpServer *httphandler.Server
	store      checkpoint.Store
	closeStore func()
	logger     *slog.Logger
}

// NewManager connects to NATS, prepares the checkpoint bucket and wires the
// tool handler and HTTP server around d.
func NewManager(ctx context.Context, cfg *config.Config, d *dispatch.Dispatcher, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := jetstreamx.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if !conn.IsConnected() {
		conn.Close()
		return nil, fmt.Errorf("cannot connect to NATS instance")
	}

	m := &Manager{
		cfg:        cfg,
		conn:       conn,
		dispatcher: d,
		logger:     logger,
		handler: tools.NewHandler(d, cfg.Codec(),
			tools.WithPrefix(cfg.Tools.Prefix),
			tools.WithTimeout(cfg.Timeouts.RequestTimeout),
			tools.WithRateLimit(cfg.Tools.RateLimit, cfg.Tools.RateBurst),
			tools.WithLogger(logger.With("component", "tools")),
		),
	}

	if m.store, m.closeStore, err = m.openStore(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open %s checkpoint store: %w", cfg.Checkpoint.Backend, err)
	}

	m.httpServer = httphandler.NewServer(cfg.HTTPAddr(), httphandler.Deps{
		Probes:  map[string]httphandler.Probe{"nats": conn.IsConnected},
		Catalog: d,
		Store:   m.store,
		Codec:   cfg.Codec(),
		Logger:  logger.With("component", "http"),
	})
	return m, nil
}

// Store is the configured checkpoint store.
func (m *Manager) Store() checkpoint.Store { return m.store }

func (m *Manager) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return tools.RunProcessor(gCtx, m.conn, m.handler, m.cfg.Tools.QueueGroup)
	})

	m.logger.Info("manager is running",
		"components", 2,
		"tools", len(m.dispatcher.Capabilities()),
		"codec", serde.Name(m.cfg.Codec()),
		"checkpoint_backend", m.cfg.Checkpoint.Backend,
	)

	err := g.Wait()

	m.logger.Info("initiating graceful shutdown")
	m.Shutdown(context.WithoutCancel(ctx))

	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("manager stopped with error", "error", err)
		return err
	}

	m.logger.Info("manager shutdown complete")
	return nil
}

// Shutdown releases cached services and protocol sessions, then drains the
// NATS connection.
func (m *Manager) Shutdown(ctx context.Context) {
	if err := m.dispatcher.Close(ctx); err != nil {
		m.logger.Warn("release dispatcher resources", "error", err)
	}
	if m.closeStore != nil {
		m.closeStore()
	}
	if m.conn != nil {
		m.logger.Info("closing NATS connection")
		m.conn.Close()
	}
}
