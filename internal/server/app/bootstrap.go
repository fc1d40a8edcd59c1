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

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ngnhng/flowunit/internal/server/config"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
)

// checkpointBucket is the KV configuration of the checkpoint store.
func checkpointBucket(cfg config.CheckpointConfig) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "flowunit workflow checkpoints",
		History:     cfg.History,
		TTL:         cfg.TTL,
		Replicas:    cfg.Replicas,
		Storage:     jetstream.FileStorage,
	}
}

// openStore opens the configured checkpoint backend. The returned function
// releases its connection; the NATS bucket shares the manager connection.
func (m *Manager) openStore(ctx context.Context) (checkpoint.Store, func(), error) {
	cfg := m.cfg.Checkpoint
	switch cfg.Backend {
	case checkpoint.BackendMemory:
		return checkpoint.NewMemory(), func() {}, nil
	case checkpoint.BackendRedis:
		s, err := checkpoint.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case checkpoint.BackendPostgres:
		s, err := checkpoint.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	kv, err := m.conn.EnsureKV(ctx, checkpointBucket(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint bucket: %w", err)
	}
	return checkpoint.NewKV(kv), func() {}, nil
}
