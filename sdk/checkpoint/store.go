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

// Package checkpoint is a small key/value store for persisted workflow
// state. Backends: process memory, NATS JetStream KV, Redis and Postgres.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound   = errors.New("checkpoint not found")
	ErrInvalidKey = errors.New("invalid checkpoint key")
)

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ValidateBackend reports whether name is a known backend.
func ValidateBackend(name string) error {
	switch name {
	case BackendMemory, BackendNATS, BackendRedis, BackendPostgres:
		return nil
	}
	return fmt.Errorf("unknown checkpoint backend %q, want one of %s, %s, %s or %s",
		name, BackendMemory, BackendNATS, BackendRedis, BackendPostgres)
}

// Store persists opaque values by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Search returns the keys starting with prefix in ascending order.
	Search(ctx context.Context, prefix string) ([]string, error)
	// Batch applies ops in order and stops at the first error.
	Batch(ctx context.Context, ops []Op) error
}

type OpKind int

const (
	OpPut OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Op is one write of a Batch.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
}

func Put(key string, value []byte) Op { return Op{Kind: OpPut, Key: key, Value: value} }
func Delete(key string) Op            { return Op{Kind: OpDelete, Key: key} }

// Keys follow the JetStream KV key rules so that both backends accept the
// same set.
var validKey = regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)

// ValidateKey reports whether key is usable with every backend.
func ValidateKey(key string) error {
	if key == "" || !validKey.MatchString(key) || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func validateOps(ops []Op) error {
	for i, op := range ops {
		if op.Kind != OpPut && op.Kind != OpDelete {
			return fmt.Errorf("op %d: unknown kind %v", i, op.Kind)
		}
		if err := ValidateKey(op.Key); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}
