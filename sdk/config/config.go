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

// Package config loads SDK settings from FLOWUNIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
	"github.com/ngnhng/flowunit/sdk/graph"
	"github.com/ngnhng/flowunit/sdk/resilience"
)

const EnvPrefix = "FLOWUNIT_"

// Default configuration constants tuned for SDK clients.
const (
	DefaultNATSHost = "localhost"
	DefaultNATSPort = "4222"

	DefaultRequestTimeout = 10 * time.Second
	DefaultDrainTimeout   = 30 * time.Second
	DefaultReconnectWait  = 2 * time.Second
	DefaultPingInterval   = 2 * time.Minute

	DefaultMaxReconnects = -1 // reconnect forever
	DefaultMaxPingsOut   = 2
)

var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds NATS-specific configuration knobs for the SDK.
type NATSConfig struct {
	URL           string        `json:"url"             env:"URL"`
	Host          string        `json:"host"            env:"HOST"`
	Port          string        `json:"port"            env:"PORT"`
	MaxReconnects int           `json:"max_reconnects"  env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `json:"reconnect_wait"  env:"RECONNECT_WAIT"`
	DrainTimeout  time.Duration `json:"drain_timeout"   env:"DRAIN_TIMEOUT"`
	PingInterval  time.Duration `json:"ping_interval"   env:"PING_INTERVAL"`
	MaxPingsOut   int           `json:"max_pings_out"   env:"MAX_PINGS_OUT"`
	ClientName    string        `json:"client_name"     env:"CLIENT_NAME"`
	Prefix        string        `json:"subject_prefix"  env:"SUBJECT_PREFIX"`
}

// RetryConfig holds the policy applied to units registered without one.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseBackoff time.Duration `json:"base_backoff" env:"BASE_BACKOFF"`
	MaxBackoff  time.Duration `json:"max_backoff"  env:"MAX_BACKOFF"`
	Jitter      float64       `json:"jitter"       env:"JITTER"`
	Timeout     time.Duration `json:"timeout"      env:"TIMEOUT"`
	Raise       bool          `json:"raise"        env:"RAISE"`
}

type GraphConfig struct {
	MaxSteps int `json:"max_steps" env:"MAX_STEPS"`
}

// CheckpointConfig selects where and how workflow state is persisted.
type CheckpointConfig struct {
	Backend     string `json:"backend"      env:"BACKEND"`
	Bucket      string `json:"bucket"       env:"BUCKET"`
	Codec       string `json:"codec"        env:"CODEC"`
	RedisAddr   string `json:"redis_addr"   env:"REDIS_ADDR"`
	PostgresDSN string `json:"postgres_dsn" env:"POSTGRES_DSN"`
}

// TimeoutConfig encapsulates SDK timeout values.
type TimeoutConfig struct {
	RequestTimeout time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// Config is the public SDK configuration users can construct or load from env.
type Config struct {
	NATS       NATSConfig       `json:"nats"       envPrefix:"NATS_"`
	Retry      RetryConfig      `json:"retry"      envPrefix:"RETRY_"`
	Graph      GraphConfig      `json:"graph"      envPrefix:"GRAPH_"`
	Checkpoint CheckpointConfig `json:"checkpoint" envPrefix:"CHECKPOINT_"`
	Timeouts   TimeoutConfig    `json:"timeouts"   envPrefix:"TIMEOUTS_"`
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		NATS: NATSConfig{
			Host:          DefaultNATSHost,
			Port:          DefaultNATSPort,
			MaxReconnects: DefaultMaxReconnects,
			ReconnectWait: DefaultReconnectWait,
			DrainTimeout:  DefaultDrainTimeout,
			PingInterval:  DefaultPingInterval,
			MaxPingsOut:   DefaultMaxPingsOut,
			ClientName:    "flowunit-sdk",
			Prefix:        api.DefaultSubjectPrefix,
		},
		Retry: RetryConfig{
			MaxAttempts: resilience.DefaultMaxAttempts,
			BaseBackoff: resilience.DefaultBaseBackoff,
			MaxBackoff:  resilience.DefaultMaxBackoff,
			Jitter:      resilience.DefaultJitter,
			Raise:       true,
		},
		Graph: GraphConfig{
			MaxSteps: graph.DefaultMaxSteps,
		},
		Checkpoint: CheckpointConfig{
			Backend: checkpoint.BackendMemory,
			Bucket:  api.DefaultCheckpointBucket,
			Codec:   serde.CodecJSON,
		},
		Timeouts: TimeoutConfig{
			RequestTimeout: DefaultRequestTimeout,
		},
	}
}

// Load loads configuration from FLOWUNIT_* environment variables applying
// defaults.
func Load() (*Config, error) {
	return LoadEnv(nil)
}

// LoadEnv is Load over an explicit environment. A nil map reads the process
// environment.
func LoadEnv(environ map[string]string) (*Config, error) {
	cfg := Default()
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, err
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("%w: NATS URL is required", ErrInvalidConfig)
	}
	if c.NATS.Port != "" {
		if _, err := strconv.Atoi(c.NATS.Port); err != nil {
			return fmt.Errorf("%w: invalid NATS port %q", ErrInvalidConfig, c.NATS.Port)
		}
	}
	if c.NATS.MaxReconnects < -1 {
		return fmt.Errorf("%w: NATS max reconnects must be >= -1", ErrInvalidConfig)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: retry: %w", ErrInvalidConfig, err)
	}
	if c.Graph.MaxSteps < 1 {
		return fmt.Errorf("%w: graph max steps must be >= 1, got %d", ErrInvalidConfig, c.Graph.MaxSteps)
	}
	if _, err := serde.ByName(c.Checkpoint.Codec); err != nil {
		return fmt.Errorf("%w: checkpoint: %w", ErrInvalidConfig, err)
	}
	if err := checkpoint.ValidateBackend(c.Checkpoint.Backend); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Checkpoint.Backend == checkpoint.BackendRedis && c.Checkpoint.RedisAddr == "" {
		return fmt.Errorf("%w: redis checkpoint backend needs an address", ErrInvalidConfig)
	}
	if c.Checkpoint.Backend == checkpoint.BackendPostgres && c.Checkpoint.PostgresDSN == "" {
		return fmt.Errorf("%w: postgres checkpoint backend needs a DSN", ErrInvalidConfig)
	}
	if c.Timeouts.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Policy returns the configured default retry policy.
func (c *Config) Policy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseBackoff:    c.Retry.BaseBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
		Jitter:         c.Retry.Jitter,
		Timeout:        c.Retry.Timeout,
		RaiseOnFailure: c.Retry.Raise,
	}
}

// Codec returns the checkpoint serializer.
func (c *Config) Codec() serde.BinarySerde {
	s, err := serde.ByName(c.Checkpoint.Codec)
	if err != nil {
		return &serde.JsonSerde{}
	}
	return s
}

// EngineOptions returns the engine settings derived from the configuration.
func (c *Config) EngineOptions() []graph.EngineOption {
	return []graph.EngineOption{graph.WithMaxSteps(c.Graph.MaxSteps)}
}

// Interface implementation for the JetStream connection helpers.
func (c *Config) Endpoint() string                 { return c.NATS.URL }
func (c *Config) NATSMaxReconnects() int           { return c.NATS.MaxReconnects }
func (c *Config) NATSReconnectWait() time.Duration { return c.NATS.ReconnectWait }
func (c *Config) NATSDrainTimeout() time.Duration  { return c.NATS.DrainTimeout }
func (c *Config) NATSPingInterval() time.Duration  { return c.NATS.PingInterval }
func (c *Config) NATSMaxPingsOut() int             { return c.NATS.MaxPingsOut }
func (c *Config) NATSClientName() string           { return c.NATS.ClientName }
