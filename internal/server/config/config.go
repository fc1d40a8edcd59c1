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

package config

import (
	"fmt"
	"strconv"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/internal/server/types"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
)

const EnvPrefix = "FLOWUNIT_"

// Config holds the complete application configuration
type Config struct {
	Service    string           `json:"service_name" env:"APP_NAME"    envDefault:"flowunit"`
	Version    string           `json:"version"      env:"VERSION"     envDefault:"v0.1.0"`
	Mode       types.Mode       `json:"mode"         env:"MODE"        envDefault:"debug"`
	NATS       NATSConfig       `json:"nats"         envPrefix:"NATS_"`
	Server     ServerConfig     `json:"server"       envPrefix:"SERVER_"`
	Tools      ToolsConfig      `json:"tools"        envPrefix:"TOOLS_"`
	Checkpoint CheckpointConfig `json:"checkpoint"   envPrefix:"CHECKPOINT_"`
	Timeouts   TimeoutConfig    `json:"timeouts"     envPrefix:"TIMEOUTS_"`
	Logger     LoggerConfig     `json:"logger"       envPrefix:"LOG_"`
}

type ServerConfig struct {
	Host string `json:"host" env:"HOST" envDefault:"localhost"`
	Port string `json:"port" env:"PORT" envDefault:"8080"`
}

// ToolsConfig controls how capabilities are exposed over NATS.
type ToolsConfig struct {
	Prefix     string  `json:"subject_prefix" env:"SUBJECT_PREFIX"`
	QueueGroup string  `json:"queue_group"    env:"QUEUE_GROUP"`
	RateLimit  float64 `json:"rate_limit"     env:"RATE_LIMIT"`
	RateBurst  int     `json:"rate_burst"     env:"RATE_BURST" envDefault:"1"`
}

type CheckpointConfig struct {
	Backend     string        `json:"backend"      env:"BACKEND"  envDefault:"nats"`
	Bucket      string        `json:"bucket"       env:"BUCKET"`
	Codec       string        `json:"codec"        env:"CODEC"    envDefault:"json"`
	History     uint8         `json:"history"      env:"HISTORY"  envDefault:"1"`
	TTL         time.Duration `json:"ttl"          env:"TTL"`
	Replicas    int           `json:"replicas"     env:"REPLICAS" envDefault:"1"`
	RedisAddr   string        `json:"redis_addr"   env:"REDIS_ADDR"`
	PostgresDSN string        `json:"postgres_dsn" env:"POSTGRES_DSN"`
}

// TimeoutConfig holds timeout-related configuration
type TimeoutConfig struct {
	RequestTimeout time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
}

func LoadConfig() (*Config, error) {
	return LoadConfigEnv(nil)
}

// LoadConfigEnv loads the configuration from environ, or from the process
// environment when environ is nil.
func LoadConfigEnv(environ map[string]string) (*Config, error) {
	cfg := Config{
		NATS: NATSConfig{
			Host:          DefaultNATSHost,
			Port:          DefaultNATSPort,
			MaxReconnects: DefaultMaxReconnects,
			ReconnectWait: DefaultReconnectWait,
			DrainTimeout:  DefaultDrainTimeout,
			PingInterval:  DefaultPingInterval,
			MaxPingsOut:   DefaultMaxPingsOut,
			ClientName:    "flowunit-server",
		},
		Tools: ToolsConfig{
			Prefix:     api.DefaultSubjectPrefix,
			QueueGroup: api.ToolServerQueueGroup,
		},
		Checkpoint: CheckpointConfig{
			Bucket: api.DefaultCheckpointBucket,
		},
		Timeouts: TimeoutConfig{
			RequestTimeout: DefaultRequestTimeout,
		},
	}

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

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Mode != types.ModeDebug && c.Mode != types.ModeRelease {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if err := c.NATS.Validate(); err != nil {
		return err
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}
	if c.Tools.Prefix == "" {
		return fmt.Errorf("tools subject prefix is required")
	}
	if c.Tools.RateLimit < 0 {
		return fmt.Errorf("tools rate limit must not be negative")
	}
	if c.Tools.RateBurst < 1 {
		return fmt.Errorf("tools rate burst must be >= 1, got %d", c.Tools.RateBurst)
	}
	if err := checkpoint.ValidateBackend(c.Checkpoint.Backend); err != nil {
		return err
	}
	if c.Checkpoint.Backend == checkpoint.BackendRedis && c.Checkpoint.RedisAddr == "" {
		return fmt.Errorf("redis checkpoint backend needs an address")
	}
	if c.Checkpoint.Backend == checkpoint.BackendPostgres && c.Checkpoint.PostgresDSN == "" {
		return fmt.Errorf("postgres checkpoint backend needs a DSN")
	}
	if c.Checkpoint.Bucket == "" {
		return fmt.Errorf("checkpoint bucket is required")
	}
	if _, err := serde.ByName(c.Checkpoint.Codec); err != nil {
		return fmt.Errorf("checkpoint codec: %w", err)
	}
	if c.Checkpoint.History < 1 || c.Checkpoint.History > 64 {
		return fmt.Errorf("checkpoint history must be within [1,64], got %d", c.Checkpoint.History)
	}
	if c.Timeouts.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	return nil
}

// Codec returns the configured checkpoint serializer.
func (c *Config) Codec() serde.BinarySerde {
	s, err := serde.ByName(c.Checkpoint.Codec)
	if err != nil {
		return &serde.JsonSerde{}
	}
	return s
}

// HTTPAddr is the health server listen address.
func (c *Config) HTTPAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (c *Config) ServiceName() string {
	return c.Service
}

func (c *Config) GetVersion() string {
	return c.Version
}
