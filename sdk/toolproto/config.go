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

package toolproto

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportNATS is the only transport shipped with the package. Other
// transports plug in through a custom Dialer.
const TransportNATS = "nats"

const DefaultRequestTimeout = 10 * time.Second

var ErrInvalidConfig = errors.New("invalid tool protocol config")

// ServerConfig describes one remote tool server.
type ServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"`
	Endpoint  string            `json:"endpoint" yaml:"endpoint"`
	Prefix    string            `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Args      map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
}

// ClientConfig lists the servers a Client connects to.
type ClientConfig struct {
	Servers []ServerConfig `json:"servers" yaml:"servers"`
}

func (c ClientConfig) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("%w: no servers", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("%w: server %d has no name", ErrInvalidConfig, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate server %q", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Endpoint == "" {
			return fmt.Errorf("%w: server %q has no endpoint", ErrInvalidConfig, s.Name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("%w: server %q has a negative timeout", ErrInvalidConfig, s.Name)
		}
	}
	return nil
}

// ParseClientConfig decodes a YAML client config. Servers without a
// transport default to NATS.
func ParseClientConfig(data []byte) (ClientConfig, error) {
	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for i := range cfg.Servers {
		if cfg.Servers[i].Transport == "" {
			cfg.Servers[i].Transport = TransportNATS
		}
	}
	return cfg, cfg.Validate()
}

// LoadClientConfig reads and parses a YAML client config file.
func LoadClientConfig(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("read tool config: %w", err)
	}
	return ParseClientConfig(data)
}
