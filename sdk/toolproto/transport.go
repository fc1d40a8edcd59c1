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
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Transport carries request/reply exchanges to one tool server.
type Transport interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Close() error
}

// Dialer opens a Transport for a server.
type Dialer func(ctx context.Context, server ServerConfig) (Transport, error)

// DialNATS is the default Dialer. Recognised Args: name, token, user,
// password, creds.
func DialNATS(ctx context.Context, server ServerConfig) (Transport, error) {
	if server.Transport != "" && server.Transport != TransportNATS {
		return nil, fmt.Errorf("%w: server %q uses unsupported transport %q", ErrInvalidConfig, server.Name, server.Transport)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := server.Args["name"]
	if name == "" {
		name = "flowunit-toolproto-" + server.Name
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if tok := server.Args["token"]; tok != "" {
		opts = append(opts, nats.Token(tok))
	}
	if user := server.Args["user"]; user != "" {
		opts = append(opts, nats.UserInfo(user, server.Args["password"]))
	}
	if creds := server.Args["creds"]; creds != "" {
		opts = append(opts, nats.UserCredentials(creds))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(server.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to tool server %q at %s: %w", server.Name, server.Endpoint, err)
	}
	return &natsTransport{nc: nc, timeout: server.Timeout, owned: true}, nil
}

// NewNATSTransport wraps an existing connection. Closing the transport does
// not close nc.
func NewNATSTransport(nc *nats.Conn, timeout time.Duration) Transport {
	return &natsTransport{nc: nc, timeout: timeout}
}

type natsTransport struct {
	nc      *nats.Conn
	timeout time.Duration
	owned   bool
}

func (t *natsTransport) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := t.timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := t.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return msg.Data, nil
}

func (t *natsTransport) Close() error {
	if t.owned && !t.nc.IsClosed() {
		t.nc.Close()
	}
	return nil
}
