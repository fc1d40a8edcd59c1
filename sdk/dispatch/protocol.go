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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ngnhng/flowunit/sdk/toolproto"
)

// AgentFactory builds the sub-agent of a protocol action from the tools
// discovered on its remote servers. It runs once per session.
type AgentFactory func(ctx context.Context, client *toolproto.Client, tools []toolproto.Tool) (any, error)

// ProtocolSession is the cached connection state of an
// ExternalProtocolAction: the client, the tools it discovered and the agent
// built from them.
type ProtocolSession struct {
	Client *toolproto.Client
	Tools  []toolproto.Tool
	Agent  any
}

// Close shuts down the agent (when it can be closed) and the client.
func (s *ProtocolSession) Close(ctx context.Context) error {
	var errs []error
	switch a := s.Agent.(type) {
	case interface{ Close(context.Context) error }:
		errs = append(errs, a.Close(ctx))
	case io.Closer:
		errs = append(errs, a.Close())
	}
	if s.Client != nil {
		errs = append(errs, s.Client.Close())
	}
	return errors.Join(errs...)
}

// session returns the unit's cached session, creating it on first use.
func (u *Unit) session(ctx context.Context) (*ProtocolSession, error) {
	v, err := u.d.registry.GetOrCreate(ctx, u.ServiceKey(), func(ctx context.Context) (any, error) {
		return u.openSession(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProtocolSession), nil
}

func (u *Unit) openSession(ctx context.Context) (*ProtocolSession, error) {
	client, err := toolproto.Dial(ctx, *u.protocol, u.d.dialer,
		toolproto.WithSerde(u.d.serde),
		toolproto.WithLogger(u.d.logger),
	)
	if err != nil {
		return nil, err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("discover tools: %w", err)
	}

	sess := &ProtocolSession{Client: client, Tools: tools}
	if u.agent != nil {
		agent, err := u.agent(ctx, client, tools)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("build agent: %w", err)
		}
		sess.Agent = agent
	}

	u.d.logger.Info("protocol session opened", "unit", u.name, "servers", len(u.protocol.Servers), "tools", len(tools))
	return sess, nil
}
