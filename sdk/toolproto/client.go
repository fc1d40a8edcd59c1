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

// Package toolproto is a client for remote tool servers speaking the
// flowunit request/reply protocol: list the tools a server exposes, then
// call them by name with positional or keyword arguments.
package toolproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/resilience"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrClosed      = errors.New("tool client closed")
)

// RemoteError is an error reported by the tool server itself.
type RemoteError struct {
	Server  string
	Tool    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tool %s on %s: %s", e.Tool, e.Server, e.Message)
}

// Category marks server-side rejections as permanent.
func (e *RemoteError) Category() resilience.Category {
	return resilience.CategoryPermanent
}

// Tool is a remote tool as seen by the client. Name is qualified as
// "server/tool" when the client talks to more than one server.
type Tool struct {
	Name        string
	Server      string
	Remote      string
	Description string
	Params      []string
}

type remote struct {
	cfg ServerConfig
	t   Transport
}

type Client struct {
	remotes []remote
	serde   serde.BinarySerde
	logger  *slog.Logger

	mu     sync.Mutex
	tools  map[string]Tool
	closed bool
}

type Option func(*Client)

// WithSerde sets the payload codec. Defaults to JSON.
func WithSerde(s serde.BinarySerde) Option {
	return func(c *Client) {
		if s != nil {
			c.serde = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Dial connects to every server in cfg. A nil dialer uses DialNATS. If any
// server cannot be reached the transports opened so far are closed.
func Dial(ctx context.Context, cfg ClientConfig, dialer Dialer, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = DialNATS
	}

	c := &Client{
		serde:  &serde.JsonSerde{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, sc := range cfg.Servers {
		t, err := dialer(ctx, sc)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("dial tool server %q: %w", sc.Name, err)
		}
		c.remotes = append(c.remotes, remote{cfg: sc, t: t})
		c.logger.Debug("tool server connected", "server", sc.Name, "endpoint", sc.Endpoint)
	}
	return c, nil
}

// ListTools asks every server for its tools and refreshes the client's
// routing table. Tools are returned sorted by name.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	qualify := len(c.remotes) > 1
	index := make(map[string]Tool)
	for _, r := range c.remotes {
		data, err := r.t.Request(ctx, api.ToolsListSubject(r.cfg.Prefix), nil)
		if err != nil {
			return nil, fmt.Errorf("list tools on %q: %w", r.cfg.Name, err)
		}
		var reply api.ListToolsReply
		if err := c.serde.DeserializeBinary(data, &reply); err != nil {
			return nil, fmt.Errorf("list tools on %q: %w", r.cfg.Name, err)
		}
		if reply.Error != "" {
			return nil, &RemoteError{Server: r.cfg.Name, Tool: "*", Message: reply.Error}
		}
		for _, spec := range reply.Tools {
			name := spec.Name
			if qualify {
				name = r.cfg.Name + "/" + spec.Name
			}
			index[name] = Tool{
				Name:        name,
				Server:      r.cfg.Name,
				Remote:      spec.Name,
				Description: spec.Description,
				Params:      spec.Params,
			}
		}
	}

	c.mu.Lock()
	c.tools = index
	c.mu.Unlock()

	tools := make([]Tool, 0, len(index))
	for _, t := range index {
		tools = append(tools, t)
	}
	slices.SortFunc(tools, func(a, b Tool) int { return strings.Compare(a.Name, b.Name) })
	return tools, nil
}

// CallTool invokes a tool with positional arguments. A structured failure
// reported by the server is returned as a *resilience.Failure value.
func (c *Client) CallTool(ctx context.Context, name string, args ...any) (any, error) {
	return c.call(ctx, name, args, nil)
}

// CallToolKwargs invokes a tool with keyword arguments.
func (c *Client) CallToolKwargs(ctx context.Context, name string, kwargs map[string]any) (any, error) {
	return c.call(ctx, name, nil, kwargs)
}

func (c *Client) call(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	tool, r, err := c.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	req, err := c.serde.SerializeBinary(api.CallToolRequest{Name: tool.Remote, Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("encode call %s: %w", name, err))
	}
	data, err := r.t.Request(ctx, api.ToolsCallSubject(r.cfg.Prefix, tool.Remote), req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	var reply api.CallToolReply
	if err := c.serde.DeserializeBinary(data, &reply); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode reply of %s: %w", name, err))
	}
	switch {
	case reply.Error != "":
		return nil, &RemoteError{Server: r.cfg.Name, Tool: tool.Remote, Message: reply.Error}
	case reply.Failure != nil:
		return FailureFromInfo(reply.Failure), nil
	}
	return reply.Result, nil
}

func (c *Client) resolve(ctx context.Context, name string) (Tool, remote, error) {
	c.mu.Lock()
	closed, listed := c.closed, c.tools != nil
	c.mu.Unlock()
	if closed {
		return Tool{}, remote{}, ErrClosed
	}
	if !listed {
		if _, err := c.ListTools(ctx); err != nil {
			return Tool{}, remote{}, err
		}
	}

	c.mu.Lock()
	tool, ok := c.tools[name]
	c.mu.Unlock()
	if !ok {
		return Tool{}, remote{}, resilience.Permanent(fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}
	for _, r := range c.remotes {
		if r.cfg.Name == tool.Server {
			return tool, r, nil
		}
	}
	return Tool{}, remote{}, resilience.Permanent(fmt.Errorf("%w: %s", ErrUnknownTool, name))
}

// Close closes every transport. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for _, r := range c.remotes {
		if err := r.t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", r.cfg.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FailureToInfo converts a failure into its wire form.
func FailureToInfo(f *resilience.Failure) *api.FailureInfo {
	if f == nil {
		return nil
	}
	return &api.FailureInfo{
		UnitName:      f.UnitName,
		Status:        f.Status,
		Attempts:      f.Attempts,
		Retryable:     f.Retryable,
		ErrorCategory: string(f.ErrorCategory),
		ErrorMessage:  f.ErrorMessage,
	}
}

// FailureFromInfo is the inverse of FailureToInfo.
func FailureFromInfo(info *api.FailureInfo) *resilience.Failure {
	if info == nil {
		return nil
	}
	return &resilience.Failure{
		UnitName:      info.UnitName,
		Status:        info.Status,
		Attempts:      info.Attempts,
		Retryable:     info.Retryable,
		ErrorCategory: resilience.Category(info.ErrorCategory),
		ErrorMessage:  info.ErrorMessage,
	}
}
