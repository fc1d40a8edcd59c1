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
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/sdk/resilience"
)

// fakeServer answers tool-protocol requests in-process.
type fakeServer struct {
	prefix string
	tools  []api.ToolSpec
	call   func(req api.CallToolRequest) api.CallToolReply

	lists  atomic.Int32
	calls  atomic.Int32
	closed atomic.Bool
	err    error
}

func (s *fakeServer) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	switch {
	case subject == api.ToolsListSubject(s.prefix):
		s.lists.Add(1)
		return json.Marshal(api.ListToolsReply{Tools: s.tools})
	case strings.HasPrefix(subject, strings.TrimSuffix(api.ToolsCallFilterSubject(s.prefix), ">")):
		s.calls.Add(1)
		var req api.CallToolRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		if subject != api.ToolsCallSubject(s.prefix, req.Name) {
			return json.Marshal(api.CallToolReply{Error: "subject mismatch"})
		}
		return json.Marshal(s.call(req))
	}
	return nil, nats.ErrNoResponders
}

func (s *fakeServer) Close() error {
	s.closed.Store(true)
	return nil
}

func dialerFor(servers map[string]*fakeServer) Dialer {
	return func(ctx context.Context, sc ServerConfig) (Transport, error) {
		s, ok := servers[sc.Name]
		if !ok {
			return nil, errors.New("unreachable")
		}
		s.prefix = sc.Prefix
		return s, nil
	}
}

func echoServer() *fakeServer {
	return &fakeServer{
		tools: []api.ToolSpec{
			{Name: "search", Description: "web search", Params: []string{"query"}},
			{Name: "sum", Params: []string{"a", "b"}},
		},
		call: func(req api.CallToolRequest) api.CallToolReply {
			switch req.Name {
			case "search":
				if q, ok := req.Kwargs["query"]; ok {
					return api.CallToolReply{Result: "results for " + q.(string)}
				}
				return api.CallToolReply{Result: "results for " + req.Args[0].(string)}
			case "sum":
				return api.CallToolReply{Result: req.Args[0].(float64) + req.Args[1].(float64)}
			case "flaky":
				return api.CallToolReply{Failure: &api.FailureInfo{
					UnitName: "flaky", Status: resilience.StatusError, Attempts: 3,
					Retryable: true, ErrorCategory: "timeout", ErrorMessage: "slow",
				}}
			}
			return api.CallToolReply{Error: "no such tool"}
		},
	}
}

func TestClient_SingleServer(t *testing.T) {
	srv := echoServer()
	cfg := ClientConfig{Servers: []ServerConfig{{Name: "local", Transport: TransportNATS, Endpoint: "nats://x"}}}

	c, err := Dial(context.Background(), cfg, dialerFor(map[string]*fakeServer{"local": srv}))
	require.NoError(t, err)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, []string{"query"}, tools[0].Params)
	assert.Equal(t, "sum", tools[1].Name)

	got, err := c.CallTool(context.Background(), "sum", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)

	got, err = c.CallToolKwargs(context.Background(), "search", map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, "results for go", got)

	require.NoError(t, c.Close())
	assert.True(t, srv.closed.Load())

	_, err = c.CallTool(context.Background(), "sum", 1, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_ListsLazilyOnce(t *testing.T) {
	srv := echoServer()
	cfg := ClientConfig{Servers: []ServerConfig{{Name: "local", Endpoint: "nats://x"}}}
	c, err := Dial(context.Background(), cfg, dialerFor(map[string]*fakeServer{"local": srv}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.CallTool(context.Background(), "search", "q")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, srv.lists.Load())
	assert.EqualValues(t, 3, srv.calls.Load())
}

func TestClient_QualifiesNamesAcrossServers(t *testing.T) {
	a, b := echoServer(), echoServer()
	cfg := ClientConfig{Servers: []ServerConfig{
		{Name: "a", Endpoint: "nats://a", Prefix: "alpha"},
		{Name: "b", Endpoint: "nats://b"},
	}}
	c, err := Dial(context.Background(), cfg, dialerFor(map[string]*fakeServer{"a": a, "b": b}))
	require.NoError(t, err)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"a/search", "a/sum", "b/search", "b/sum"}, names)

	_, err = c.CallTool(context.Background(), "b/search", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 0, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())

	_, err = c.CallTool(context.Background(), "search", "x")
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Equal(t, resilience.CategoryPermanent, resilience.Classify(err))
}

func TestClient_RemoteOutcomes(t *testing.T) {
	srv := echoServer()
	srv.tools = append(srv.tools, api.ToolSpec{Name: "flaky"}, api.ToolSpec{Name: "gone"})
	cfg := ClientConfig{Servers: []ServerConfig{{Name: "local", Endpoint: "nats://x"}}}
	c, err := Dial(context.Background(), cfg, dialerFor(map[string]*fakeServer{"local": srv}))
	require.NoError(t, err)

	got, err := c.CallTool(context.Background(), "flaky")
	require.NoError(t, err)
	f, ok := resilience.AsFailure(got)
	require.True(t, ok, "want *resilience.Failure, got %T", got)
	assert.Equal(t, 3, f.Attempts)
	assert.Equal(t, resilience.CategoryTimeout, f.ErrorCategory)

	_, err = c.CallTool(context.Background(), "gone")
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "no such tool", remoteErr.Message)
	assert.False(t, resilience.DefaultPolicy().Retryable(resilience.Classify(err)))
}

func TestClient_TransportErrorsAreRetryable(t *testing.T) {
	srv := echoServer()
	cfg := ClientConfig{Servers: []ServerConfig{{Name: "local", Endpoint: "nats://x"}}}
	c, err := Dial(context.Background(), cfg, dialerFor(map[string]*fakeServer{"local": srv}))
	require.NoError(t, err)
	_, err = c.ListTools(context.Background())
	require.NoError(t, err)

	srv.err = nats.ErrNoResponders
	_, err = c.CallTool(context.Background(), "sum", 1, 2)
	require.ErrorIs(t, err, nats.ErrNoResponders)
	assert.True(t, resilience.DefaultPolicy().Retryable(resilience.Classify(err)))
}

func TestDial_ClosesOpenedOnFailure(t *testing.T) {
	a := echoServer()
	cfg := ClientConfig{Servers: []ServerConfig{
		{Name: "a", Endpoint: "nats://a"},
		{Name: "missing", Endpoint: "nats://m"},
	}}
	_, err := Dial(context.Background(), cfg, dialerFor(map[string]*fakeServer{"a": a}))
	require.Error(t, err)
	assert.True(t, a.closed.Load())
}

func TestFailureInfoRoundTrip(t *testing.T) {
	f := &resilience.Failure{UnitName: "u", Status: resilience.StatusError, Attempts: 2, Retryable: true, ErrorCategory: resilience.CategoryIO, ErrorMessage: "disk"}
	assert.Equal(t, f, FailureFromInfo(FailureToInfo(f)))
	assert.Nil(t, FailureToInfo(nil))
	assert.Nil(t, FailureFromInfo(nil))
}
