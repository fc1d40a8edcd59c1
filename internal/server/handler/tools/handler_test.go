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

package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/dispatch"
	"github.com/ngnhng/flowunit/sdk/resilience"
	"github.com/ngnhng/flowunit/sdk/toolproto"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// loopback hands requests straight to a Handler.
type loopback struct{ h *Handler }

func (l loopback) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	return l.h.Serve(ctx, subject, data)
}

func (loopback) Close() error { return nil }

func newCatalog(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.New(
		dispatch.WithLogger(discard),
		dispatch.WithRetrier(resilience.New(
			resilience.WithLogger(discard),
			resilience.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		)),
	)

	_, err := d.Register(func(ctx context.Context, a, b int) (int, error) { return a + b, nil },
		dispatch.ModeExternalAction, dispatch.WithName("add"), dispatch.WithParams("a", "b"), dispatch.WithDescription("adds two integers"))
	require.NoError(t, err)

	_, err = d.Register(func(ctx context.Context) (string, error) { return "", io.ErrUnexpectedEOF },
		dispatch.ModeExternalAction, dispatch.WithName("flaky"), dispatch.WithPolicy(resilience.Policy{MaxAttempts: 3}))
	require.NoError(t, err)

	_, err = d.Register(func(ctx context.Context) error { return errors.New("quota exceeded") },
		dispatch.ModeExternalAction, dispatch.WithName("strict"), dispatch.WithPolicy(resilience.Policy{MaxAttempts: 1, RaiseOnFailure: true}))
	require.NoError(t, err)

	// Internal units stay private.
	_, err = d.Register(func(ctx context.Context) error { return nil }, dispatch.ModeOneShotTask, dispatch.WithName("internal"))
	require.NoError(t, err)
	return d
}

func dialLoopback(t *testing.T, h *Handler, prefix string) *toolproto.Client {
	t.Helper()
	cfg := toolproto.ClientConfig{Servers: []toolproto.ServerConfig{{Name: "local", Endpoint: "loopback", Prefix: prefix}}}
	c, err := toolproto.Dial(context.Background(), cfg, func(ctx context.Context, _ toolproto.ServerConfig) (toolproto.Transport, error) {
		return loopback{h}, nil
	}, toolproto.WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHandler_ListTools(t *testing.T) {
	h := NewHandler(newCatalog(t), nil, WithPrefix("acme"), WithLogger(discard))
	c := dialLoopback(t, h, "acme")

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)

	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"add", "flaky", "strict"}, names)
	assert.Equal(t, "adds two integers", tools[0].Description)
	assert.Equal(t, []string{"a", "b"}, tools[0].Params)
}

func TestHandler_CallTool(t *testing.T) {
	for _, codec := range []serde.BinarySerde{&serde.JsonSerde{}, &serde.MsgpackSerde{}} {
		h := NewHandler(newCatalog(t), codec, WithLogger(discard))
		cfg := toolproto.ClientConfig{Servers: []toolproto.ServerConfig{{Name: "local", Endpoint: "loopback"}}}
		c, err := toolproto.Dial(context.Background(), cfg, func(ctx context.Context, _ toolproto.ServerConfig) (toolproto.Transport, error) {
			return loopback{h}, nil
		}, toolproto.WithSerde(codec), toolproto.WithLogger(discard))
		require.NoError(t, err)

		ctx := context.Background()

		got, err := c.CallTool(ctx, "add", 2, 3)
		require.NoError(t, err)
		assert.EqualValues(t, 5, got)

		got, err = c.CallToolKwargs(ctx, "add", map[string]any{"a": 4, "b": 6})
		require.NoError(t, err)
		assert.EqualValues(t, 10, got)

		require.NoError(t, c.Close())
	}
}

func TestHandler_FailuresCrossTheWire(t *testing.T) {
	h := NewHandler(newCatalog(t), nil, WithLogger(discard))
	c := dialLoopback(t, h, "")
	ctx := context.Background()

	got, err := c.CallTool(ctx, "flaky")
	require.NoError(t, err)
	f, ok := resilience.AsFailure(got)
	require.True(t, ok, "CallTool() = %T, want *resilience.Failure", got)
	assert.Equal(t, "flaky", f.UnitName)
	assert.Equal(t, 3, f.Attempts)
	assert.True(t, f.Retryable)
	assert.Equal(t, resilience.CategoryConnectionReset, f.ErrorCategory)

	_, err = c.CallTool(ctx, "strict")
	var remote *toolproto.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "quota exceeded")
	assert.True(t, resilience.IsPermanent(err))

	_, err = c.CallTool(ctx, "add", 1)
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "expects 2 arguments")
}

func TestHandler_Serve(t *testing.T) {
	codec := &serde.JsonSerde{}
	h := NewHandler(newCatalog(t), codec, WithLogger(discard))
	ctx := context.Background()

	decode := func(t *testing.T, data []byte) api.CallToolReply {
		t.Helper()
		var reply api.CallToolReply
		require.NoError(t, codec.DeserializeBinary(data, &reply))
		return reply
	}

	tests := []struct {
		name    string
		subject string
		data    []byte
		wantErr string
	}{
		{"unknown tool", api.ToolsCallSubject("", "nope"), nil, "unknown tool"},
		{"private unit", api.ToolsCallSubject("", "internal"), nil, "unknown tool"},
		{"bad payload", api.ToolsCallSubject("", "add"), []byte("{"), "decode request"},
		{"name mismatch", api.ToolsCallSubject("", "add"), []byte(`{"name":"flaky"}`), "was sent to"},
		{"mixed arguments", api.ToolsCallSubject("", "add"), []byte(`{"name":"add","args":[1],"kwargs":{"b":2}}`), "cannot be mixed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := h.Serve(ctx, tt.subject, tt.data)
			require.NoError(t, err)
			reply := decode(t, data)
			assert.Contains(t, reply.Error, tt.wantErr)
			assert.Nil(t, reply.Failure)
		})
	}

	_, err := h.Serve(ctx, "other.subject", nil)
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestHandler_Timeout(t *testing.T) {
	d := dispatch.New(dispatch.WithLogger(discard))
	_, err := d.Register(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, dispatch.ModeExternalAction, dispatch.WithName("slow"), dispatch.WithPolicy(resilience.Policy{MaxAttempts: 1, RaiseOnFailure: true}))
	require.NoError(t, err)

	h := NewHandler(d, nil, WithTimeout(20*time.Millisecond), WithLogger(discard))
	data, err := h.Serve(context.Background(), api.ToolsCallSubject("", "slow"), nil)
	require.NoError(t, err)

	var reply api.CallToolReply
	require.NoError(t, (&serde.JsonSerde{}).DeserializeBinary(data, &reply))
	assert.Contains(t, reply.Error, context.DeadlineExceeded.Error())
}

func TestHandler_RateLimit(t *testing.T) {
	h := NewHandler(newCatalog(t), nil,
		WithRateLimit(1, 1),
		WithTimeout(20*time.Millisecond),
		WithLogger(discard),
	)
	c := dialLoopback(t, h, "")
	ctx := context.Background()

	got, err := c.CallTool(ctx, "add", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got)

	// The bucket refills after a second, well past the call timeout.
	_, err = c.CallTool(ctx, "add", 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	_, err = c.ListTools(ctx)
	assert.NoError(t, err, "listing is not limited")
}

func TestInflight_CloseWaitsAndRefusesNewWork(t *testing.T) {
	var calls inflight

	release := make(chan struct{})
	var finished atomic.Bool
	require.True(t, calls.Go(func() {
		<-release
		finished.Store(true)
	}))

	closed := make(chan struct{})
	go func() {
		calls.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close() returned while a handler was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close() did not return after the handler finished")
	}
	assert.True(t, finished.Load())

	var ran atomic.Bool
	assert.False(t, calls.Go(func() { ran.Store(true) }), "Go() after Close() must refuse")
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load())
}
