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

// Package tools serves a dispatcher's capabilities over NATS request/reply
// using the subjects and wire types in package api.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	jetstreamx "github.com/ngnhng/flowunit/internal/server/infra/jetstream"
	"github.com/ngnhng/flowunit/sdk/dispatch"
	"github.com/ngnhng/flowunit/sdk/resilience"
	"github.com/ngnhng/flowunit/sdk/toolproto"
)

var ErrUnknownSubject = errors.New("unknown subject")

// Catalog lists the capabilities a Handler serves.
type Catalog interface {
	Capabilities() []dispatch.Capability
}

type Handler struct {
	catalog Catalog
	conv    serde.BinarySerde
	prefix  string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

type Option func(*Handler)

// WithPrefix sets the subject prefix. Empty selects api.DefaultSubjectPrefix.
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		if prefix != "" {
			h.prefix = prefix
		}
	}
}

// WithTimeout bounds every call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// WithRateLimit admits at most rps calls per second with bursts of burst.
// A call waits for a token within its timeout. Listing is never limited.
// rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Handler) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(catalog Catalog, conv serde.BinarySerde, opts ...Option) *Handler {
	if conv == nil {
		conv = &serde.JsonSerde{}
	}
	h := &Handler{
		catalog: catalog,
		conv:    conv,
		prefix:  api.DefaultSubjectPrefix,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve answers one request. The reply is always a serialized api reply;
// the error is set only when nothing could be encoded.
func (h *Handler) Serve(ctx context.Context, subject string, data []byte) ([]byte, error) {
	switch {
	case subject == api.ToolsListSubject(h.prefix):
		return h.conv.SerializeBinary(h.list())
	case strings.HasPrefix(subject, h.callPrefix()):
		name := strings.TrimPrefix(subject, h.callPrefix())
		return h.conv.SerializeBinary(h.call(ctx, name, data))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
}

func (h *Handler) callPrefix() string {
	return api.ToolsCallSubject(h.prefix, "")
}

func (h *Handler) list() api.ListToolsReply {
	caps := h.catalog.Capabilities()
	reply := api.ListToolsReply{Tools: make([]api.ToolSpec, 0, len(caps))}
	for _, c := range caps {
		reply.Tools = append(reply.Tools, c.Spec())
	}
	return reply
}

func (h *Handler) lookup(name string) (dispatch.Capability, bool) {
	for _, c := range h.catalog.Capabilities() {
		if c.Name == name {
			return c, true
		}
	}
	return dispatch.Capability{}, false
}

func (h *Handler) call(ctx context.Context, name string, data []byte) api.CallToolReply {
	logger := h.logger.With("tool", name)

	c, ok := h.lookup(name)
	if !ok {
		logger.Warn("call to unknown tool")
		return api.CallToolReply{Error: fmt.Sprintf("unknown tool %q", name)}
	}

	var req api.CallToolRequest
	if len(data) > 0 {
		if err := h.conv.DeserializeBinary(data, &req); err != nil {
			return api.CallToolReply{Error: "decode request: " + err.Error()}
		}
	}
	if req.Name != "" && req.Name != name {
		return api.CallToolReply{Error: fmt.Sprintf("request names %q but was sent to %q", req.Name, name)}
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			logger.Warn("tool call rate limited", "error", err)
			return api.CallToolReply{Error: "rate limited: " + err.Error()}
		}
	}

	start := time.Now()
	result, err := c.CallRequest(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warn("tool call failed", "elapsed", elapsed, "error", err)
		return api.CallToolReply{Error: err.Error()}
	}
	if f, ok := resilience.AsFailure(result); ok {
		logger.Info("tool call exhausted its retries", "elapsed", elapsed, "attempts", f.Attempts, "category", f.ErrorCategory)
		return api.CallToolReply{Failure: toolproto.FailureToInfo(f)}
	}
	logger.Debug("tool call completed", "elapsed", elapsed)
	return api.CallToolReply{Result: result}
}

// drainTimeout bounds how long shutdown waits for subscriptions to deliver
// their pending messages.
const drainTimeout = 5 * time.Second

// RunProcessor queue-subscribes the handler until ctx is done. Every
// message is answered from its own goroutine so a slow tool does not hold
// up the subscription.
func RunProcessor(ctx context.Context, conn *jetstreamx.Connection, h *Handler, queue string) error {
	if queue == "" {
		queue = api.ToolServerQueueGroup
	}

	var calls inflight
	handle := func(msg *nats.Msg) {
		if !calls.Go(func() { h.respond(ctx, msg) }) {
			h.logger.Warn("tool request dropped after shutdown", "subject", msg.Subject)
		}
	}

	subjects := []string{api.ToolsListSubject(h.prefix), api.ToolsCallFilterSubject(h.prefix)}
	var subs []*nats.Subscription
	defer func() {
		drainAll(subs, h.logger)
		calls.Close()
	}()
	for _, subj := range subjects {
		sub, err := conn.QueueSubscribe(subj, queue, handle)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	h.logger.Info("serving tools", "subjects", subjects, "queue", queue, "tools", len(h.catalog.Capabilities()))
	<-ctx.Done()
	return nil
}

// drainAll drains the subscriptions and waits until each one is closed,
// so no message handler runs after it returns.
func drainAll(subs []*nats.Subscription, logger *slog.Logger) {
	closed := make([]<-chan nats.SubStatus, 0, len(subs))
	for _, s := range subs {
		ch := s.StatusChanged(nats.SubscriptionClosed)
		if err := s.Drain(); err != nil {
			logger.Warn("drain subscription", "subject", s.Subject, "error", err)
			continue
		}
		closed = append(closed, ch)
	}

	timeout := time.NewTimer(drainTimeout)
	defer timeout.Stop()
	for _, ch := range closed {
		select {
		case <-ch:
		case <-timeout.C:
			logger.Warn("subscriptions did not drain in time", "timeout", drainTimeout)
			return
		}
	}
}

// inflight tracks message goroutines. Once closed it refuses new work and
// waits for the running ones.
type inflight struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Go runs fn on its own goroutine unless the tracker is closed.
func (f *inflight) Go(fn func()) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		fn()
	}()
	return true
}

func (f *inflight) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wg.Wait()
}

func (h *Handler) respond(ctx context.Context, msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in tool handler", "subject", msg.Subject, "panic", r)
		}
	}()

	reply, err := h.Serve(ctx, msg.Subject, msg.Data)
	if err != nil {
		h.logger.Error("cannot build reply", "subject", msg.Subject, "error", err)
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		h.logger.Warn("respond failed", "subject", msg.Subject, "error", err)
	}
}
