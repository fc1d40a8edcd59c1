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

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
)

// End is the terminal pseudo-node.
const End = "__end__"

const DefaultMaxSteps = 100

const instrumentationName = "github.com/ngnhng/flowunit/sdk/graph"

// NodeFunc transforms the workflow state.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Router picks the successor of a node from the state it produced.
type Router[S any] func(ctx context.Context, state S) (string, error)

// Builder assembles a graph for a host engine.
type Builder[S any] interface {
	AddNode(name string, fn NodeFunc[S]) error
	AddEdge(from, to string) error
	AddConditionalEdge(from string, router Router[S], targets ...string) error
	SetEntryPoint(name string) error
	Compile() (Runnable[S], error)
}

// Runnable is a compiled graph.
type Runnable[S any] interface {
	Run(ctx context.Context, initial S, opts ...RunOption) (S, error)
	Describe() Topology
}

// EngineOption configures the in-process engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	maxSteps int
	logger   *slog.Logger
	observer Observer
	store    checkpoint.Store
	serde    serde.BinarySerde
	tracer   oteltrace.Tracer
	now      func() time.Time
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
		serde:    &serde.JsonSerde{},
		tracer:   otel.GetTracerProvider().Tracer(instrumentationName),
		now:      time.Now,
	}
}

// WithTracerProvider traces each run and every node execution within it.
func WithTracerProvider(tp oteltrace.TracerProvider) EngineOption {
	return func(o *engineOptions) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMaxSteps bounds the number of node executions of one run.
func WithMaxSteps(n int) EngineOption {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(obs Observer) EngineOption {
	return func(o *engineOptions) { o.observer = obs }
}

// WithCheckpointStore persists the state after every node of runs that
// carry a thread id. A nil codec keeps the JSON default.
func WithCheckpointStore(store checkpoint.Store, codec serde.BinarySerde) EngineOption {
	return func(o *engineOptions) {
		o.store = store
		if codec != nil {
			o.serde = codec
		}
	}
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	threadID  string
	runID     string
	startAt   string
	startStep int
}

// WithThreadID groups the checkpoints of a run under id.
func WithThreadID(id string) RunOption {
	return func(o *runOptions) { o.threadID = id }
}

// WithRunID sets the run id reported in logs and checkpoints.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithStartAt starts the run at node instead of the entry point, counting
// steps from step.
func WithStartAt(node string, step int) RunOption {
	return func(o *runOptions) {
		o.startAt = node
		o.startStep = step
	}
}

type conditional[S any] struct {
	router  Router[S]
	targets []string
}

// Engine is the in-process host engine. Build it with NewEngine, then
// Compile it into a Runnable.
type Engine[S any] struct {
	opts  engineOptions
	order []string
	nodes map[string]NodeFunc[S]
	edges map[string]string
	conds map[string]conditional[S]
	entry string
}

var _ Builder[struct{}] = (*Engine[struct{}])(nil)

func NewEngine[S any](opts ...EngineOption) *Engine[S] {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[S]{
		opts:  o,
		nodes: make(map[string]NodeFunc[S]),
		edges: make(map[string]string),
		conds: make(map[string]conditional[S]),
	}
}

func (e *Engine[S]) AddNode(name string, fn NodeFunc[S]) error {
	if name == "" || name == End {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if fn == nil {
		return fmt.Errorf("node %s: nil function", name)
	}
	if _, ok := e.nodes[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	e.nodes[name] = fn
	e.order = append(e.order, name)
	return nil
}

func (e *Engine[S]) AddEdge(from, to string) error {
	if err := e.checkSource(from); err != nil {
		return err
	}
	e.edges[from] = to
	return nil
}

func (e *Engine[S]) AddConditionalEdge(from string, router Router[S], targets ...string) error {
	if err := e.checkSource(from); err != nil {
		return err
	}
	if router == nil || len(targets) == 0 {
		return fmt.Errorf("conditional edge from %s needs a router and targets", from)
	}
	e.conds[from] = conditional[S]{router: router, targets: slices.Clone(targets)}
	return nil
}

func (e *Engine[S]) checkSource(from string) error {
	if _, ok := e.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	_, static := e.edges[from]
	_, routed := e.conds[from]
	if static || routed {
		return fmt.Errorf("%w: %s", ErrEdgeConflict, from)
	}
	return nil
}

func (e *Engine[S]) SetEntryPoint(name string) error {
	if _, ok := e.nodes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	e.entry = name
	return nil
}

// successors returns every node a run may move to after name.
func (e *Engine[S]) successors(name string) []string {
	if to, ok := e.edges[name]; ok {
		return []string{to}
	}
	return e.conds[name].targets
}

// Compile validates the graph and freezes it. Later changes to the Engine do
// not affect the returned Runnable.
func (e *Engine[S]) Compile() (Runnable[S], error) {
	if e.entry == "" {
		return nil, ErrNoEntryPoint
	}
	for _, n := range e.order {
		succ := e.successors(n)
		if len(succ) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnattachedNode, n)
		}
		for _, to := range succ {
			if _, ok := e.nodes[to]; !ok && to != End {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownNode, n, to)
			}
		}
	}

	reachesEnd := e.reachingEnd()
	for _, n := range e.reachableFrom(e.entry) {
		if !reachesEnd[n] {
			return nil, fmt.Errorf("%w: %s", ErrNoTerminalPath, n)
		}
	}

	return &compiled[S]{
		opts:  e.opts,
		nodes: maps.Clone(e.nodes),
		edges: maps.Clone(e.edges),
		conds: maps.Clone(e.conds),
		entry: e.entry,
		topo:  e.describe(),
	}, nil
}

func (e *Engine[S]) reachableFrom(start string) []string {
	seen := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		for _, to := range e.successors(n) {
			if to != End && !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	return out
}

// reachingEnd computes the nodes with at least one path to End by iterating
// to a fixed point over the successor relation.
func (e *Engine[S]) reachingEnd() map[string]bool {
	ok := make(map[string]bool, len(e.nodes))
	for changed := true; changed; {
		changed = false
		for _, n := range e.order {
			if ok[n] {
				continue
			}
			for _, to := range e.successors(n) {
				if to == End || ok[to] {
					ok[n] = true
					changed = true
					break
				}
			}
		}
	}
	return ok
}

func (e *Engine[S]) describe() Topology {
	t := Topology{Entry: e.entry, Nodes: slices.Sorted(maps.Keys(e.nodes))}
	for from, to := range e.edges {
		t.Edges = append(t.Edges, Edge{From: from, To: to})
	}
	slices.SortFunc(t.Edges, func(a, b Edge) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		return strings.Compare(a.To, b.To)
	})
	for from, c := range e.conds {
		targets := slices.Clone(c.targets)
		slices.Sort(targets)
		t.Conditional = append(t.Conditional, ConditionalEdge{From: from, Targets: slices.Compact(targets)})
	}
	slices.SortFunc(t.Conditional, func(a, b ConditionalEdge) int { return strings.Compare(a.From, b.From) })
	return t
}

type compiled[S any] struct {
	opts  engineOptions
	nodes map[string]NodeFunc[S]
	edges map[string]string
	conds map[string]conditional[S]
	entry string
	topo  Topology
}

func (c *compiled[S]) Describe() Topology { return c.topo }

// Run executes nodes from the entry point until End. On a node error the
// state produced by the last successful node is returned with a *NodeError.
func (c *compiled[S]) Run(ctx context.Context, initial S, opts ...RunOption) (S, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return initial, fmt.Errorf("generate run id: %w", err)
		}
		ro.runID = id.String()
	}

	current := c.entry
	if ro.startAt != "" {
		if _, ok := c.nodes[ro.startAt]; !ok && ro.startAt != End {
			return initial, fmt.Errorf("%w: start at %s", ErrUnknownNode, ro.startAt)
		}
		current = ro.startAt
	}

	ctx, span := c.opts.tracer.Start(ctx, "flowunit.graph.run",
		oteltrace.WithAttributes(
			attribute.String("flowunit.run_id", ro.runID),
			attribute.String("flowunit.thread_id", ro.threadID),
			attribute.String("flowunit.start_at", current),
		),
	)
	defer span.End()

	state, err := c.run(ctx, ro, current, initial)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return state, err
}

func (c *compiled[S]) run(ctx context.Context, ro runOptions, current string, initial S) (S, error) {
	logger := c.opts.logger.With("run_id", ro.runID)
	if ro.threadID != "" {
		logger = logger.With("thread_id", ro.threadID)
	}

	state := initial
	for step := ro.startStep; current != End; {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if step-ro.startStep >= c.opts.maxSteps {
			return state, fmt.Errorf("%w: %d steps", ErrStepLimit, c.opts.maxSteps)
		}
		step++

		c.emit(Event{Kind: NodeStarted, RunID: ro.runID, ThreadID: ro.threadID, Node: current, Step: step})
		start := c.opts.now()
		next, err := c.execute(ctx, current, step, state)
		elapsed := c.opts.now().Sub(start)
		if err != nil {
			c.emit(Event{Kind: NodeFailed, RunID: ro.runID, ThreadID: ro.threadID, Node: current, Step: step, Elapsed: elapsed, Err: err})
			logger.Warn("node failed", "node", current, "step", step, "elapsed", elapsed, "error", err)
			return state, &NodeError{Node: current, Step: step, Err: err}
		}

		if logger.Enabled(ctx, slog.LevelDebug) {
			logger.Debug("node completed", "node", current, "step", step, "elapsed", elapsed, "changes", Diff(state, next))
		}
		state = next

		successor, err := c.successor(ctx, current, state)
		if err != nil {
			return state, &NodeError{Node: current, Step: step, Err: err}
		}
		if err := c.checkpoint(ctx, ro, step, current, successor, state); err != nil {
			return state, err
		}

		c.emit(Event{Kind: NodeCompleted, RunID: ro.runID, ThreadID: ro.threadID, Node: current, Step: step, Elapsed: elapsed, Next: successor})
		current = successor
	}
	return state, nil
}

func (c *compiled[S]) execute(ctx context.Context, node string, step int, state S) (S, error) {
	ctx, span := c.opts.tracer.Start(ctx, "flowunit.graph.node",
		oteltrace.WithAttributes(
			attribute.String("flowunit.node", node),
			attribute.Int("flowunit.step", step),
		),
	)
	defer span.End()

	next, err := c.nodes[node](ctx, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return next, err
	}
	return next, nil
}

func (c *compiled[S]) successor(ctx context.Context, node string, state S) (string, error) {
	if to, ok := c.edges[node]; ok {
		return to, nil
	}
	cond := c.conds[node]
	to, err := cond.router(ctx, state)
	if err != nil {
		return "", fmt.Errorf("route: %w", err)
	}
	if !slices.Contains(cond.targets, to) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoute, to)
	}
	return to, nil
}

func (c *compiled[S]) emit(ev Event) {
	if c.opts.observer != nil {
		c.opts.observer(ev)
	}
}
