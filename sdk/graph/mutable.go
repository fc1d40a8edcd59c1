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
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
	"github.com/ngnhng/flowunit/sdk/dispatch"
)

// EdgeRule wires the active nodes of a Mutable graph. It receives a builder
// that already contains every active node, in active order.
type EdgeRule[S any] func(b Builder[S], active []string) error

// Sequential chains the active nodes in order and ends after the last one.
func Sequential[S any]() EdgeRule[S] {
	return func(b Builder[S], active []string) error {
		if err := b.SetEntryPoint(active[0]); err != nil {
			return err
		}
		for i, name := range active {
			to := End
			if i+1 < len(active) {
				to = active[i+1]
			}
			if err := b.AddEdge(name, to); err != nil {
				return err
			}
		}
		return nil
	}
}

// Option configures a Mutable graph.
type Option[S any] func(*Mutable[S])

// WithEdges replaces the sequential edge rule.
func WithEdges[S any](rule EdgeRule[S]) Option[S] {
	return func(m *Mutable[S]) {
		if rule != nil {
			m.edges = rule
		}
	}
}

// WithEngine replaces the in-process engine with another host engine.
// Engine options given to the Mutable are not applied to it.
func WithEngine[S any](newBuilder func() Builder[S]) Option[S] {
	return func(m *Mutable[S]) { m.newBuilder = newBuilder }
}

// WithEngineOptions configures the default in-process engine.
func WithEngineOptions[S any](opts ...EngineOption) Option[S] {
	return func(m *Mutable[S]) { m.engineOpts = append(m.engineOpts, opts...) }
}

func WithLogger[S any](l *slog.Logger) Option[S] {
	return func(m *Mutable[S]) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCheckpointer persists runs that carry a thread id and enables Resume.
func WithCheckpointer[S any](store checkpoint.Store, codec serde.BinarySerde) Option[S] {
	return func(m *Mutable[S]) {
		m.store = store
		if codec != nil {
			m.codec = codec
		}
	}
}

// Mutable is a workflow graph whose active node list can be changed at run
// time. Changes mark the graph stale; the next Run compiles it again.
//
// Administration calls and Run are not synchronised with each other. Callers
// that mutate a graph while it may be running must serialise access.
type Mutable[S any] struct {
	known  map[string]NodeFunc[S]
	active []string

	edges      EdgeRule[S]
	newBuilder func() Builder[S]
	engineOpts []EngineOption
	logger     *slog.Logger
	store      checkpoint.Store
	codec      serde.BinarySerde

	compiled Runnable[S]
	stale    bool
}

// NewMutable creates a graph over the given StateStep units, with active
// naming the initially active nodes in execution order.
func NewMutable[S any](units []*dispatch.Unit, active []string, opts ...Option[S]) (*Mutable[S], error) {
	m := &Mutable[S]{
		known:  make(map[string]NodeFunc[S], len(units)),
		edges:  Sequential[S](),
		logger: slog.Default(),
		codec:  &serde.JsonSerde{},
		stale:  true,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, u := range units {
		if err := m.RegisterNode(u.Name(), u); err != nil {
			return nil, err
		}
	}
	for _, name := range active {
		if _, ok := m.known[name]; !ok {
			return nil, &ConfigError{Op: "new", Node: name, Err: ErrUnknownNode}
		}
		if slices.Contains(m.active, name) {
			return nil, &ConfigError{Op: "new", Node: name, Err: ErrAlreadyActive}
		}
		m.active = append(m.active, name)
	}
	return m, nil
}

// RegisterNode makes a StateStep unit available for activation. It does not
// change the active list, so the compiled graph stays valid.
func (m *Mutable[S]) RegisterNode(name string, unit *dispatch.Unit) error {
	step, err := dispatch.StepFunc[S](unit)
	if err != nil {
		return &ConfigError{Op: "register", Node: name, Err: err}
	}
	return m.RegisterFunc(name, step)
}

// RegisterFunc makes a plain node function available for activation.
func (m *Mutable[S]) RegisterFunc(name string, fn NodeFunc[S]) error {
	if name == "" || name == End {
		return &ConfigError{Op: "register", Node: name, Err: ErrReservedName}
	}
	if fn == nil {
		return &ConfigError{Op: "register", Node: name, Err: errors.New("nil node function")}
	}
	if _, ok := m.known[name]; ok {
		return &ConfigError{Op: "register", Node: name, Err: ErrDuplicateNode}
	}
	m.known[name] = fn
	m.logger.Debug("graph node registered", "node", name)
	return nil
}

// Expand activates a known node, appending it or inserting it at position.
func (m *Mutable[S]) Expand(name string, position ...int) error {
	if err := m.checkInactive("expand", name); err != nil {
		return err
	}
	pos := len(m.active)
	switch len(position) {
	case 0:
	case 1:
		pos = position[0]
		if pos < 0 || pos > len(m.active) {
			return &ConfigError{Op: "expand", Node: name, Err: fmt.Errorf("%w: %d not in [0,%d]", ErrPosition, pos, len(m.active))}
		}
	default:
		return &ConfigError{Op: "expand", Node: name, Err: fmt.Errorf("%w: at most one position", ErrPosition)}
	}

	m.active = slices.Insert(m.active, pos, name)
	m.markStale("expand", name)
	return nil
}

// Reduce deactivates an active node.
func (m *Mutable[S]) Reduce(name string) error {
	i, err := m.activeIndex("reduce", name)
	if err != nil {
		return err
	}
	m.active = slices.Delete(m.active, i, i+1)
	m.markStale("reduce", name)
	return nil
}

// Update replaces the active node old with the inactive node replacement,
// keeping its position.
func (m *Mutable[S]) Update(old, replacement string) error {
	i, err := m.activeIndex("update", old)
	if err != nil {
		return err
	}
	if err := m.checkInactive("update", replacement); err != nil {
		return err
	}
	m.active[i] = replacement
	m.markStale("update", old+"->"+replacement)
	return nil
}

func (m *Mutable[S]) checkInactive(op, name string) error {
	if _, ok := m.known[name]; !ok {
		return &ConfigError{Op: op, Node: name, Err: ErrUnknownNode}
	}
	if slices.Contains(m.active, name) {
		return &ConfigError{Op: op, Node: name, Err: ErrAlreadyActive}
	}
	return nil
}

func (m *Mutable[S]) activeIndex(op, name string) (int, error) {
	if _, ok := m.known[name]; !ok {
		return 0, &ConfigError{Op: op, Node: name, Err: ErrUnknownNode}
	}
	i := slices.Index(m.active, name)
	if i < 0 {
		return 0, &ConfigError{Op: op, Node: name, Err: ErrNotActive}
	}
	return i, nil
}

func (m *Mutable[S]) markStale(op, detail string) {
	m.stale = true
	m.logger.Info("graph changed", "op", op, "node", detail, "active", m.active)
}

// Compile builds the active configuration into a runnable graph.
func (m *Mutable[S]) Compile() error {
	if len(m.active) == 0 {
		return &ConfigError{Op: "compile", Err: ErrEmptyGraph}
	}

	b := m.builder()
	for _, name := range m.active {
		if err := b.AddNode(name, m.known[name]); err != nil {
			return &ConfigError{Op: "compile", Node: name, Err: err}
		}
	}
	if err := m.edges(b, slices.Clone(m.active)); err != nil {
		return &ConfigError{Op: "compile", Err: err}
	}
	r, err := b.Compile()
	if err != nil {
		return &ConfigError{Op: "compile", Err: err}
	}

	m.compiled = r
	m.stale = false
	m.logger.Debug("graph compiled", "active", m.active)
	return nil
}

func (m *Mutable[S]) builder() Builder[S] {
	if m.newBuilder != nil {
		return m.newBuilder()
	}
	opts := append([]EngineOption{WithEngineLogger(m.logger)}, m.engineOpts...)
	if m.store != nil {
		opts = append(opts, WithCheckpointStore(m.store, m.codec))
	}
	return NewEngine[S](opts...)
}

// Run executes the active graph, compiling it first when it is stale.
func (m *Mutable[S]) Run(ctx context.Context, initial S, opts ...RunOption) (S, error) {
	if m.stale || m.compiled == nil {
		if err := m.Compile(); err != nil {
			return initial, err
		}
	}
	return m.compiled.Run(ctx, initial, opts...)
}

// Resume continues the thread from its latest checkpoint using the current
// active graph. A finished thread returns its final state without running.
func (m *Mutable[S]) Resume(ctx context.Context, threadID string, opts ...RunOption) (S, error) {
	var zero S
	if m.store == nil {
		return zero, ErrNoCheckpoint
	}
	cp, state, err := LoadCheckpoint[S](ctx, m.store, m.codec, threadID)
	if err != nil {
		return zero, err
	}
	if cp.Next == End {
		return state, nil
	}

	m.logger.Info("resuming thread", "thread_id", threadID, "step", cp.Step, "next", cp.Next)
	opts = append([]RunOption{WithThreadID(threadID), WithStartAt(cp.Next, cp.Step)}, opts...)
	return m.Run(ctx, state, opts...)
}

// Active returns the active node names in order.
func (m *Mutable[S]) Active() []string { return slices.Clone(m.active) }

// Known returns every registered node name, sorted.
func (m *Mutable[S]) Known() []string { return slices.Sorted(maps.Keys(m.known)) }

// Compiled reports whether the compiled graph reflects the active list.
func (m *Mutable[S]) Compiled() bool { return m.compiled != nil && !m.stale }

// Topology describes the last compiled graph. ok is false before the first
// compilation.
func (m *Mutable[S]) Topology() (t Topology, ok bool) {
	if m.compiled == nil {
		return Topology{}, false
	}
	return m.compiled.Describe(), true
}
