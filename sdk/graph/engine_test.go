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
	"io"
	"log/slog"
	"slices"
	"testing"
)

type counter struct {
	Visited []string
	N       int
}

func visit(name string) NodeFunc[counter] {
	return func(ctx context.Context, s counter) (counter, error) {
		s.Visited = append(slices.Clone(s.Visited), name)
		s.N++
		return s, nil
	}
}

func quietEngine(opts ...EngineOption) *Engine[counter] {
	return NewEngine[counter](append([]EngineOption{WithEngineLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)...)
}

func TestEngine_CompileValidation(t *testing.T) {
	tests := []struct {
		name  string
		build func(e *Engine[counter]) error
		want  error
	}{
		{
			name: "no entry point",
			build: func(e *Engine[counter]) error {
				_ = e.AddNode("a", visit("a"))
				return e.AddEdge("a", End)
			},
			want: ErrNoEntryPoint,
		},
		{
			name: "unknown target",
			build: func(e *Engine[counter]) error {
				_ = e.AddNode("a", visit("a"))
				_ = e.SetEntryPoint("a")
				return e.AddEdge("a", "ghost")
			},
			want: ErrUnknownNode,
		},
		{
			name: "unattached node",
			build: func(e *Engine[counter]) error {
				_ = e.AddNode("a", visit("a"))
				_ = e.AddNode("b", visit("b"))
				_ = e.SetEntryPoint("a")
				return e.AddEdge("a", End)
			},
			want: ErrUnattachedNode,
		},
		{
			name: "cycle without exit",
			build: func(e *Engine[counter]) error {
				_ = e.AddNode("a", visit("a"))
				_ = e.AddNode("b", visit("b"))
				_ = e.SetEntryPoint("a")
				_ = e.AddEdge("a", "b")
				return e.AddEdge("b", "a")
			},
			want: ErrNoTerminalPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := quietEngine()
			if err := tt.build(e); err != nil {
				t.Fatalf("build error = %v", err)
			}
			if _, err := e.Compile(); !errors.Is(err, tt.want) {
				t.Errorf("Compile() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEngine_BuilderErrors(t *testing.T) {
	e := quietEngine()
	if err := e.AddNode(End, visit("x")); !errors.Is(err, ErrReservedName) {
		t.Errorf("AddNode(End) error = %v, want ErrReservedName", err)
	}
	_ = e.AddNode("a", visit("a"))
	if err := e.AddNode("a", visit("a")); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("AddNode(dup) error = %v, want ErrDuplicateNode", err)
	}
	if err := e.AddEdge("ghost", End); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("AddEdge(ghost) error = %v, want ErrUnknownNode", err)
	}
	_ = e.AddEdge("a", End)
	if err := e.AddConditionalEdge("a", func(ctx context.Context, s counter) (string, error) { return End, nil }, End); !errors.Is(err, ErrEdgeConflict) {
		t.Errorf("second edge error = %v, want ErrEdgeConflict", err)
	}
	if err := e.SetEntryPoint("ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("SetEntryPoint(ghost) error = %v, want ErrUnknownNode", err)
	}
}

func TestEngine_RunSequential(t *testing.T) {
	var events []Event
	e := quietEngine(WithObserver(func(ev Event) { events = append(events, ev) }))
	for _, n := range []string{"a", "b", "c"} {
		_ = e.AddNode(n, visit(n))
	}
	_ = e.SetEntryPoint("a")
	_ = e.AddEdge("a", "b")
	_ = e.AddEdge("b", "c")
	_ = e.AddEdge("c", End)

	r, err := e.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err := r.Run(context.Background(), counter{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(got.Visited, []string{"a", "b", "c"}) {
		t.Errorf("Visited = %v, want [a b c]", got.Visited)
	}
	if len(events) != 6 {
		t.Fatalf("events = %d, want 6", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != NodeCompleted || last.Node != "c" || last.Next != End || last.Step != 3 {
		t.Errorf("last event = %+v", last)
	}
	if !slices.Equal(r.Describe().Path(), []string{"a", "b", "c"}) {
		t.Errorf("Path() = %v, want [a b c]", r.Describe().Path())
	}
}

func TestEngine_ConditionalLoop(t *testing.T) {
	build := func(limit int, opts ...EngineOption) Runnable[counter] {
		e := quietEngine(opts...)
		_ = e.AddNode("work", visit("work"))
		_ = e.AddNode("done", visit("done"))
		_ = e.SetEntryPoint("work")
		_ = e.AddConditionalEdge("work", func(ctx context.Context, s counter) (string, error) {
			if s.N < limit {
				return "work", nil
			}
			return "done", nil
		}, "work", "done")
		_ = e.AddEdge("done", End)
		r, err := e.Compile()
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		return r
	}

	got, err := build(3).Run(context.Background(), counter{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(got.Visited, []string{"work", "work", "work", "done"}) {
		t.Errorf("Visited = %v", got.Visited)
	}

	topo := build(3).Describe()
	if len(topo.Conditional) != 1 || !slices.Equal(topo.Conditional[0].Targets, []string{"done", "work"}) {
		t.Errorf("Conditional = %+v", topo.Conditional)
	}

	_, err = build(1000, WithMaxSteps(10)).Run(context.Background(), counter{})
	if !errors.Is(err, ErrStepLimit) {
		t.Errorf("Run() error = %v, want ErrStepLimit", err)
	}
}

func TestEngine_UndeclaredRoute(t *testing.T) {
	e := quietEngine()
	_ = e.AddNode("a", visit("a"))
	_ = e.SetEntryPoint("a")
	_ = e.AddConditionalEdge("a", func(ctx context.Context, s counter) (string, error) { return "elsewhere", nil }, End)
	r, err := e.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	_, err = r.Run(context.Background(), counter{})
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || !errors.Is(err, ErrUnknownRoute) {
		t.Errorf("Run() error = %v, want *NodeError wrapping ErrUnknownRoute", err)
	}
}

func TestEngine_NodeErrorKeepsLastState(t *testing.T) {
	boom := errors.New("boom")
	e := quietEngine()
	_ = e.AddNode("a", visit("a"))
	_ = e.AddNode("b", func(ctx context.Context, s counter) (counter, error) { return counter{N: -1}, boom })
	_ = e.SetEntryPoint("a")
	_ = e.AddEdge("a", "b")
	_ = e.AddEdge("b", End)
	r, _ := e.Compile()

	got, err := r.Run(context.Background(), counter{})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "b" || nodeErr.Step != 2 {
		t.Errorf("NodeError = %+v", nodeErr)
	}
	if got.N != 1 || !slices.Equal(got.Visited, []string{"a"}) {
		t.Errorf("state = %+v, want the state after a", got)
	}
}

func TestEngine_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := quietEngine()
	_ = e.AddNode("a", func(ctx context.Context, s counter) (counter, error) {
		cancel()
		return s, nil
	})
	_ = e.AddNode("b", visit("b"))
	_ = e.SetEntryPoint("a")
	_ = e.AddEdge("a", "b")
	_ = e.AddEdge("b", End)
	r, _ := e.Compile()

	got, err := r.Run(ctx, counter{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(got.Visited) != 0 {
		t.Errorf("Visited = %v, want b not to run", got.Visited)
	}
}

func TestEngine_CompiledIsSnapshot(t *testing.T) {
	e := quietEngine()
	_ = e.AddNode("a", visit("a"))
	_ = e.SetEntryPoint("a")
	_ = e.AddEdge("a", End)
	r, _ := e.Compile()
	before := r.Describe()

	_ = e.AddNode("b", visit("b"))
	if !r.Describe().Equal(before) {
		t.Errorf("Describe() changed after the engine was modified")
	}
	if before.String() != "entry a\na -> __end__\n" {
		t.Errorf("String() = %q", before.String())
	}
}

func TestDiff(t *testing.T) {
	type doc struct {
		Title string
		Tags  []string
		score int
	}

	tests := []struct {
		name string
		got  []FieldChange
		want []string
	}{
		{"struct", Diff(doc{Title: "a", score: 1}, doc{Title: "b", Tags: []string{"x"}, score: 2}), []string{"Title", "Tags"}},
		{"unchanged", Diff(doc{Title: "a"}, doc{Title: "a"}), nil},
		{"pointer", Diff(&doc{Title: "a"}, &doc{Title: "a", Tags: []string{"t"}}), []string{"Tags"}},
		{"map", Diff(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 3, "c": 4}), []string{"a", "b", "c"}},
		{"scalar", Diff(1, 2), []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fields []string
			for _, c := range tt.got {
				fields = append(fields, c.Field)
			}
			if !slices.Equal(fields, tt.want) {
				t.Errorf("changed fields = %q, want %q", fields, tt.want)
			}
		})
	}
}
