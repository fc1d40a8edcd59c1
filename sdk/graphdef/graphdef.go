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

// Package graphdef loads workflow graph definitions from YAML:
//
//	name: research
//	active: [plan, search, write]
//	routes:
//	  - from: plan
//	    field: Route
//	    cases: {search: search, done: __end__}
//	    default: write
//
// A route replaces the sequential successor of its source node with a
// conditional edge selected by an exported string field of the state.
package graphdef

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"reflect"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ngnhng/flowunit/sdk/graph"
)

var ErrInvalidDefinition = errors.New("invalid graph definition")

// Route is a conditional edge leaving From.
type Route struct {
	From    string            `yaml:"from"`
	Field   string            `yaml:"field"`
	Cases   map[string]string `yaml:"cases"`
	Default string            `yaml:"default,omitempty"`
}

// Definition describes a Mutable graph's initial configuration.
type Definition struct {
	Name   string   `yaml:"name"`
	Active []string `yaml:"active"`
	Routes []Route  `yaml:"routes,omitempty"`
}

// Load reads and parses a definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph definition: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition against itself. Node names are checked
// against the registered units when the graph is built.
func (d *Definition) Validate() error {
	if len(d.Active) == 0 {
		return fmt.Errorf("%w: no active nodes", ErrInvalidDefinition)
	}
	seen := make(map[string]bool, len(d.Active))
	for _, n := range d.Active {
		if n == "" || n == graph.End {
			return fmt.Errorf("%w: reserved node name %q", ErrInvalidDefinition, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: node %s listed twice", ErrInvalidDefinition, n)
		}
		seen[n] = true
	}

	froms := make(map[string]bool, len(d.Routes))
	for i, r := range d.Routes {
		switch {
		case r.From == "":
			return fmt.Errorf("%w: route %d: missing from", ErrInvalidDefinition, i)
		case froms[r.From]:
			return fmt.Errorf("%w: route %d: second route from %s", ErrInvalidDefinition, i, r.From)
		case r.Field == "":
			return fmt.Errorf("%w: route %d: missing field", ErrInvalidDefinition, i)
		case len(r.Cases) == 0 && r.Default == "":
			return fmt.Errorf("%w: route %d: no cases", ErrInvalidDefinition, i)
		}
		froms[r.From] = true
	}
	return nil
}

// EdgeRule builds the edges of a definition over state type S. Active
// nodes without a route chain sequentially. Routes whose source is not
// active are ignored, so the rule stays usable after the graph is mutated.
func EdgeRule[S any](d *Definition) (graph.EdgeRule[S], error) {
	routes := make(map[string]Route, len(d.Routes))
	for _, r := range d.Routes {
		if err := checkField[S](r.Field); err != nil {
			return nil, fmt.Errorf("%w: route from %s: %w", ErrInvalidDefinition, r.From, err)
		}
		routes[r.From] = r
	}

	return func(b graph.Builder[S], active []string) error {
		if err := b.SetEntryPoint(active[0]); err != nil {
			return err
		}
		for i, name := range active {
			next := graph.End
			if i+1 < len(active) {
				next = active[i+1]
			}
			r, ok := routes[name]
			if !ok {
				if err := b.AddEdge(name, next); err != nil {
					return err
				}
				continue
			}
			if err := b.AddConditionalEdge(name, router[S](r, next), r.targets(next)...); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// targets lists every node the route may select. A route without a default
// falls through to the sequential successor.
func (r Route) targets(next string) []string {
	fallback := r.Default
	if fallback == "" {
		fallback = next
	}
	out := slices.Collect(maps.Values(r.Cases))
	out = append(out, fallback)
	slices.Sort(out)
	return slices.Compact(out)
}

func router[S any](r Route, next string) graph.Router[S] {
	fallback := r.Default
	if fallback == "" {
		fallback = next
	}
	return func(_ context.Context, state S) (string, error) {
		v, err := fieldValue(state, r.Field)
		if err != nil {
			return "", err
		}
		if to, ok := r.Cases[v]; ok {
			return to, nil
		}
		return fallback, nil
	}
}

func structType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func checkField[S any](field string) error {
	t := structType(reflect.TypeFor[S]())
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("state %v is not a struct", reflect.TypeFor[S]())
	}
	f, ok := t.FieldByName(field)
	if !ok || !f.IsExported() {
		return fmt.Errorf("state %v has no exported field %s", t, field)
	}
	if f.Type.Kind() != reflect.String {
		return fmt.Errorf("state field %s is %v, not a string", field, f.Type)
	}
	return nil
}

func fieldValue(state any, field string) (string, error) {
	v := reflect.ValueOf(state)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", errors.New("route on nil state")
		}
		v = v.Elem()
	}
	return v.FieldByName(field).String(), nil
}
