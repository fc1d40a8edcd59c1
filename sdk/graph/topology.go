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
	"fmt"
	"slices"
	"strings"
)

// Edge is a static transition.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ConditionalEdge is a routed transition and the targets its router may pick.
type ConditionalEdge struct {
	From    string   `json:"from"`
	Targets []string `json:"targets"`
}

// Topology is a canonical description of a compiled graph. Two compilations
// of the same configuration produce equal topologies.
type Topology struct {
	Entry       string            `json:"entry"`
	Nodes       []string          `json:"nodes"`
	Edges       []Edge            `json:"edges"`
	Conditional []ConditionalEdge `json:"conditional,omitempty"`
}

func (t Topology) Equal(o Topology) bool {
	return t.Entry == o.Entry &&
		slices.Equal(t.Nodes, o.Nodes) &&
		slices.Equal(t.Edges, o.Edges) &&
		slices.EqualFunc(t.Conditional, o.Conditional, func(a, b ConditionalEdge) bool {
			return a.From == b.From && slices.Equal(a.Targets, b.Targets)
		})
}

// Path follows static edges from the entry point and returns the visited
// nodes. It stops at End, at a conditional edge or at a repeated node.
func (t Topology) Path() []string {
	next := make(map[string]string, len(t.Edges))
	for _, e := range t.Edges {
		next[e.From] = e.To
	}
	var path []string
	seen := make(map[string]bool)
	for n := t.Entry; n != "" && n != End && !seen[n]; n = next[n] {
		seen[n] = true
		path = append(path, n)
	}
	return path
}

func (t Topology) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entry %s\n", t.Entry)
	for _, e := range t.Edges {
		fmt.Fprintf(&b, "%s -> %s\n", e.From, e.To)
	}
	for _, c := range t.Conditional {
		fmt.Fprintf(&b, "%s -> {%s}\n", c.From, strings.Join(c.Targets, ", "))
	}
	return b.String()
}
