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

// Package graph runs workflows as graphs of state-transforming nodes.
//
// Engine is a small in-process host engine: nodes, static and routed edges,
// an entry point and a terminal End node. Mutable sits on top of any host
// engine and keeps an editable list of active nodes drawn from registered
// StateStep units. Expand, Reduce and Update change the list, and the next
// Run recompiles the graph:
//
//	g, _ := graph.NewMutable[Doc](units, []string{"plan", "write"})
//	_ = g.Expand("review", 1) // plan -> review -> write
//	out, err := g.Run(ctx, Doc{Topic: "queues"})
//
// Node failures that the resilience engine turned into values travel in the
// state. Errors stop the run and are returned as *NodeError.
package graph
