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
	"errors"
	"fmt"
)

var (
	ErrUnknownNode    = errors.New("unknown node")
	ErrAlreadyActive  = errors.New("node already active")
	ErrNotActive      = errors.New("node not active")
	ErrDuplicateNode  = errors.New("duplicate node")
	ErrPosition       = errors.New("position out of range")
	ErrEmptyGraph     = errors.New("no active nodes")
	ErrReservedName   = errors.New("reserved node name")
	ErrEdgeConflict   = errors.New("node already has an outgoing edge")
	ErrNoEntryPoint   = errors.New("entry point not set")
	ErrUnattachedNode = errors.New("node has no outgoing edge")
	ErrNoTerminalPath = errors.New("node cannot reach the end")
	ErrUnknownRoute   = errors.New("router returned an undeclared target")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrNoCheckpoint   = errors.New("no checkpoint store configured")
)

// ConfigError is returned by graph administration calls. A failed call
// leaves the graph unchanged.
type ConfigError struct {
	Op   string
	Node string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("graph %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("graph %s %q: %v", e.Op, e.Node, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NodeError wraps an error returned by a node during Run.
type NodeError struct {
	Node string
	Step int
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (step %d): %v", e.Node, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
