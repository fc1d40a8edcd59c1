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

import "time"

type EventKind int

const (
	NodeStarted EventKind = iota + 1
	NodeCompleted
	NodeFailed
)

func (k EventKind) String() string {
	switch k {
	case NodeStarted:
		return "started"
	case NodeCompleted:
		return "completed"
	case NodeFailed:
		return "failed"
	}
	return "unknown"
}

// Event reports the progress of a run. Next is set on NodeCompleted, Err
// on NodeFailed.
type Event struct {
	Kind     EventKind
	RunID    string
	ThreadID string
	Node     string
	Step     int
	Elapsed  time.Duration
	Next     string
	Err      error
}

// Observer receives run events synchronously from the running goroutine.
type Observer func(Event)
