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

package api

import "time"

// Tool protocol messages.
type (
	ToolSpec struct {
		Name        string   `json:"name" msgpack:"name"`
		Description string   `json:"description,omitempty" msgpack:"description,omitempty"`
		Params      []string `json:"params,omitempty" msgpack:"params,omitempty"`
	}

	ListToolsReply struct {
		Tools []ToolSpec `json:"tools" msgpack:"tools"`
		Error string     `json:"error,omitempty" msgpack:"error,omitempty"`
	}

	CallToolRequest struct {
		Name   string         `json:"name" msgpack:"name"`
		Args   []any          `json:"args,omitempty" msgpack:"args,omitempty"`
		Kwargs map[string]any `json:"kwargs,omitempty" msgpack:"kwargs,omitempty"`
	}

	// FailureInfo carries a structured failure across the wire.
	FailureInfo struct {
		UnitName      string `json:"unit_name" msgpack:"unit_name"`
		Status        string `json:"status" msgpack:"status"`
		Attempts      int    `json:"attempts" msgpack:"attempts"`
		Retryable     bool   `json:"retryable" msgpack:"retryable"`
		ErrorCategory string `json:"error_category" msgpack:"error_category"`
		ErrorMessage  string `json:"error_message" msgpack:"error_message"`
	}

	CallToolReply struct {
		Result  any          `json:"result,omitempty" msgpack:"result,omitempty"`
		Failure *FailureInfo `json:"failure,omitempty" msgpack:"failure,omitempty"`
		Error   string       `json:"error,omitempty" msgpack:"error,omitempty"`
	}
)

// Checkpoint is the persisted state of a graph run after one node.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id" msgpack:"thread_id"`
	RunID     string    `json:"run_id" msgpack:"run_id"`
	Step      int       `json:"step" msgpack:"step"`
	Node      string    `json:"node" msgpack:"node"`
	Next      string    `json:"next" msgpack:"next"`
	State     []byte    `json:"state" msgpack:"state"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}
