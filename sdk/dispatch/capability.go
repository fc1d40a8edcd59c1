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

package dispatch

import (
	"context"

	"github.com/ngnhng/flowunit/api"
)

// Capability describes a unit other agents can discover and call.
type Capability struct {
	Name        string
	Description string
	Params      []string

	unit *Unit
}

// Call invokes the capability with positional arguments.
func (c Capability) Call(ctx context.Context, args []any) (any, error) {
	return c.unit.Invoke(ctx, args...)
}

// CallPayload decodes payload with the dispatcher's codec and invokes the
// capability. An array is taken as positional arguments, an object as
// keyword arguments and an empty payload as no arguments.
func (c Capability) CallPayload(ctx context.Context, payload []byte) (any, error) {
	if len(payload) == 0 {
		return c.unit.Invoke(ctx)
	}

	var decoded any
	if err := c.unit.d.serde.DeserializeBinary(payload, &decoded); err != nil {
		return nil, usageErrorf(c.Name, "decode payload: %v", err)
	}

	switch v := decoded.(type) {
	case nil:
		return c.unit.Invoke(ctx)
	case []any:
		return c.unit.Invoke(ctx, v...)
	case map[string]any:
		return c.unit.Invoke(ctx, Kwargs(v))
	default:
		return c.unit.Invoke(ctx, v)
	}
}

// CallRequest serves a tool-protocol call request.
func (c Capability) CallRequest(ctx context.Context, req api.CallToolRequest) (any, error) {
	if len(req.Kwargs) > 0 {
		if len(req.Args) > 0 {
			return nil, usageErrorf(c.Name, "positional and keyword arguments cannot be mixed")
		}
		return c.unit.Invoke(ctx, Kwargs(req.Kwargs))
	}
	return c.unit.Invoke(ctx, req.Args...)
}

// Spec returns the wire description of the capability.
func (c Capability) Spec() api.ToolSpec {
	return c.unit.toolSpec()
}
