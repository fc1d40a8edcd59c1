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
	"reflect"
	"slices"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/sdk/resilience"
	"github.com/ngnhng/flowunit/sdk/toolproto"
)

// Kwargs passes arguments by parameter name to a unit declared WithParams.
type Kwargs map[string]any

// Unit is a registered function together with its execution mode and
// retry policy. Units are immutable after registration.
type Unit struct {
	name        string
	description string
	mode        Mode
	policy      resilience.Policy
	params      []string

	fn       reflect.Value
	argTypes []reflect.Type
	// argOffset is the index of the first positional parameter.
	argOffset int
	hasResult bool

	protocol *toolproto.ClientConfig
	agent    AgentFactory

	d *Dispatcher
}

func (u *Unit) Name() string              { return u.name }
func (u *Unit) Mode() Mode                { return u.mode }
func (u *Unit) Policy() resilience.Policy { return u.policy }
func (u *Unit) Description() string       { return u.description }
func (u *Unit) Params() []string          { return slices.Clone(u.params) }

// StateType is the state type of a StateStep unit, nil for other modes.
func (u *Unit) StateType() reflect.Type {
	if u.mode != ModeStateStep {
		return nil
	}
	return u.argTypes[0]
}

// Capability returns the unit's capability descriptor. Only externally
// visible units have one.
func (u *Unit) Capability() (Capability, bool) {
	if u.mode != ModeExternalAction && u.mode != ModeExternalProtocolAction {
		return Capability{}, false
	}
	return Capability{
		Name:        u.name,
		Description: u.description,
		Params:      u.Params(),
		unit:        u,
	}, true
}

// ServiceKey is the service registry key of the unit's cached instance, or
// "" for modes that cache nothing.
func (u *Unit) ServiceKey() string {
	switch u.mode {
	case ModePersistentService:
		return "service/" + u.name
	case ModeExternalProtocolAction:
		return "protocol/" + u.name
	}
	return ""
}

// UnitOption configures a unit at registration.
type UnitOption func(*unitOptions)

type unitOptions struct {
	name        string
	description string
	policy      *resilience.Policy
	params      []string
	protocol    *toolproto.ClientConfig
	agent       AgentFactory
}

// WithName overrides the unit name derived from the function.
func WithName(name string) UnitOption {
	return func(o *unitOptions) { o.name = name }
}

func WithDescription(desc string) UnitOption {
	return func(o *unitOptions) { o.description = desc }
}

// WithPolicy sets the unit's retry policy. Units without one use the
// dispatcher default.
func WithPolicy(p resilience.Policy) UnitOption {
	return func(o *unitOptions) { o.policy = &p }
}

// WithParams names the positional parameters, enabling Kwargs calls.
func WithParams(names ...string) UnitOption {
	return func(o *unitOptions) { o.params = slices.Clone(names) }
}

// WithProtocol sets the remote servers of an ExternalProtocolAction.
func WithProtocol(cfg toolproto.ClientConfig) UnitOption {
	return func(o *unitOptions) { o.protocol = &cfg }
}

// WithAgent sets the sub-agent factory of an ExternalProtocolAction.
func WithAgent(f AgentFactory) UnitOption {
	return func(o *unitOptions) { o.agent = f }
}

// Invoke runs the unit with the given arguments under its retry policy.
// A single Kwargs argument is mapped onto the declared parameter names.
//
// On terminal failure the result is either the last error or a
// *resilience.Failure value, depending on Policy.RaiseOnFailure. Argument
// problems are returned as *UsageError before anything runs.
func (u *Unit) Invoke(ctx context.Context, args ...any) (any, error) {
	if u.mode == ModeStateStep {
		if len(args) != 1 {
			return nil, usageErrorf(u.name, "state step takes exactly one state, got %d arguments", len(args))
		}
		return u.Step(ctx, args[0])
	}

	in, err := u.convertArgs(args)
	if err != nil {
		return nil, err
	}

	var op resilience.Operation
	switch u.mode {
	case ModeOneShotTask, ModeExternalAction:
		op = func(ctx context.Context) (any, error) {
			return u.call(ctx, in)
		}
	case ModePersistentService:
		op = func(ctx context.Context) (any, error) {
			return u.d.registry.GetOrCreate(ctx, u.ServiceKey(), func(ctx context.Context) (any, error) {
				return u.call(ctx, in)
			})
		}
	case ModeExternalProtocolAction:
		op = func(ctx context.Context) (any, error) {
			sess, err := u.session(ctx)
			if err != nil {
				return nil, err
			}
			return u.call(ctx, append([]reflect.Value{reflect.ValueOf(sess)}, in...))
		}
	}

	return u.observe(ctx, func(ctx context.Context) (any, error) {
		return u.d.retrier.Do(ctx, u.name, u.policy, op)
	})
}

// Step runs a StateStep unit on state. When every attempt fails and the
// policy does not raise, the failure is recorded into the state if the
// state implements FailureRecorder; otherwise state is returned unchanged.
func (u *Unit) Step(ctx context.Context, state any) (any, error) {
	if u.mode != ModeStateStep {
		return nil, &UsageError{Unit: u.name, Err: ErrWrongMode}
	}
	in, err := u.convertArgs([]any{state})
	if err != nil {
		return nil, err
	}

	out, err := u.observe(ctx, func(ctx context.Context) (any, error) {
		return u.d.retrier.Do(ctx, u.name, u.policy, func(ctx context.Context) (any, error) {
			return u.call(ctx, in)
		})
	})
	if err != nil {
		return nil, err
	}

	f, failed := resilience.AsFailure(out)
	if !failed {
		return out, nil
	}
	if recorded, ok := recordFailure(in[0], f); ok {
		return recorded, nil
	}
	u.d.logger.Warn("state step failed; state passed through unchanged",
		"unit", u.name,
		"attempts", f.Attempts,
		"category", f.ErrorCategory,
		"error", f.ErrorMessage,
	)
	return in[0].Interface(), nil
}

func (u *Unit) toolSpec() api.ToolSpec {
	return api.ToolSpec{Name: u.name, Description: u.description, Params: u.Params()}
}
