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
	"fmt"
	"reflect"
	"runtime"
	"slices"

	"github.com/ngnhng/flowunit/sdk/resilience"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
	sessionType = reflect.TypeFor[*ProtocolSession]()
	failureType = reflect.TypeFor[*resilience.Failure]()
)

// functionName returns the package-qualified name of fn.
func functionName(fn reflect.Value) (string, error) {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return "", fmt.Errorf("%w: could not retrieve function metadata", ErrInvalidFunction)
	}
	return f.Name(), nil
}

// inspect checks fn against the shape required by mode and fills in the
// unit's call metadata.
func (u *Unit) inspect(fn any) error {
	if fn == nil {
		return fmt.Errorf("%w: nil function", ErrInvalidFunction)
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%w: %T is not a function", ErrInvalidFunction, fn)
	}
	if v.IsNil() {
		return fmt.Errorf("%w: nil function", ErrInvalidFunction)
	}
	if t.IsVariadic() {
		return fmt.Errorf("%w: variadic functions are not supported", ErrInvalidFunction)
	}
	if t.NumIn() < 1 || t.In(0) != contextType {
		return fmt.Errorf("%w: first parameter must be context.Context", ErrInvalidFunction)
	}
	if t.NumOut() < 1 || t.NumOut() > 2 || t.Out(t.NumOut()-1) != errorType {
		return fmt.Errorf("%w: results must be (error) or (T, error)", ErrInvalidFunction)
	}

	u.fn = v
	u.argOffset = 1
	u.hasResult = t.NumOut() == 2

	switch u.mode {
	case ModeStateStep:
		if t.NumIn() != 2 || t.NumOut() != 2 || t.In(1) != t.Out(0) {
			return fmt.Errorf("%w: state step must be func(context.Context, S) (S, error)", ErrInvalidFunction)
		}
	case ModePersistentService:
		if !u.hasResult {
			return fmt.Errorf("%w: service factory must return (T, error)", ErrInvalidFunction)
		}
	case ModeExternalProtocolAction:
		if t.NumIn() < 2 || t.In(1) != sessionType {
			return fmt.Errorf("%w: protocol action must take *dispatch.ProtocolSession after the context", ErrInvalidFunction)
		}
		u.argOffset = 2
	}

	for i := u.argOffset; i < t.NumIn(); i++ {
		u.argTypes = append(u.argTypes, t.In(i))
	}
	return nil
}

// convertArgs maps caller arguments onto the unit's positional parameters.
func (u *Unit) convertArgs(args []any) ([]reflect.Value, error) {
	if len(args) == 1 {
		if kw, ok := args[0].(Kwargs); ok {
			var err error
			if args, err = u.positional(kw); err != nil {
				return nil, err
			}
		}
	}

	if len(args) != len(u.argTypes) {
		return nil, usageErrorf(u.name, "expects %d arguments, got %d", len(u.argTypes), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		v, err := u.d.converter.ConvertToType(arg, u.argTypes[i])
		if err != nil {
			return nil, usageErrorf(u.name, "argument %d: %v", i, err)
		}
		in[i] = v
	}
	return in, nil
}

func (u *Unit) positional(kw Kwargs) ([]any, error) {
	if len(u.params) == 0 {
		return nil, usageErrorf(u.name, "keyword arguments given but the unit declares no parameter names")
	}
	args := make([]any, len(u.params))
	for i, name := range u.params {
		v, ok := kw[name]
		if !ok {
			return nil, usageErrorf(u.name, "missing argument %q", name)
		}
		args[i] = v
	}
	if len(kw) != len(u.params) {
		for name := range kw {
			if !slices.Contains(u.params, name) {
				return nil, usageErrorf(u.name, "unknown argument %q", name)
			}
		}
	}
	return args, nil
}

// call invokes the raw function once.
func (u *Unit) call(ctx context.Context, in []reflect.Value) (any, error) {
	out := u.fn.Call(append([]reflect.Value{reflect.ValueOf(&ctx).Elem()}, in...))

	errV := out[len(out)-1]
	if !errV.IsNil() {
		return nil, errV.Interface().(error)
	}
	if !u.hasResult {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// recordFailure calls state.RecordFailure(f) when the state type has it.
func recordFailure(state reflect.Value, f *resilience.Failure) (any, bool) {
	m := state.MethodByName("RecordFailure")
	if !m.IsValid() {
		return nil, false
	}
	mt := m.Type()
	if mt.NumIn() != 1 || mt.In(0) != failureType || mt.NumOut() != 1 || mt.Out(0) != state.Type() {
		return nil, false
	}
	return m.Call([]reflect.Value{reflect.ValueOf(f)})[0].Interface(), true
}
