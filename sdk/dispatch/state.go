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

	"github.com/ngnhng/flowunit/sdk/resilience"
)

// FailureRecorder is implemented by workflow states that want to keep the
// structured failure of a StateStep whose attempts were exhausted.
type FailureRecorder[S any] interface {
	RecordFailure(f *resilience.Failure) S
}

// RegisterStep registers a typed StateStep.
func RegisterStep[S any](d *Dispatcher, fn func(context.Context, S) (S, error), opts ...UnitOption) (*Unit, error) {
	return d.Register(fn, ModeStateStep, opts...)
}

// StepFunc returns a typed view of a StateStep unit over state type S.
func StepFunc[S any](u *Unit) (func(context.Context, S) (S, error), error) {
	if u.Mode() != ModeStateStep {
		return nil, fmt.Errorf("%w: %s is a %s unit", ErrWrongMode, u.Name(), u.Mode())
	}
	if want := reflect.TypeFor[S](); u.StateType() != want {
		return nil, fmt.Errorf("%w: %s steps over %v, not %v", ErrInvalidFunction, u.Name(), u.StateType(), want)
	}
	return func(ctx context.Context, state S) (S, error) {
		out, err := u.Step(ctx, state)
		if err != nil {
			var zero S
			return zero, err
		}
		s, _ := out.(S)
		return s, nil
	}, nil
}
