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
	"errors"
	"fmt"

	"github.com/ngnhng/flowunit/sdk/resilience"
)

var (
	ErrDuplicateUnit     = errors.New("unit already registered")
	ErrInvalidFunction   = errors.New("invalid unit function")
	ErrInvalidOption     = errors.New("invalid unit option")
	ErrUnitNotRegistered = errors.New("unit not registered")
	ErrBadArguments      = errors.New("bad arguments")
	ErrWrongMode         = errors.New("operation not supported by unit mode")
)

// UsageError reports a caller mistake such as a wrong argument count or an
// argument that cannot be converted. It is never retried and never turned
// into a structured failure.
type UsageError struct {
	Unit string
	Err  error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("unit %s: %v", e.Unit, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

func (e *UsageError) Category() resilience.Category {
	return resilience.CategoryPermanent
}

func usageErrorf(unit, format string, args ...any) error {
	return &UsageError{Unit: unit, Err: fmt.Errorf("%w: "+format, append([]any{ErrBadArguments}, args...)...)}
}
