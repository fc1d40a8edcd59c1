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

package resilience

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 30 * time.Second
	DefaultJitter      = 0.1
)

// DefaultRetryable is the category set used when a policy leaves RetryOn empty.
var DefaultRetryable = []Category{
	CategoryTimeout,
	CategoryConnectionReset,
	CategoryIO,
	CategoryTransport,
}

// Policy describes how an operation is retried. A Policy is a value and is
// never mutated once handed to a Retrier.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	// Must be 1 or larger.
	MaxAttempts int `json:"max_attempts" msgpack:"max_attempts"`

	// BaseBackoff is the delay after the first failed attempt. Later delays
	// double until MaxBackoff is reached.
	BaseBackoff time.Duration `json:"base_backoff" msgpack:"base_backoff"`

	// MaxBackoff caps the pre-jitter delay. Zero means uncapped.
	MaxBackoff time.Duration `json:"max_backoff" msgpack:"max_backoff"`

	// Jitter is the fraction in [0,1] by which a delay is randomly perturbed
	// in both directions.
	Jitter float64 `json:"jitter" msgpack:"jitter"`

	// Timeout bounds a single attempt. Zero disables the per-attempt bound.
	Timeout time.Duration `json:"timeout" msgpack:"timeout"`

	// RetryOn lists the error categories considered transient. When empty,
	// DefaultRetryable is used.
	RetryOn []Category `json:"retry_on,omitempty" msgpack:"retry_on,omitempty"`

	// RaiseOnFailure selects whether the final error is returned to the
	// caller (true) or converted into a *Failure value (false).
	RaiseOnFailure bool `json:"raise_on_failure" msgpack:"raise_on_failure"`
}

// DefaultPolicy returns the policy applied to units registered without one.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseBackoff:    DefaultBaseBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Jitter:         DefaultJitter,
		RaiseOnFailure: true,
	}
}

// ErrInvalidPolicy is returned by Validate for unusable policies.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Validate reports whether the policy can be executed.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	case p.Jitter < 0 || p.Jitter > 1 || math.IsNaN(p.Jitter):
		return fmt.Errorf("%w: jitter must be within [0,1], got %v", ErrInvalidPolicy, p.Jitter)
	case p.BaseBackoff < 0 || p.MaxBackoff < 0 || p.Timeout < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidPolicy)
	case p.MaxBackoff > 0 && p.BaseBackoff > p.MaxBackoff:
		return fmt.Errorf("%w: base backoff %s exceeds max backoff %s", ErrInvalidPolicy, p.BaseBackoff, p.MaxBackoff)
	}
	return nil
}

// Backoff returns the pre-jitter delay that follows failed attempt n (1-indexed):
// min(MaxBackoff, BaseBackoff * 2^(n-1)).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseBackoff <= 0 {
		return 0
	}

	limit := float64(math.MaxInt64)
	if p.MaxBackoff > 0 {
		limit = float64(p.MaxBackoff)
	}

	d := float64(p.BaseBackoff) * math.Pow(2, float64(attempt-1))
	if d >= limit {
		if p.MaxBackoff > 0 {
			return p.MaxBackoff
		}
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Delay returns Backoff(attempt) randomly perturbed by up to ±Jitter of its
// value, clamped to zero. rnd must return values in [0,1); nil uses math/rand/v2.
func (p Policy) Delay(attempt int, rnd func() float64) time.Duration {
	b := p.Backoff(attempt)
	if b <= 0 || p.Jitter <= 0 {
		return b
	}
	if rnd == nil {
		rnd = rand.Float64
	}

	spread := p.Jitter * float64(b)
	d := float64(b) + (2*rnd()-1)*spread
	if d <= 0 {
		return 0
	}
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Retryable reports whether errors of category c may be retried under p.
func (p Policy) Retryable(c Category) bool {
	if c == CategoryCanceled || c == CategoryPermanent {
		return false
	}
	if len(p.RetryOn) == 0 {
		return slices.Contains(DefaultRetryable, c)
	}
	return slices.Contains(p.RetryOn, c)
}

// WithRetryOn returns a copy of p retrying the given categories.
func (p Policy) WithRetryOn(categories ...Category) Policy {
	p.RetryOn = slices.Clone(categories)
	return p
}
