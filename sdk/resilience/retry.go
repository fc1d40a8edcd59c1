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
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Operation is a single attempt of retried work.
type Operation func(ctx context.Context) (any, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier executes operations under a Policy. The zero value is not usable;
// construct one with New. A Retrier is safe for concurrent use.
type Retrier struct {
	logger *slog.Logger
	sleep  SleepFunc
	rnd    func() float64
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger used for per-attempt lines.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retrier) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSleep replaces the inter-attempt wait.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithRand replaces the jitter source. fn must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(r *Retrier) {
		r.rnd = fn
	}
}

// New creates a Retrier.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRetrier = New()

// Do runs op with the package default Retrier.
func Do(ctx context.Context, name string, policy Policy, op Operation) (any, error) {
	return defaultRetrier.Do(ctx, name, policy, op)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy's attempts are exhausted. On terminal failure it returns either the
// last error unchanged (RaiseOnFailure) or a *Failure with a nil error.
// Cancellation of ctx stops the loop and returns ctx.Err().
func (r *Retrier) Do(ctx context.Context, name string, policy Policy, op Operation) (any, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	logger := r.logger.With("unit", name)

	var (
		lastErr  error
		category Category
		attempt  int
	)
	for attempt = 1; attempt <= policy.MaxAttempts; attempt++ {
		start := time.Now()
		result, err := r.attempt(ctx, name, attempt, policy.Timeout, op)
		elapsed := time.Since(start)

		if err == nil {
			logger.Debug("attempt succeeded", "attempt", attempt, "outcome", "ok", "elapsed", elapsed)
			return result, nil
		}

		// The caller went away; this is not a failure of the unit.
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Debug("attempt aborted", "attempt", attempt, "outcome", "canceled", "elapsed", elapsed, "error", err)
			return nil, ctxErr
		}

		lastErr = err
		category = Classify(err)
		retryable := policy.Retryable(category)

		if !retryable || attempt == policy.MaxAttempts {
			logger.Warn("attempt failed",
				"attempt", attempt,
				"outcome", "terminal",
				"elapsed", elapsed,
				"category", category,
				"retryable", retryable,
				"error", err,
			)
			return r.terminal(name, policy, attempt, retryable, category, lastErr)
		}

		delay := policy.Delay(attempt, r.rnd)
		logger.Info("attempt failed, retrying",
			"attempt", attempt,
			"outcome", "retry",
			"elapsed", elapsed,
			"category", category,
			"next_delay", delay,
			"error", err,
		)

		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	// Unreachable with a validated policy.
	return r.terminal(name, policy, policy.MaxAttempts, false, category, lastErr)
}

func (r *Retrier) terminal(name string, policy Policy, attempts int, retryable bool, category Category, err error) (any, error) {
	if policy.RaiseOnFailure {
		return nil, err
	}
	return &Failure{
		UnitName:      name,
		Status:        StatusError,
		Attempts:      attempts,
		Retryable:     retryable,
		ErrorCategory: category,
		ErrorMessage:  err.Error(),
	}, nil
}

type attemptResult struct {
	value any
	err   error
}

// attempt runs op once. With a timeout the attempt is abandoned at the
// deadline even if op does not observe its context.
func (r *Retrier) attempt(ctx context.Context, name string, n int, timeout time.Duration, op Operation) (result any, err error) {
	if timeout <= 0 {
		return safeCall(ctx, op)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		v, err := safeCall(attemptCtx, op)
		done <- attemptResult{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{Unit: name, Attempt: n, Timeout: timeout}
		}
		return res.value, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Unit: name, Attempt: n, Timeout: timeout}
	}
}

// safeCall converts a panic in op into a permanent error.
func safeCall(ctx context.Context, op Operation) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("panic: %v", p))
		}
	}()
	return op(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
