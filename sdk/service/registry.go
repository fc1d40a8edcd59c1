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

// Package service caches long-lived instances by key. An instance is built
// at most once per key, reused by every later caller, and destroyed only by
// an explicit Release.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/singleflight"
)

// Factory builds the instance cached under a key.
type Factory func(ctx context.Context) (any, error)

// Entry is a cached instance. Entries are owned by the Registry.
type Entry struct {
	ID        uuid.UUID
	Key       string
	Instance  any
	CreatedAt time.Time

	invocations atomic.Int64
	releasing   atomic.Bool
}

// Invocations returns how many times the entry has been handed out.
func (e *Entry) Invocations() int64 {
	return e.invocations.Load()
}

// Registry is a keyed cache of lazily constructed instances.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	// group collapses concurrent constructions of the same key.
	group    singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		flights: make(map[string]*flight),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the instance cached under key, building it with factory
// when absent. Concurrent first calls for the same key run factory once and
// all receive its result. A failing factory leaves no entry behind.
//
// The factory's context stays live while any caller is still waiting on the
// construction; it is cancelled once every waiter has given up. A caller
// whose own ctx ends returns ctx.Err() without affecting the others.
func (r *Registry) GetOrCreate(ctx context.Context, key string, factory Factory) (any, error) {
	for {
		if e, ok := r.Lookup(key); ok {
			e.invocations.Add(1)
			return e.Instance, nil
		}

		f := r.join(ctx, key)
		ch := r.group.DoChan(key, func() (any, error) {
			return r.construct(f, key, factory)
		})

		select {
		case res := <-ch:
			r.leave(key, f)
			if res.Err != nil {
				// Joined a construction its earlier callers had already abandoned.
				if errors.Is(res.Err, errAbandoned) && ctx.Err() == nil {
					continue
				}
				r.logger.Debug("service construction failed", "key", key, "shared", res.Shared, "error", res.Err)
				return nil, unwrapAbandoned(res.Err)
			}
			e := res.Val.(*Entry)
			e.invocations.Add(1)
			return e.Instance, nil
		case <-ctx.Done():
			r.leave(key, f)
			return nil, ctx.Err()
		}
	}
}

// flight is the construction context shared by the callers waiting on key.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

var errAbandoned = errors.New("construction abandoned by its callers")

type abandonedError struct{ err error }

func (e *abandonedError) Error() string   { return e.err.Error() }
func (e *abandonedError) Unwrap() []error { return []error{errAbandoned, e.err} }

func unwrapAbandoned(err error) error {
	var a *abandonedError
	if errors.As(err, &a) {
		return a.err
	}
	return err
}

func (r *Registry) join(ctx context.Context, key string) *flight {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	f, ok := r.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f
}

func (r *Registry) leave(key string, f *flight) {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights[key] == f {
		delete(r.flights, key)
	}
}

func (r *Registry) construct(f *flight, key string, factory Factory) (_ any, err error) {
	// DoChan re-panics on its own goroutine, out of every caller's reach.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("service %s: factory panic: %v", key, p)
		}
	}()

	// A caller that lost the race to an earlier flight finds the entry here.
	if e, ok := r.Lookup(key); ok {
		return e, nil
	}

	instance, err := factory(f.ctx)
	if err != nil {
		if f.ctx.Err() != nil {
			return nil, &abandonedError{err: err}
		}
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("service %s: generate entry id: %w", key, err)
	}
	e := &Entry{
		ID:        id,
		Key:       key,
		Instance:  instance,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.entries[key] = e
	r.mu.Unlock()

	r.logger.Debug("service instance created", "key", key, "entry_id", id.String())
	return e, nil
}

// Lookup returns the entry cached under key.
func (r *Registry) Lookup(key string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Keys returns the cached keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Release tears the instance under key down when it exposes Close or
// Shutdown, then removes the entry. The entry is removed even when teardown
// fails. Releasing an unknown key, or one already being released, is a
// no-op. The caller must ensure no invocation is using the instance.
func (r *Registry) Release(ctx context.Context, key string) error {
	e, ok := r.Lookup(key)
	if !ok || !e.releasing.CompareAndSwap(false, true) {
		return nil
	}

	err := teardown(ctx, e.Instance)

	r.mu.Lock()
	if r.entries[key] == e {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	// Drop any finished flight so the next call cold-starts.
	r.group.Forget(key)

	if err != nil {
		r.logger.Warn("service teardown failed", "key", key, "entry_id", e.ID.String(), "error", err)
		return fmt.Errorf("service %s: teardown: %w", key, err)
	}

	r.logger.Debug("service instance released", "key", key, "entry_id", e.ID.String(), "invocations", e.Invocations())
	return nil
}

// ReleaseAll releases every cached entry and joins teardown errors.
func (r *Registry) ReleaseAll(ctx context.Context) error {
	var errs []error
	for _, key := range r.Keys() {
		if err := r.Release(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type (
	contextCloser interface {
		Close(ctx context.Context) error
	}
	shutdowner interface {
		Shutdown(ctx context.Context) error
	}
)

func teardown(ctx context.Context, instance any) error {
	switch v := instance.(type) {
	case contextCloser:
		return v.Close(ctx)
	case shutdowner:
		return v.Shutdown(ctx)
	case io.Closer:
		return v.Close()
	}
	return nil
}
