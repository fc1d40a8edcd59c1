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

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type conn struct {
	closed atomic.Bool
}

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}

type shutdownConn struct {
	calls atomic.Int32
	err   error
}

func (c *shutdownConn) Shutdown(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestRegistry_Singleton(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	var built atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		built.Add(1)
		return &conn{}, nil
	}

	first, err := r.GetOrCreate(ctx, "db", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := r.GetOrCreate(ctx, "db", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if first != second {
		t.Fatalf("instances differ: %p vs %p", first, second)
	}
	if built.Load() != 1 {
		t.Errorf("factory calls = %d, want 1", built.Load())
	}

	e, ok := r.Lookup("db")
	if !ok {
		t.Fatal("Lookup() found no entry")
	}
	if e.Invocations() != 2 {
		t.Errorf("Invocations() = %d, want 2", e.Invocations())
	}
}

func TestRegistry_ReleaseColdStarts(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	factory := func(ctx context.Context) (any, error) { return &conn{}, nil }

	first, _ := r.GetOrCreate(ctx, "db", factory)
	if err := r.Release(ctx, "db"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !first.(*conn).closed.Load() {
		t.Error("Release() did not close the instance")
	}
	if _, ok := r.Lookup("db"); ok {
		t.Error("entry still present after Release()")
	}

	third, err := r.GetOrCreate(ctx, "db", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if first == third {
		t.Error("GetOrCreate() after Release() returned the released instance")
	}
}

func TestRegistry_ReleaseUnknownKey(t *testing.T) {
	r := NewRegistry()
	if err := r.Release(context.Background(), "missing"); err != nil {
		t.Fatalf("Release() error = %v, want nil", err)
	}
}

func TestRegistry_ReleaseShutdownError(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	boom := errors.New("boom")
	inst := &shutdownConn{err: boom}

	if _, err := r.GetOrCreate(ctx, "svc", func(ctx context.Context) (any, error) { return inst, nil }); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	err := r.Release(ctx, "svc")
	if !errors.Is(err, boom) {
		t.Fatalf("Release() error = %v, want %v", err, boom)
	}
	if inst.calls.Load() != 1 {
		t.Errorf("Shutdown calls = %d, want 1", inst.calls.Load())
	}
	if _, ok := r.Lookup("svc"); ok {
		t.Error("entry must be removed even when teardown fails")
	}
}

func TestRegistry_FailedFactoryIsNotCached(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	var calls atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("cold")
		}
		return &conn{}, nil
	}

	if _, err := r.GetOrCreate(ctx, "svc", factory); err == nil {
		t.Fatal("first GetOrCreate() must fail")
	}
	if _, ok := r.Lookup("svc"); ok {
		t.Fatal("failed construction left an entry")
	}
	if _, err := r.GetOrCreate(ctx, "svc", factory); err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("factory calls = %d, want 2", calls.Load())
	}
}

func TestRegistry_ConcurrentFirstCalls(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	const callers = 64
	var built atomic.Int32
	release := make(chan struct{})
	factory := func(ctx context.Context) (any, error) {
		built.Add(1)
		<-release
		return &conn{}, nil
	}

	results := make([]any, callers)
	var ready sync.WaitGroup
	ready.Add(callers)

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			ready.Done()
			v, err := r.GetOrCreate(gCtx, "shared", factory)
			results[i] = v
			return err
		})
	}

	ready.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := g.Wait(); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if built.Load() != 1 {
		t.Fatalf("factory calls = %d, want 1", built.Load())
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d observed a different instance", i)
		}
	}
	e, _ := r.Lookup("shared")
	if e.Invocations() != callers {
		t.Errorf("Invocations() = %d, want %d", e.Invocations(), callers)
	}
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	blockA := make(chan struct{})
	startedA := make(chan struct{})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.GetOrCreate(gCtx, "a", func(ctx context.Context) (any, error) {
			close(startedA)
			<-blockA
			return &conn{}, nil
		})
		return err
	})

	<-startedA
	// "b" must build while "a" is still constructing.
	if _, err := r.GetOrCreate(ctx, "b", func(ctx context.Context) (any, error) { return &conn{}, nil }); err != nil {
		t.Fatalf("GetOrCreate(b) error = %v", err)
	}
	if _, err := r.GetOrCreate(ctx, "c", func(ctx context.Context) (any, error) { return nil, errors.New("c broken") }); err == nil {
		t.Fatal("GetOrCreate(c) must fail")
	}
	close(blockA)

	if err := g.Wait(); err != nil {
		t.Fatalf("GetOrCreate(a) error = %v", err)
	}

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v, want [a b]", keys)
	}

	if err := r.ReleaseAll(ctx); err != nil {
		t.Fatalf("ReleaseAll() error = %v", err)
	}
	if len(r.Keys()) != 0 {
		t.Errorf("Keys() after ReleaseAll = %v, want empty", r.Keys())
	}
}

func TestRegistry_CanceledCallerDoesNotFailWaiters(t *testing.T) {
	r := NewRegistry()

	started := make(chan struct{})
	release := make(chan struct{})
	var built atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		built.Add(1)
		close(started)
		select {
		case <-release:
			return &conn{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.GetOrCreate(leaderCtx, "svc", factory)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   any
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		v, err := r.GetOrCreate(context.Background(), "svc", factory)
		waiter <- result{v, err}
	}()

	// Let the waiter join the flight before the leader gives up.
	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader GetOrCreate() error = %v, want context.Canceled", err)
	}
	close(release)

	got := <-waiter
	if got.err != nil {
		t.Fatalf("waiter GetOrCreate() error = %v, want nil", got.err)
	}
	if _, ok := got.v.(*conn); !ok {
		t.Fatalf("waiter GetOrCreate() = %T, want *conn", got.v)
	}
	if built.Load() != 1 {
		t.Errorf("factory calls = %d, want 1", built.Load())
	}
	if e, ok := r.Lookup("svc"); !ok || e.Invocations() != 1 {
		t.Errorf("Lookup() = %v, %v, want entry with 1 invocation", e, ok)
	}
}

func TestRegistry_AllCallersCanceledCancelsFactory(t *testing.T) {
	r := NewRegistry()

	started := make(chan struct{})
	factoryDone := make(chan error, 1)
	factory := func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		factoryDone <- ctx.Err()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	if _, err := r.GetOrCreate(ctx, "svc", factory); !errors.Is(err, context.Canceled) {
		t.Fatalf("GetOrCreate() error = %v, want context.Canceled", err)
	}

	select {
	case err := <-factoryDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("factory ctx error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("factory context was not cancelled after its only caller left")
	}

	// The abandoned construction must not block a fresh one.
	v, err := r.GetOrCreate(context.Background(), "svc", func(ctx context.Context) (any, error) { return &conn{}, nil })
	if err != nil {
		t.Fatalf("GetOrCreate() after abandon error = %v", err)
	}
	if _, ok := v.(*conn); !ok {
		t.Errorf("GetOrCreate() = %T, want *conn", v)
	}
}

type observingConn struct {
	r        *Registry
	key      string
	present  bool
	closures atomic.Int32
}

func (c *observingConn) Close() error {
	c.closures.Add(1)
	_, c.present = c.r.Lookup(c.key)
	return nil
}

func TestRegistry_TeardownBeforeRemoval(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	inst := &observingConn{r: r, key: "svc"}

	if _, err := r.GetOrCreate(ctx, "svc", func(ctx context.Context) (any, error) { return inst, nil }); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := r.Release(ctx, "svc"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !inst.present {
		t.Error("entry was removed before teardown ran")
	}
	if _, ok := r.Lookup("svc"); ok {
		t.Error("entry still present after Release()")
	}
	if err := r.Release(ctx, "svc"); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if inst.closures.Load() != 1 {
		t.Errorf("Close calls = %d, want 1", inst.closures.Load())
	}
}

func TestRegistry_FactoryPanicIsAnError(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetOrCreate(context.Background(), "svc", func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("GetOrCreate() error = nil, want the factory panic")
	}
	if _, ok := r.Lookup("svc"); ok {
		t.Error("panicking factory left an entry")
	}
}
