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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/resilience"
	"github.com/ngnhng/flowunit/sdk/service"
	"github.com/ngnhng/flowunit/sdk/toolproto"
)

// Dispatcher registers functions as units and executes them according to
// their mode. It is safe for concurrent use.
type Dispatcher struct {
	mu    sync.RWMutex
	units map[string]*Unit

	registry  *service.Registry
	retrier   *resilience.Retrier
	logger    *slog.Logger
	policy    resilience.Policy
	serde     serde.BinarySerde
	converter *serde.TypeConverter
	dialer    toolproto.Dialer

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	telemetry      telemetry
}

type Option func(*Dispatcher)

// WithRegistry shares a service registry between dispatchers.
func WithRegistry(r *service.Registry) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.registry = r
		}
	}
}

func WithRetrier(r *resilience.Retrier) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.retrier = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDefaultPolicy sets the policy of units registered without WithPolicy.
func WithDefaultPolicy(p resilience.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithSerde sets the codec used for argument conversion, capability
// payloads and the tool protocol.
func WithSerde(s serde.BinarySerde) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.serde = s
		}
	}
}

// WithDialer replaces the transport dialer of protocol sessions.
func WithDialer(dialer toolproto.Dialer) Option {
	return func(d *Dispatcher) { d.dialer = dialer }
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		units:  make(map[string]*Unit),
		policy: resilience.DefaultPolicy(),
		serde:  &serde.JsonSerde{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = service.NewRegistry(service.WithLogger(d.logger))
	}
	if d.retrier == nil {
		d.retrier = resilience.New(resilience.WithLogger(d.logger))
	}
	d.converter = serde.NewTypeConverter(d.serde)
	d.telemetry = newTelemetry(d.tracerProvider, d.meterProvider)
	return d
}

// Register wraps fn as a unit of the given mode. The unit name defaults to
// the function's package-qualified name.
func (d *Dispatcher) Register(fn any, mode Mode, opts ...UnitOption) (*Unit, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: unknown mode %v", ErrInvalidOption, mode)
	}

	var o unitOptions
	for _, opt := range opts {
		opt(&o)
	}

	u := &Unit{mode: mode, d: d}
	if err := u.inspect(fn); err != nil {
		return nil, err
	}

	u.name = o.name
	if u.name == "" {
		name, err := functionName(u.fn)
		if err != nil {
			return nil, err
		}
		u.name = name
	}
	u.description = o.description
	if u.description == "" {
		u.description = u.name
	}

	u.policy = d.policy
	if o.policy != nil {
		u.policy = *o.policy
	}
	if err := u.policy.Validate(); err != nil {
		return nil, fmt.Errorf("unit %s: %w", u.name, err)
	}

	if len(o.params) > 0 {
		if len(o.params) != len(u.argTypes) {
			return nil, fmt.Errorf("%w: unit %s has %d parameters, %d names given", ErrInvalidOption, u.name, len(u.argTypes), len(o.params))
		}
		sorted := slices.Clone(o.params)
		slices.Sort(sorted)
		if len(slices.Compact(sorted)) != len(o.params) || slices.Contains(o.params, "") {
			return nil, fmt.Errorf("%w: unit %s has empty or repeated parameter names", ErrInvalidOption, u.name)
		}
		u.params = o.params
	}

	if mode == ModeExternalProtocolAction {
		if o.protocol == nil {
			return nil, fmt.Errorf("%w: protocol action %s needs WithProtocol", ErrInvalidOption, u.name)
		}
		if err := o.protocol.Validate(); err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.name, err)
		}
		u.protocol = o.protocol
		u.agent = o.agent
	} else if o.protocol != nil || o.agent != nil {
		return nil, fmt.Errorf("%w: WithProtocol and WithAgent apply to protocol actions only", ErrInvalidOption)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.units[u.name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUnit, u.name)
	}
	d.units[u.name] = u

	d.logger.Debug("unit registered", "unit", u.name, "mode", mode.String(), "max_attempts", u.policy.MaxAttempts)
	return u, nil
}

// Unit returns the unit registered under name.
func (d *Dispatcher) Unit(name string) (*Unit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.units[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotRegistered, name)
	}
	return u, nil
}

// Units returns every registered unit sorted by name.
func (d *Dispatcher) Units() []*Unit {
	d.mu.RLock()
	units := make([]*Unit, 0, len(d.units))
	for _, u := range d.units {
		units = append(units, u)
	}
	d.mu.RUnlock()

	slices.SortFunc(units, func(a, b *Unit) int { return strings.Compare(a.name, b.name) })
	return units
}

// Invoke runs the unit registered under name. An unknown name fails
// immediately without retry.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	u, err := d.Unit(name)
	if err != nil {
		return nil, err
	}
	return u.Invoke(ctx, args...)
}

// Capabilities lists the externally visible units sorted by name.
func (d *Dispatcher) Capabilities() []Capability {
	var caps []Capability
	for _, u := range d.Units() {
		if c, ok := u.Capability(); ok {
			caps = append(caps, c)
		}
	}
	return caps
}

// Release drops the cached service or protocol session of a unit. The next
// invocation constructs it again. Units that cache nothing are a no-op.
func (d *Dispatcher) Release(ctx context.Context, name string) error {
	u, err := d.Unit(name)
	if err != nil {
		return err
	}
	key := u.ServiceKey()
	if key == "" {
		return nil
	}
	return d.registry.Release(ctx, key)
}

// Close releases the cached instances of every unit.
func (d *Dispatcher) Close(ctx context.Context) error {
	var errs []error
	for _, u := range d.Units() {
		if key := u.ServiceKey(); key != "" {
			if err := d.registry.Release(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Registry exposes the service registry backing persistent units.
func (d *Dispatcher) Registry() *service.Registry { return d.registry }

// Serde returns the dispatcher's codec.
func (d *Dispatcher) Serde() serde.BinarySerde { return d.serde }
