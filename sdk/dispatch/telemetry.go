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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ngnhng/flowunit/sdk/resilience"
)

const instrumentationName = "github.com/ngnhng/flowunit/sdk/dispatch"

// Invocation outcomes reported in the status metric attribute.
const (
	statusOK      = "ok"
	statusError   = "error"
	statusFailure = "failure"
)

type telemetry struct {
	tracer      trace.Tracer
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
}

// WithTracerProvider sets where unit invocation spans go. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracerProvider = tp }
}

// WithMeterProvider sets where unit invocation metrics go. Defaults to the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dispatcher) { d.meterProvider = mp }
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	// The API hands back noop instruments alongside any error.
	invocations, _ := meter.Int64Counter(
		"flowunit.unit.invocations",
		metric.WithDescription("Unit invocations by outcome"),
		metric.WithUnit("{invocation}"),
	)
	duration, _ := meter.Float64Histogram(
		"flowunit.unit.duration",
		metric.WithDescription("Unit invocation time including retries"),
		metric.WithUnit("s"),
	)

	return telemetry{
		tracer:      tp.Tracer(instrumentationName),
		invocations: invocations,
		duration:    duration,
	}
}

// observe runs one retried execution of u inside a span and records its
// outcome. A *resilience.Failure result counts as a failure, not success.
func (u *Unit) observe(ctx context.Context, run resilience.Operation) (any, error) {
	tel := u.d.telemetry
	ctx, span := tel.tracer.Start(ctx, "flowunit.unit.invoke",
		trace.WithAttributes(
			attribute.String("flowunit.unit", u.name),
			attribute.String("flowunit.mode", u.mode.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	out, err := run(ctx)
	elapsed := time.Since(start).Seconds()

	status := statusOK
	if err != nil {
		status = statusError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if f, failed := resilience.AsFailure(out); failed {
		status = statusFailure
		span.SetAttributes(
			attribute.Int("flowunit.attempts", f.Attempts),
			attribute.String("flowunit.error.category", string(f.ErrorCategory)),
		)
		span.SetStatus(codes.Error, f.ErrorMessage)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	attrs := metric.WithAttributes(
		attribute.String("unit", u.name),
		attribute.String("mode", u.mode.String()),
		attribute.String("status", status),
	)
	tel.invocations.Add(ctx, 1, attrs)
	tel.duration.Record(ctx, elapsed, attrs)

	return out, err
}
