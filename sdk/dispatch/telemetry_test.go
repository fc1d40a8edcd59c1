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
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newInstrumentedDispatcher() (*Dispatcher, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	sr := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	d := newTestDispatcher(
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
	)
	return d, sr, reader
}

func spanAttr(attrs []attribute.KeyValue, key string) attribute.Value {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestTelemetry_Spans(t *testing.T) {
	d, sr, _ := newInstrumentedDispatcher()
	ctx := context.Background()

	mustRegister(t, d, greet, ModeOneShotTask, WithName("greet"))
	mustRegister(t, d, func(ctx context.Context) (string, error) {
		return "", errors.New("quota exceeded")
	}, ModeExternalAction, WithName("quota"), WithPolicy(fastPolicy(2, false)))
	mustRegister(t, d, func(ctx context.Context) error {
		return errors.New("broken")
	}, ModeOneShotTask, WithName("broken"), WithPolicy(fastPolicy(1, true)))

	if _, err := d.Invoke(ctx, "greet", "ada"); err != nil {
		t.Fatalf("Invoke(greet) error = %v", err)
	}
	if _, err := d.Invoke(ctx, "quota"); err != nil {
		t.Fatalf("Invoke(quota) error = %v", err)
	}
	if _, err := d.Invoke(ctx, "broken"); err == nil {
		t.Fatal("Invoke(broken) error = nil")
	}

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}

	want := []struct {
		unit string
		mode string
		code codes.Code
	}{
		{"greet", "one_shot_task", codes.Ok},
		{"quota", "external_action", codes.Error},
		{"broken", "one_shot_task", codes.Error},
	}
	for i, w := range want {
		s := spans[i]
		if s.Name() != "flowunit.unit.invoke" {
			t.Errorf("span[%d] name = %q", i, s.Name())
		}
		if got := spanAttr(s.Attributes(), "flowunit.unit").AsString(); got != w.unit {
			t.Errorf("span[%d] unit = %q, want %q", i, got, w.unit)
		}
		if got := spanAttr(s.Attributes(), "flowunit.mode").AsString(); got != w.mode {
			t.Errorf("span[%d] mode = %q, want %q", i, got, w.mode)
		}
		if s.Status().Code != w.code {
			t.Errorf("span[%d] status = %v, want %v", i, s.Status().Code, w.code)
		}
	}

	if got := spanAttr(spans[1].Attributes(), "flowunit.attempts").AsInt64(); got != 1 {
		t.Errorf("quota attempts = %d, want 1", got)
	}
	if len(spans[2].Events()) == 0 {
		t.Error("broken span recorded no error event")
	}
}

func TestTelemetry_Metrics(t *testing.T) {
	d, _, reader := newInstrumentedDispatcher()
	ctx := context.Background()

	type state struct{ N int }
	mustRegister(t, d, func(ctx context.Context, s state) (state, error) {
		s.N++
		return s, nil
	}, ModeStateStep, WithName("inc"))

	for i := 0; i < 3; i++ {
		if _, err := d.Invoke(ctx, "inc", state{}); err != nil {
			t.Fatalf("Invoke(inc) error = %v", err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var counted int64
	var recorded uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name != "flowunit.unit.invocations" {
					continue
				}
				for _, dp := range data.DataPoints {
					status, _ := dp.Attributes.Value("status")
					unit, _ := dp.Attributes.Value("unit")
					if status.AsString() == statusOK && unit.AsString() == "inc" {
						counted += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				if m.Name != "flowunit.unit.duration" {
					continue
				}
				for _, dp := range data.DataPoints {
					recorded += dp.Count
				}
			}
		}
	}
	if counted != 3 {
		t.Errorf("invocations{unit=inc,status=ok} = %d, want 3", counted)
	}
	if recorded != 3 {
		t.Errorf("duration samples = %d, want 3", recorded)
	}
}
