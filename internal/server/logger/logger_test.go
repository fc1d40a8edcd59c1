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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ngnhng/flowunit/internal/server/config"
	"github.com/ngnhng/flowunit/internal/server/types"
)

type fakeConfig struct {
	mode   types.Mode
	out    []io.Writer
	level  slog.Level
	fields map[string]string
}

func (c fakeConfig) ModeField() types.Mode          { return c.mode }
func (c fakeConfig) Writers() []io.Writer           { return c.out }
func (c fakeConfig) LogLevel() slog.Level           { return c.level }
func (c fakeConfig) OTELExporter() string           { return config.ExporterNone }
func (c fakeConfig) OTELEndpoint() string           { return "" }
func (c fakeConfig) ExtraFields() map[string]string { return c.fields }
func (c fakeConfig) ServiceName() string            { return "flowunit-test" }
func (c fakeConfig) GetVersion() string             { return "v0.0.0" }

func TestNewLogger_Debug(t *testing.T) {
	var a, b bytes.Buffer
	l, err := NewLogger(context.Background(), fakeConfig{
		mode:   types.ModeDebug,
		out:    []io.Writer{&a, &b},
		level:  slog.LevelInfo,
		fields: map[string]string{"region": "eu"},
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if l.LoggerProvider != nil {
		t.Error("debug mode must not create an OTLP provider")
	}

	l.Slogger.Debug("hidden")
	l.Slogger.With("unit", "fetch").WithGroup("retry").Info("attempt failed", "attempt", 2, "delay", 250*time.Millisecond)

	for name, buf := range map[string]*bytes.Buffer{"first": &a, "second": &b} {
		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("%s writer got a record below the level: %q", name, out)
		}
		for _, want := range []string{"attempt failed", "retry.attempt=2", "retry.delay=250ms"} {
			if !strings.Contains(out, want) {
				t.Errorf("%s writer output %q does not contain %q", name, out, want)
			}
		}
	}
	if err := l.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewLogger_ReleaseWithoutExporter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(context.Background(), fakeConfig{mode: types.ModeRelease, out: []io.Writer{&buf}, level: slog.LevelDebug})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	l.Slogger.Info("routine")
	l.Slogger.Warn("degraded", "server", "tools-a")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if rec["msg"] != "degraded" || rec["server"] != "tools-a" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_NoWriters(t *testing.T) {
	if _, err := NewLogger(context.Background(), fakeConfig{mode: types.ModeDebug}); err == nil {
		t.Fatal("NewLogger() without writers must fail")
	}
}

func TestFormatAttrValue(t *testing.T) {
	tests := []struct {
		name string
		v    slog.Value
		want string
	}{
		{"string", slog.StringValue("x"), `"x"`},
		{"int", slog.IntValue(3), "3"},
		{"float", slog.Float64Value(0.5), "0.5"},
		{"bool", slog.BoolValue(true), "true"},
		{"duration", slog.DurationValue(time.Second), "1s"},
		{"group", slog.GroupValue(slog.Int("a", 1)), "{a:1}"},
		{"string map", slog.AnyValue(map[string]string{"b": "2", "a": "1"}), "a:1 b:2"},
		{"slice", slog.AnyValue([]string{"a", "b"}), "[a b]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAttrValue(tt.v); got != tt.want {
				t.Errorf("formatAttrValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
