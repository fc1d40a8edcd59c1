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
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	color "github.com/fatih/color"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ngnhng/flowunit/internal/server/config"
	"github.com/ngnhng/flowunit/internal/server/types"
)

type Logger struct {
	Slogger *slog.Logger
	*sdklog.LoggerProvider
}

// Config is the part of the server configuration the logger reads.
type Config interface {
	ModeField() types.Mode
	Writers() []io.Writer
	LogLevel() slog.Level
	OTELExporter() string
	OTELEndpoint() string
	ExtraFields() map[string]string
	ServiceName() string
	GetVersion() string
}

// NewLogger builds the server logger. Debug mode writes colourised lines to
// every configured writer. Release mode writes JSON warnings to the writers
// and, when an exporter is configured, ships every record over OTLP.
func NewLogger(ctx context.Context, cfg Config) (*Logger, error) {
	writers := cfg.Writers()
	if len(writers) == 0 {
		return nil, fmt.Errorf("no log writer")
	}

	var (
		handlers []slog.Handler
		provider *sdklog.LoggerProvider
	)
	if cfg.ModeField() == types.ModeDebug {
		for _, w := range writers {
			handlers = append(handlers, NewDebugHandler(w, cfg.LogLevel()))
		}
	} else {
		for _, w := range writers {
			handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{
				Level: max(cfg.LogLevel(), slog.LevelWarn),
			}))
		}

		exporter, err := newExporter(ctx, cfg.OTELExporter(), cfg.OTELEndpoint())
		if err != nil {
			return nil, err
		}
		if exporter != nil {
			res, err := resource.Merge(
				resource.Default(),
				resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceName(cfg.ServiceName()),
					semconv.ServiceVersion(cfg.GetVersion()),
				),
			)
			if err != nil {
				return nil, fmt.Errorf("log resource: %w", err)
			}
			provider = sdklog.NewLoggerProvider(
				sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
				sdklog.WithResource(res),
			)
			handlers = append(handlers, otelslog.NewHandler(cfg.ServiceName(), otelslog.WithLoggerProvider(provider)))
		}
	}

	var h slog.Handler = &MultiHandler{handlers: handlers}
	if fields := cfg.ExtraFields(); len(fields) > 0 {
		attrs := make([]slog.Attr, 0, len(fields))
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			attrs = append(attrs, slog.String(k, fields[k]))
		}
		h = h.WithAttrs(attrs)
	}

	return &Logger{
		Slogger:        slog.New(h),
		LoggerProvider: provider,
	}, nil
}

// Shutdown flushes the OTLP provider, if any.
func (l *Logger) Shutdown(ctx context.Context) error {
	if l.LoggerProvider == nil {
		return nil
	}
	return l.LoggerProvider.Shutdown(ctx)
}

func newExporter(ctx context.Context, kind, endpoint string) (sdklog.Exporter, error) {
	switch kind {
	case config.ExporterOTLPHTTP:
		var opts []otlploghttp.Option
		if endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpointURL(endpoint))
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp http log exporter: %w", err)
		}
		return exp, nil
	case config.ExporterOTLPGRPC:
		var opts []otlploggrpc.Option
		if endpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpointURL(endpoint))
		}
		exp, err := otlploggrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp grpc log exporter: %w", err)
		}
		return exp, nil
	}
	return nil, nil
}

type (
	DebugHandler struct {
		out   io.Writer
		level slog.Leveler
		attrs []slog.Attr
		group string
		mut   *sync.Mutex
	}

	MultiHandler struct {
		handlers []slog.Handler
	}
)

var (
	_ slog.Handler = (*DebugHandler)(nil)
	_ slog.Handler = (*MultiHandler)(nil)
)

func NewDebugHandler(out io.Writer, level slog.Leveler) *DebugHandler {
	return &DebugHandler{out: out, level: level, mut: &sync.Mutex{}}
}

func (h *DebugHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := color.New(color.FgHiBlack).Sprint(r.Time.Format("15:04:05"))
	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		attrs = append(attrs, a)
		return true
	})
	line := fmt.Sprintf("%s %s %s%s\n", timeStr, levelColor(r.Level), r.Message, formatAttributes(attrs))

	h.mut.Lock()
	defer h.mut.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func (h *DebugHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(slices.Clone(h.attrs), h.prefixed(attrs)...)
	return &next
}

func (h *DebugHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = name
	if h.group != "" {
		next.group = h.group + "." + name
	}
	return &next
}

func (h *DebugHandler) prefixed(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		a.Key = h.group + "." + a.Key
		out[i] = a
	}
	return out
}

func (h *DebugHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelDebug
	if h.level != nil {
		threshold = h.level.Level()
	}
	return level >= threshold
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		// Best-effort: one failing handler must not drop the record for the others.
		if err := h.Handle(ctx, record.Clone()); err != nil {
			fmt.Fprintf(os.Stderr, "slog handler error: %v\n", err)
		}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}

func levelColor(level slog.Level) string {
	var bg, fg color.Attribute
	switch {
	case level >= slog.LevelError:
		bg, fg = color.BgRed, color.FgWhite
	case level >= slog.LevelWarn:
		bg, fg = color.BgYellow, color.FgBlack
	case level >= slog.LevelInfo:
		bg, fg = color.BgBlue, color.FgWhite
	default:
		bg, fg = color.BgMagenta, color.FgWhite
	}
	return color.New(bg, fg, color.Bold).Sprint(" " + strings.ToUpper(level.String()) + " ")
}

func formatAttributes(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, formatAttrValue(attr.Value)))
	}
	return " " + strings.Join(parts, " ")
}

func formatAttrValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return fmt.Sprintf("%q", v.String())
	case slog.KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%d", v.Uint64())
	case slog.KindFloat64:
		return fmt.Sprintf("%g", v.Float64())
	case slog.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindGroup:
		parts := make([]string, 0, len(v.Group()))
		for _, a := range v.Group() {
			parts = append(parts, a.Key+":"+formatAttrValue(a.Value))
		}
		return "{" + strings.Join(parts, " ") + "}"
	}
	if m, ok := v.Any().(map[string]string); ok {
		parts := make([]string, 0, len(m))
		for _, k := range slices.Sorted(maps.Keys(m)) {
			parts = append(parts, k+":"+m[k])
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprintf("%v", v.Any())
}
