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

package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ngnhng/flowunit/internal/server/types"
)

// OTLP log exporters.
const (
	ExporterNone     = "none"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

type LoggerConfig struct {
	Level          string      `env:"LEVEL"          envDefault:"info"`   // debug|info|warn|error
	Output         string      `env:"OUTPUT"         envDefault:"stdout"` // stdout,stderr,file,file:<path>
	FilePath       string      `env:"FILE_PATH"`
	FileMode       os.FileMode `env:"FILE_MODE"      envDefault:"0644"`
	ExtraFieldsRaw string      `env:"FIELDS"` // key1=val1,key2=val2
	OTELExporter   string      `env:"OTEL_EXPORTER"  envDefault:"none"`
	OTELEndpoint   string      `env:"OTEL_ENDPOINT"`

	mu    sync.Mutex
	files map[string]*os.File
}

// Writers opens every configured log output. Unknown entries are skipped
// with a warning.
func (c *Config) Writers() []io.Writer {
	outputs := strings.TrimSpace(c.Logger.Output)
	if outputs == "" {
		return []io.Writer{os.Stdout}
	}

	var writers []io.Writer
	seen := make(map[string]bool)
	add := func(key string, w io.Writer) {
		if w == nil || seen[key] {
			return
		}
		seen[key] = true
		writers = append(writers, w)
	}

	for _, raw := range strings.Split(outputs, ",") {
		raw = strings.TrimSpace(raw)
		lower := strings.ToLower(raw)
		switch {
		case raw == "":
		case strings.HasPrefix(lower, "file:"):
			path := raw[len("file:"):]
			add("file:"+path, c.Logger.open(path))
		case lower == "stdout":
			add("stdout", os.Stdout)
		case lower == "stderr":
			add("stderr", os.Stderr)
		case lower == "file":
			if c.Logger.FilePath == "" {
				slog.Warn("LOG_OUTPUT includes 'file' but LOG_FILE_PATH is not set; skipping")
				continue
			}
			add("file:"+c.Logger.FilePath, c.Logger.open(c.Logger.FilePath))
		default:
			slog.Warn("unknown log output entry", "entry", raw)
		}
	}

	if len(writers) == 0 {
		return []io.Writer{os.Stdout}
	}
	return writers
}

func (lc *LoggerConfig) open(path string) io.Writer {
	if path == "" {
		return nil
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if f, ok := lc.files[path]; ok {
		return f
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, lc.FileMode)
	if err != nil {
		slog.Warn("cannot open file for log output", "path", path, "error", err)
		return nil
	}
	if lc.files == nil {
		lc.files = make(map[string]*os.File)
	}
	lc.files[path] = f
	return f
}

// CloseFiles closes the log files opened by Writers.
func (lc *LoggerConfig) CloseFiles() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	var first error
	for path, f := range lc.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(lc.files, path)
	}
	return first
}

func (lc *LoggerConfig) ParseExtraFields() map[string]string {
	res := make(map[string]string)
	if lc == nil || lc.ExtraFieldsRaw == "" {
		return res
	}
	for _, p := range strings.Split(lc.ExtraFieldsRaw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		res[k] = strings.TrimSpace(v)
	}
	return res
}

func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Logger.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) OTELExporter() string {
	switch e := strings.ToLower(strings.TrimSpace(c.Logger.OTELExporter)); e {
	case ExporterOTLPHTTP, ExporterOTLPGRPC:
		return e
	}
	return ExporterNone
}

func (c *Config) OTELEndpoint() string           { return c.Logger.OTELEndpoint }
func (c *Config) ExtraFields() map[string]string { return c.Logger.ParseExtraFields() }
func (c *Config) ModeField() types.Mode          { return c.Mode }
