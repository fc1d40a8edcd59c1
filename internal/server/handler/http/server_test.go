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

package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
	"github.com/ngnhng/flowunit/sdk/dispatch"
	"github.com/ngnhng/flowunit/sdk/graph"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type counter struct{ N int }

func seedThread(t *testing.T, store checkpoint.Store, thread string) {
	t.Helper()
	e := graph.NewEngine[counter](graph.WithEngineLogger(discard), graph.WithCheckpointStore(store, &serde.JsonSerde{}))
	inc := func(ctx context.Context, s counter) (counter, error) { s.N++; return s, nil }
	for _, err := range []error{
		e.AddNode("first", inc),
		e.AddNode("second", inc),
		e.SetEntryPoint("first"),
		e.AddEdge("first", "second"),
		e.AddEdge("second", graph.End),
	} {
		if err != nil {
			t.Fatalf("build graph: %v", err)
		}
	}
	r, err := e.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := r.Run(context.Background(), counter{}, graph.WithThreadID(thread)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func get(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil {
		if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
			t.Fatalf("GET %s: decode body: %v", path, err)
		}
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	up := true
	h := NewMux(Deps{Probes: map[string]Probe{"nats": func() bool { return up }}, Logger: discard})

	var resp HealthResponse
	if code := get(t, h, "/healthz", &resp); code != http.StatusOK || resp.Status != "ok" {
		t.Errorf("GET /healthz = %d %q, want 200 ok", code, resp.Status)
	}

	tests := []struct {
		name     string
		up       bool
		wantCode int
		want     string
	}{
		{"connected", true, http.StatusOK, "up"},
		{"disconnected", false, http.StatusServiceUnavailable, "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up = tt.up
			var resp HealthResponse
			if code := get(t, h, "/readyz", &resp); code != tt.wantCode {
				t.Errorf("GET /readyz = %d, want %d", code, tt.wantCode)
			}
			if resp.Checks["nats"] != tt.want {
				t.Errorf("checks[nats] = %v, want %v", resp.Checks["nats"], tt.want)
			}
		})
	}
}

func TestTools(t *testing.T) {
	d := dispatch.New(dispatch.WithLogger(discard))
	if _, err := d.Register(func(ctx context.Context, q string) (string, error) { return q, nil },
		dispatch.ModeExternalAction, dispatch.WithName("echo"), dispatch.WithParams("q")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var reply api.ListToolsReply
	if code := get(t, NewMux(Deps{Catalog: d}), "/api/tools", &reply); code != http.StatusOK {
		t.Fatalf("GET /api/tools = %d", code)
	}
	if len(reply.Tools) != 1 || reply.Tools[0].Name != "echo" {
		t.Errorf("tools = %+v, want [echo]", reply.Tools)
	}
}

func TestThreadCheckpoints(t *testing.T) {
	store := checkpoint.NewMemory()
	seedThread(t, store, "order-1")
	h := NewMux(Deps{Store: store, Logger: discard})

	var views []CheckpointView
	if code := get(t, h, "/api/threads/order-1/checkpoints", &views); code != http.StatusOK {
		t.Fatalf("GET checkpoints = %d", code)
	}
	if len(views) != 2 {
		t.Fatalf("checkpoints = %d, want 2", len(views))
	}
	if views[0].Node != "first" || views[0].Next != "second" || views[1].Next != graph.End {
		t.Errorf("checkpoints = %+v", views)
	}
	if views[1].StateSize == 0 {
		t.Error("StateSize = 0, want the encoded state length")
	}

	tests := []struct {
		name string
		deps Deps
		path string
		want int
	}{
		{"unknown thread", Deps{Store: store}, "/api/threads/order-2/checkpoints", http.StatusNotFound},
		{"invalid thread", Deps{Store: store}, "/api/threads/.bad/checkpoints", http.StatusBadRequest},
		{"no store", Deps{}, "/api/threads/order-1/checkpoints", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.deps.Logger = discard
			if code := get(t, NewMux(tt.deps), tt.path, nil); code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, code, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMux(Deps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/tools", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
