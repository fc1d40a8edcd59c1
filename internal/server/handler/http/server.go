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

// Package http serves health probes and read-only views of the tool catalog
// and stored checkpoints.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/internal/server/handler/tools"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
	"github.com/ngnhng/flowunit/sdk/graph"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	server *http.Server
	logger *slog.Logger
}

// Deps are the collaborators the HTTP routes read from. Store may be nil.
type Deps struct {
	Probes  map[string]Probe
	Catalog tools.Catalog
	Store   checkpoint.Store
	Codec   serde.BinarySerde
	Logger  *slog.Logger
}

func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewMux(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: deps.Logger,
	}
}

// NewMux builds the route table.
func NewMux(deps Deps) http.Handler {
	if deps.Codec == nil {
		deps.Codec = &serde.JsonSerde{}
	}
	health := NewHealthHandler(deps.Probes)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Health)
	mux.HandleFunc("GET /readyz", health.Ready)
	mux.HandleFunc("GET /api/tools", func(w http.ResponseWriter, r *http.Request) {
		specs := []api.ToolSpec{}
		if deps.Catalog != nil {
			for _, c := range deps.Catalog.Capabilities() {
				specs = append(specs, c.Spec())
			}
		}
		writeJSON(w, http.StatusOK, api.ListToolsReply{Tools: specs})
	})
	mux.HandleFunc("GET /api/threads/{thread}/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		threadCheckpoints(w, r, deps)
	})
	return corsMiddleware(mux)
}

// CheckpointView is a checkpoint without its state payload.
type CheckpointView struct {
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Node      string    `json:"node"`
	Next      string    `json:"next"`
	StateSize int       `json:"state_size"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func threadCheckpoints(w http.ResponseWriter, r *http.Request, deps Deps) {
	if deps.Store == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "checkpoints are not enabled"})
		return
	}
	thread := r.PathValue("thread")
	if err := checkpoint.ValidateKey(thread); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	history, err := graph.History(r.Context(), deps.Store, deps.Codec, thread)
	if err != nil {
		deps.Logger.Warn("read checkpoint history", "thread_id", thread, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if len(history) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no checkpoints for thread " + thread})
		return
	}

	views := make([]CheckpointView, 0, len(history))
	for _, cp := range history {
		views = append(views, CheckpointView{
			ThreadID:  cp.ThreadID,
			RunID:     cp.RunID,
			Step:      cp.Step,
			Node:      cp.Node,
			Next:      cp.Next,
			StateSize: len(cp.State),
			CreatedAt: cp.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
