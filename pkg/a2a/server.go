// Copyright 2025 Strand Authors
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

package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Address is the listen address, default ":8080".
	Address string

	// ShutdownTimeout bounds graceful shutdown, default 10s.
	ShutdownTimeout time.Duration
}

// Server exposes task reads and session event streams over HTTP:
//
//	GET /tasks/{id}                        one task
//	GET /contexts/{id}/tasks               all tasks of a context
//	GET /sessions/{ctx}/{task}/events      SSE stream of session events
//
// Task reads accept ?historyLength=N and ?includeArtifacts=true.
type Server struct {
	config   ServerConfig
	store    Storage
	sessions *SessionRegistry

	httpServer *http.Server
}

// NewServer builds a server over the store and session registry.
func NewServer(config ServerConfig, store Storage, sessions *SessionRegistry) *Server {
	if config.Address == "" {
		config.Address = ":8080"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &Server{config: config, store: store, sessions: sessions}
}

// Handler returns the route tree, also usable without Start (e.g. under
// httptest).
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Get("/contexts/{id}/tasks", s.handleGetContextTasks)
	r.Get("/sessions/{ctx}/{task}/events", s.handleSessionEvents)
	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.config.Address,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("A2A server listening", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	opts, err := getOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task, err := s.store.Get(chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetContextTasks(w http.ResponseWriter, r *http.Request) {
	opts, err := getOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tasks, err := s.store.GetByContext(chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// sseEvent is one server-sent frame: the session event tagged with its kind.
type sseEvent struct {
	Kind  string `json:"kind"`
	Event Event  `json:"event"`
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	contextID := chi.URLParam(r, "ctx")
	taskID := chi.URLParam(r, "task")

	session, ok := s.sessions.Lookup(contextID, taskID)
	if !ok {
		writeError(w, http.StatusNotFound,
			fmt.Errorf("no session for context %q task %q", contextID, taskID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	// Subscribe before the headers go out so events sent as soon as the
	// client sees the response are not missed.
	events := session.Subscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				// Channel close is the session's close marker.
				fmt.Fprint(w, "event: close\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(sseEvent{Kind: eventKind(ev), Event: ev})
			if err != nil {
				slog.Error("Failed to encode session event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func eventKind(ev Event) string {
	switch ev.(type) {
	case *Message:
		return "message"
	case *Task:
		return "task"
	case *TaskStatusUpdateEvent:
		return "status-update"
	case *TaskArtifactUpdateEvent:
		return "artifact-update"
	default:
		return "unknown"
	}
}

func getOptionsFromQuery(r *http.Request) (GetOptions, error) {
	var opts GetOptions
	if raw := r.URL.Query().Get("historyLength"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid historyLength %q", raw)
		}
		opts.HistoryLength = &n
	}
	opts.IncludeArtifacts = r.URL.Query().Get("includeArtifacts") == "true"
	return opts, nil
}

func statusForError(err error) int {
	var notFound *TaskNotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var failed *TaskOperationFailedError
	if errors.As(err, &failed) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
