// Copyright 2025 Tom Barlow
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

// Package api provides the HTTP admin surface for the mmids daemon: listing
// running workflows, inspecting their pipelines, health, and metrics.
// Unknown paths return a 404 with the body `Invalid URL`.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/tombee/mmids/internal/log"
	"github.com/tombee/mmids/pkg/workflow/manager"
	"github.com/tombee/mmids/pkg/workflow/runner"
)

// ManagerChannel is the slice of the workflow manager the API depends on.
type ManagerChannel interface {
	Send(request manager.Request) bool
}

// Config configures the router.
type Config struct {
	// Manager is the workflow manager the handlers query.
	Manager ManagerChannel

	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler

	// Logger is optional.
	Logger *slog.Logger

	// RequestTimeout bounds manager queries. Default 5s.
	RequestTimeout time.Duration
}

// NewRouter builds the admin API handler.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "http-api")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	handlers := &handlers{
		manager: cfg.Manager,
		logger:  logger,
		timeout: timeout,
	}

	router := mux.NewRouter()
	router.HandleFunc("/workflows", handlers.listWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{workflow}", handlers.getWorkflowDetails).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.health).Methods(http.MethodGet)
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(invalidURL)
	router.MethodNotAllowedHandler = http.HandlerFunc(invalidURL)

	return cors.Default().Handler(requestLogging(logger, router))
}

// invalidURL is the contract for unknown paths.
func invalidURL(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Invalid URL"))
}

// requestLogging assigns each request an id and logs method, path, status,
// and duration.
func requestLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		started := time.Now()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logger.Info("http request",
			log.RequestIDKey, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			log.DurationKey, time.Since(started).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type handlers struct {
	manager ManagerChannel
	logger  *slog.Logger
	timeout time.Duration
}

// workflowSummary is one entry of the workflow list response.
type workflowSummary struct {
	Name string `json:"name"`
}

// stepDetails describes one step of a workflow details response.
type stepDetails struct {
	ID     uint64 `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// workflowDetails is the workflow details response.
type workflowDetails struct {
	Name              string        `json:"name"`
	Status            string        `json:"status"`
	ActiveSteps       []stepDetails `json:"active_steps"`
	PendingSteps      []stepDetails `json:"pending_steps"`
	ActiveStreamCount int           `json:"active_stream_count"`
}

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	response := make(chan []string, 1)
	sent := h.manager.Send(manager.Request{
		RequestID: "http_api_list_workflows",
		Operation: manager.ListWorkflows{Response: response},
	})
	if !sent {
		h.logger.Warn("workflow manager unavailable")
		http.Error(w, "workflow manager unavailable", http.StatusServiceUnavailable)
		return
	}

	select {
	case names := <-response:
		summaries := make([]workflowSummary, 0, len(names))
		for _, name := range names {
			summaries = append(summaries, workflowSummary{Name: name})
		}
		writeJSON(w, summaries)

	case <-time.After(h.timeout):
		http.Error(w, "workflow manager timed out", http.StatusGatewayTimeout)
	}
}

func (h *handlers) getWorkflowDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["workflow"]

	response := make(chan *runner.State, 1)
	sent := h.manager.Send(manager.Request{
		RequestID: "http_api_workflow_details",
		Operation: manager.GetWorkflowDetails{Name: name, Response: response},
	})
	if !sent {
		h.logger.Warn("workflow manager unavailable")
		http.Error(w, "workflow manager unavailable", http.StatusServiceUnavailable)
		return
	}

	select {
	case state := <-response:
		if state == nil {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}

		details := workflowDetails{
			Name:              state.Name,
			Status:            string(state.Status),
			ActiveSteps:       make([]stepDetails, 0, len(state.ActiveSteps)),
			PendingSteps:      make([]stepDetails, 0, len(state.PendingSteps)),
			ActiveStreamCount: state.ActiveStreamCount,
		}
		for _, s := range state.ActiveSteps {
			details.ActiveSteps = append(details.ActiveSteps, stepDetails{ID: s.ID, Type: string(s.Type), Status: string(s.Status)})
		}
		for _, s := range state.PendingSteps {
			details.PendingSteps = append(details.PendingSteps, stepDetails{ID: s.ID, Type: string(s.Type), Status: string(s.Status)})
		}

		writeJSON(w, details)

	case <-time.After(h.timeout):
		http.Error(w, "workflow manager timed out", http.StatusGatewayTimeout)
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		slog.Default().Error("failed to encode http response", "error", err)
	}
}
