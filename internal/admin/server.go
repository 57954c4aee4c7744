// Package admin exposes the HTTP surface for operating the dead letter
// queue: health, metrics, and task inspection endpoints.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/dlq"
)

// HealthCheck reports the health of a backing dependency.
type HealthCheck func(ctx context.Context) error

// Server provides HTTP endpoints for DLQ operations.
type Server struct {
	queue     *dlq.Queue
	processor *dlq.Processor
	checks    map[string]HealthCheck
	server    *http.Server
}

// NewServer creates a new admin server. Checks are optional per-dependency
// health probes keyed by name.
func NewServer(queue *dlq.Queue, processor *dlq.Processor, port int, checks map[string]HealthCheck) *Server {
	mux := http.NewServeMux()
	s := &Server{
		queue:     queue,
		processor: processor,
		checks:    checks,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /dlq/tasks", s.handleListTasks)
	mux.HandleFunc("GET /dlq/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /dlq/tasks/{id}/retry", s.handleRetryTask)
	mux.HandleFunc("POST /dlq/tasks/{id}/archive", s.handleArchiveTask)
	mux.HandleFunc("GET /dlq/stats", s.handleStats)
	mux.HandleFunc("POST /dlq/clear", s.handleClear)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":            "ok",
		"processor_running": s.processor.Running(),
		"queue_size":        s.queue.Size(),
	}

	healthy := true
	deps := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			deps[name] = err.Error()
			healthy = false
		} else {
			deps[name] = "ok"
		}
	}
	if len(deps) > 0 {
		response["dependencies"] = deps
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		response["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tasks := s.queue.List(status, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.queue.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.queue.RetryTask(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "result": "success"})
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTaskInFlight):
		writeError(w, http.StatusConflict, err.Error())
	default:
		// Re-execution failed; the task stays queued with updated state.
		writeJSON(w, http.StatusOK, map[string]string{
			"task_id": id,
			"result":  "failed",
			"error":   err.Error(),
		})
	}
}

func (s *Server) handleArchiveTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.ArchiveTask(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "result": "archived"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Statistics())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	removed := s.queue.ClearAll()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
