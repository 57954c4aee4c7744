package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/dlq"
)

func testServer(t *testing.T, reexec dlq.ReexecuteFunc, checks map[string]HealthCheck) (*Server, *dlq.Queue) {
	t.Helper()
	if reexec == nil {
		reexec = func(ctx context.Context, payload json.RawMessage, scopes []string) error {
			return nil
		}
	}
	q := dlq.NewQueue(dlq.Config{MaxSize: 10}, reexec, nil, nil)
	p := dlq.NewProcessor(q, dlq.ProcessorConfig{CheckInterval: time.Hour})
	return NewServer(q, p, 0, checks), q
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := testServer(t, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected ok status, got %v", body["status"])
	}
	if body["processor_running"] != false {
		t.Errorf("expected processor_running false, got %v", body["processor_running"])
	}
}

func TestServer_HealthDegradedDependency(t *testing.T) {
	checks := map[string]HealthCheck{
		"database": func(ctx context.Context) error { return errors.New("connection refused") },
	}
	s, _ := testServer(t, nil, checks)

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != "degraded" {
		t.Errorf("expected degraded, got %s", body.Status)
	}
	if body.Dependencies["database"] != "connection refused" {
		t.Errorf("expected dependency error, got %v", body.Dependencies)
	}
}

func TestServer_ListTasks(t *testing.T) {
	s, q := testServer(t, nil, nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, dlq.EnqueueRequest{TaskID: "task-1", Err: errors.New("boom")})
	_, _ = q.Enqueue(ctx, dlq.EnqueueRequest{TaskID: "task-2", Err: errors.New("boom")})

	rec := doRequest(t, s, http.MethodGet, "/dlq/tasks")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Tasks []*domain.FailedTask `json:"tasks"`
		Count int                  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Count != 2 || len(body.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", body.Count)
	}

	// Status filter.
	rec = doRequest(t, s, http.MethodGet, "/dlq/tasks?status=exhausted")
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Count != 0 {
		t.Errorf("expected 0 exhausted tasks, got %d", body.Count)
	}

	// Bad limit rejected.
	rec = doRequest(t, s, http.MethodGet, "/dlq/tasks?limit=banana")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limit, got %d", rec.Code)
	}
}

func TestServer_GetTask(t *testing.T) {
	s, q := testServer(t, nil, nil)
	_, _ = q.Enqueue(context.Background(), dlq.EnqueueRequest{TaskID: "task-1", Err: errors.New("boom")})

	rec := doRequest(t, s, http.MethodGet, "/dlq/tasks/task-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var task domain.FailedTask
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if task.TaskID != "task-1" || task.ErrorMessage != "boom" {
		t.Errorf("unexpected task %+v", task)
	}

	rec = doRequest(t, s, http.MethodGet, "/dlq/tasks/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServer_RetryTask(t *testing.T) {
	s, q := testServer(t, nil, nil)
	_, _ = q.Enqueue(context.Background(), dlq.EnqueueRequest{TaskID: "task-1"})

	rec := doRequest(t, s, http.MethodPost, "/dlq/tasks/task-1/retry")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["result"] != "success" {
		t.Errorf("expected success, got %v", body)
	}
	if q.Size() != 0 {
		t.Error("task should be removed after successful retry")
	}

	rec = doRequest(t, s, http.MethodPost, "/dlq/tasks/task-1/retry")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for retried-away task, got %d", rec.Code)
	}
}

func TestServer_RetryTaskFailureReported(t *testing.T) {
	reexec := func(ctx context.Context, payload json.RawMessage, scopes []string) error {
		return errors.New("still broken")
	}
	s, q := testServer(t, reexec, nil)
	_, _ = q.Enqueue(context.Background(), dlq.EnqueueRequest{TaskID: "task-1"})

	rec := doRequest(t, s, http.MethodPost, "/dlq/tasks/task-1/retry")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with failure payload, got %d", rec.Code)
	}

	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["result"] != "failed" || body["error"] != "still broken" {
		t.Errorf("expected failure report, got %v", body)
	}
	if q.Size() != 1 {
		t.Error("failed retry should keep the task queued")
	}
}

func TestServer_ArchiveTask(t *testing.T) {
	s, q := testServer(t, nil, nil)
	_, _ = q.Enqueue(context.Background(), dlq.EnqueueRequest{TaskID: "task-1"})

	rec := doRequest(t, s, http.MethodPost, "/dlq/tasks/task-1/archive")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if q.Size() != 0 {
		t.Error("task should be removed")
	}

	rec = doRequest(t, s, http.MethodPost, "/dlq/tasks/task-1/archive")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing task, got %d", rec.Code)
	}
}

func TestServer_StatsAndClear(t *testing.T) {
	s, q := testServer(t, nil, nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, dlq.EnqueueRequest{TaskID: "task-1", Category: domain.CategoryNetwork})

	rec := doRequest(t, s, http.MethodGet, "/dlq/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats dlq.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stats.Size != 1 || stats.EnqueuedTotal != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rec = doRequest(t, s, http.MethodPost, "/dlq/clear")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cleared map[string]int
	_ = json.Unmarshal(rec.Body.Bytes(), &cleared)
	if cleared["removed"] != 1 {
		t.Errorf("expected 1 removed, got %v", cleared)
	}
	if q.Size() != 0 {
		t.Error("queue should be empty after clear")
	}
}

func TestServer_MethodRouting(t *testing.T) {
	s, _ := testServer(t, nil, nil)

	// Retry and archive are POST-only.
	rec := doRequest(t, s, http.MethodGet, "/dlq/tasks/task-1/retry")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET retry, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodDelete, "/dlq/clear")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for DELETE clear, got %d", rec.Code)
	}
}
