package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestProcessor_StartStop(t *testing.T) {
	q := NewQueue(Config{}, okReexec, nil, nil)
	p := NewProcessor(q, ProcessorConfig{CheckInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if p.Running() {
		t.Fatal("new processor should not be running")
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.Running() {
		t.Fatal("processor should be running")
	}

	if err := p.Start(ctx); !errors.Is(err, domain.ErrProcessorRunning) {
		t.Errorf("expected ErrProcessorRunning on double start, got %v", err)
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if p.Running() {
		t.Error("processor should be stopped")
	}

	// Stopping again is a no-op.
	if err := p.Stop(ctx); err != nil {
		t.Errorf("double stop should be a no-op, got %v", err)
	}

	// A stopped processor can be started again.
	if err := p.Start(ctx); err != nil {
		t.Errorf("restart failed: %v", err)
	}
	_ = p.Stop(ctx)
}

func TestProcessor_ProcessesDueTasks(t *testing.T) {
	var mu sync.Mutex
	executed := map[string]int{}
	reexec := func(ctx context.Context, payload json.RawMessage, scopes []string) error {
		mu.Lock()
		defer mu.Unlock()
		executed[string(payload)]++
		return nil
	}

	q := NewQueue(Config{}, reexec, nil, nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, EnqueueRequest{
		TaskID:  "task-1",
		Payload: json.RawMessage(`one`),
		Policy:  domain.RetryImmediate,
	})
	_, _ = q.Enqueue(ctx, EnqueueRequest{
		TaskID:  "task-2",
		Payload: json.RawMessage(`two`),
		Policy:  domain.RetryImmediate,
	})

	p := NewProcessor(q, ProcessorConfig{CheckInterval: 10 * time.Millisecond, Concurrency: 2})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	waitFor(t, 2*time.Second, func() bool { return q.Size() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if executed["one"] != 1 || executed["two"] != 1 {
		t.Errorf("expected each task executed once, got %v", executed)
	}
}

func TestProcessor_SkipsNotYetDueTasks(t *testing.T) {
	called := false
	reexec := func(ctx context.Context, payload json.RawMessage, scopes []string) error {
		called = true
		return nil
	}

	q := NewQueue(Config{BaseInterval: time.Hour}, reexec, nil, nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, EnqueueRequest{TaskID: "task-1", Policy: domain.RetryLinear})
	_, _ = q.Enqueue(ctx, EnqueueRequest{TaskID: "task-2", Policy: domain.RetryNever})

	p := NewProcessor(q, ProcessorConfig{CheckInterval: 10 * time.Millisecond})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	_ = p.Stop(ctx)

	if called {
		t.Error("tasks scheduled in the future or never must not run")
	}
	if q.Size() != 2 {
		t.Errorf("expected both tasks still queued, got %d", q.Size())
	}
}

func TestProcessor_FailuresKeepTaskQueued(t *testing.T) {
	q := NewQueue(Config{DefaultMaxRetries: 2}, failReexec, nil, nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, EnqueueRequest{TaskID: "task-1", Policy: domain.RetryImmediate})

	p := NewProcessor(q, ProcessorConfig{CheckInterval: 10 * time.Millisecond})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	waitFor(t, 2*time.Second, func() bool {
		task, err := q.Get("task-1")
		return err == nil && task.Status == domain.TaskStatusExhausted
	})

	task, _ := q.Get("task-1")
	if task.RetryCount != 2 {
		t.Errorf("expected retry count at max, got %d", task.RetryCount)
	}
}

func TestProcessor_StopDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	reexec := func(ctx context.Context, payload json.RawMessage, scopes []string) error {
		close(started)
		<-release
		close(finished)
		return nil
	}

	q := NewQueue(Config{}, reexec, nil, nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, EnqueueRequest{TaskID: "task-1", Policy: domain.RetryImmediate})

	p := NewProcessor(q, ProcessorConfig{CheckInterval: 10 * time.Millisecond})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	stopDone := make(chan error, 1)
	go func() { stopDone <- p.Stop(context.Background()) }()

	// Stop must block on the in-flight attempt.
	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight attempt finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Error("in-flight attempt should have completed")
	}

	// The attempt ran detached from the loop context, so the result landed.
	if q.Size() != 0 {
		t.Error("completed retry should have removed the task")
	}
}

func TestProcessor_StopTimeoutSurfaces(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	reexec := func(ctx context.Context, payload json.RawMessage, scopes []string) error {
		close(started)
		<-release
		return nil
	}

	q := NewQueue(Config{}, reexec, nil, nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, EnqueueRequest{TaskID: "task-1", Policy: domain.RetryImmediate})

	p := NewProcessor(q, ProcessorConfig{CheckInterval: 10 * time.Millisecond})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Stop(stopCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded from bounded drain, got %v", err)
	}
	close(release)
}
