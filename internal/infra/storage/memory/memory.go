// Package memory provides an in-process TaskMirror, used when no durable
// backend is configured and as a test double.
package memory

import (
	"context"
	"sync"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// TaskMirror keeps mirrored records in a map.
type TaskMirror struct {
	mu    sync.RWMutex
	tasks map[string]*domain.FailedTask
}

// NewTaskMirror creates an empty in-memory mirror.
func NewTaskMirror() *TaskMirror {
	return &TaskMirror{tasks: make(map[string]*domain.FailedTask)}
}

func (m *TaskMirror) Save(ctx context.Context, task *domain.FailedTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.TaskID] = task.Clone()
	return nil
}

func (m *TaskMirror) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *TaskMirror) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make(map[string]*domain.FailedTask)
	return nil
}

func (m *TaskMirror) Close() error {
	return nil
}

// Get returns the mirrored record for a task id, or nil.
func (m *TaskMirror) Get(taskID string) *domain.FailedTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tasks[taskID]; ok {
		return t.Clone()
	}
	return nil
}

// Len returns the number of mirrored records.
func (m *TaskMirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
