package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// Retention bounds how long mirrored records outlive the process; the
// in-memory queue is authoritative, so stale mirror entries are only an
// audit-trail concern.
const mirrorRetention = 7 * 24 * time.Hour

// TaskMirror implements storage.TaskMirror using Redis: a sorted set indexes
// task ids by failure time, individual records live as JSON blobs.
type TaskMirror struct {
	rdb *redis.Client
}

// NewTaskMirror creates a Redis-backed task mirror.
func NewTaskMirror(client *Client) *TaskMirror {
	return &TaskMirror{rdb: client.rdb}
}

func (m *TaskMirror) indexKey() string {
	return "dlq:tasks"
}

func (m *TaskMirror) taskKey(id string) string {
	return fmt.Sprintf("dlq:task:%s", id)
}

// Save upserts the record and its index entry.
func (m *TaskMirror) Save(ctx context.Context, task *domain.FailedTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := m.rdb.Set(ctx, m.taskKey(task.TaskID), data, mirrorRetention).Err(); err != nil {
		return fmt.Errorf("failed to set task: %w", err)
	}

	if err := m.rdb.ZAdd(ctx, m.indexKey(), redis.Z{
		Score:  float64(task.FailedAt.Unix()),
		Member: task.TaskID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index task: %w", err)
	}

	return nil
}

// Delete removes the record and its index entry.
func (m *TaskMirror) Delete(ctx context.Context, taskID string) error {
	if err := m.rdb.ZRem(ctx, m.indexKey(), taskID).Err(); err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	if err := m.rdb.Del(ctx, m.taskKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Clear removes all mirrored records.
func (m *TaskMirror) Clear(ctx context.Context) error {
	ids, err := m.rdb.ZRange(ctx, m.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange failed: %w", err)
	}

	for _, id := range ids {
		if err := m.rdb.Del(ctx, m.taskKey(id)).Err(); err != nil {
			return fmt.Errorf("failed to delete task %s: %w", id, err)
		}
	}

	if err := m.rdb.Del(ctx, m.indexKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client owns the connection.
func (m *TaskMirror) Close() error {
	return nil
}

// List returns mirrored records ordered by failure time, for audit tooling.
func (m *TaskMirror) List(ctx context.Context) ([]*domain.FailedTask, error) {
	ids, err := m.rdb.ZRange(ctx, m.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	tasks := make([]*domain.FailedTask, 0, len(ids))
	for _, id := range ids {
		data, err := m.rdb.Get(ctx, m.taskKey(id)).Bytes()
		if err == redis.Nil {
			// Blob expired but id still indexed; drop the index entry.
			m.rdb.ZRem(ctx, m.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get task: %w", err)
		}

		var t domain.FailedTask
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}

	return tasks, nil
}
