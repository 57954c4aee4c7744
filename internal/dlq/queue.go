// Package dlq implements the dead letter queue: a capacity-bounded store of
// failed tasks with per-task retry policies, plus the background processor
// that drains it. The in-memory state is authoritative; an optional
// storage.TaskMirror keeps a best-effort durable copy.
package dlq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage"
)

// ReexecuteFunc re-runs a dead-lettered task. It is supplied by the workflow
// executor layer and must tolerate being invoked more than once for the same
// logical task.
type ReexecuteFunc func(ctx context.Context, payload json.RawMessage, scopes []string) error

// Hook receives observability events from the queue. A nil hook disables
// emission. Implementations must be safe for concurrent use.
type Hook interface {
	TaskEnqueued(category string)
	TaskRetried(outcome string) // "success" or "failure"
	TaskExhausted()
	TaskArchived()
	QueueSize(n int)
}

// Config tunes the queue.
type Config struct {
	MaxSize           int                `yaml:"max_size"`
	DefaultPolicy     domain.RetryPolicy `yaml:"default_policy"`
	DefaultMaxRetries int                `yaml:"default_max_retries"`

	// BaseInterval is the linear policy's base delay.
	BaseInterval time.Duration `yaml:"base_interval"`

	// ExponentialCap bounds the exponential policy's delay.
	ExponentialCap time.Duration `yaml:"exponential_cap"`

	// EvictExhausted drops the oldest exhausted task to make room when the
	// queue is full instead of rejecting the enqueue.
	EvictExhausted bool `yaml:"evict_exhausted"`

	// RetentionPeriod bounds how long exhausted tasks are kept before the
	// pruner removes them. 0 = keep forever.
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxSize:           1000,
	DefaultPolicy:     domain.RetryExponential,
	DefaultMaxRetries: 3,
	BaseInterval:      5 * time.Minute,
	ExponentialCap:    60 * time.Minute,
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultConfig.MaxSize
	}
	if c.DefaultPolicy == "" {
		c.DefaultPolicy = DefaultConfig.DefaultPolicy
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = DefaultConfig.DefaultMaxRetries
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultConfig.BaseInterval
	}
	if c.ExponentialCap <= 0 {
		c.ExponentialCap = DefaultConfig.ExponentialCap
	}
	return c
}

// EnqueueRequest describes a failed unit of work to park in the queue.
// Zero Policy and MaxRetries take the queue defaults.
type EnqueueRequest struct {
	TaskID     string
	Payload    json.RawMessage
	Scopes     []string
	Err        error
	Category   domain.ErrorCategory
	Policy     domain.RetryPolicy
	MaxRetries int
	Metadata   map[string]string
}

// Statistics is a point-in-time snapshot plus lifetime counters.
type Statistics struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization_percent"`

	ByStatus   map[domain.TaskStatus]int    `json:"by_status"`
	ByCategory map[domain.ErrorCategory]int `json:"by_category"`
	ByPolicy   map[domain.RetryPolicy]int   `json:"by_policy"`

	EnqueuedTotal   uint64 `json:"enqueued_total"`
	RetrySuccess    uint64 `json:"retry_success"`
	RetryFailed     uint64 `json:"retry_failed"`
	Exhausted       uint64 `json:"exhausted"`
	ManuallyRetried uint64 `json:"manually_retried"`
	Archived        uint64 `json:"archived"`
}

// Queue is the dead letter queue. All mutation goes through its methods and
// is safe under concurrent invocation; the per-task in-flight set guarantees
// at most one re-execution attempt per task id across the manual and
// processor paths.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	tasks    map[string]*domain.FailedTask
	inflight map[string]struct{}

	reexec ReexecuteFunc
	mirror storage.TaskMirror
	hook   Hook
	log    *slog.Logger
	now    func() time.Time

	counters struct {
		enqueued        uint64
		retrySuccess    uint64
		retryFailed     uint64
		exhausted       uint64
		manuallyRetried uint64
		archived        uint64
	}
}

// NewQueue creates a queue. mirror and hook may be nil.
func NewQueue(cfg Config, reexec ReexecuteFunc, mirror storage.TaskMirror, hook Hook) *Queue {
	return &Queue{
		cfg:      cfg.withDefaults(),
		tasks:    make(map[string]*domain.FailedTask),
		inflight: make(map[string]struct{}),
		reexec:   reexec,
		mirror:   mirror,
		hook:     hook,
		log:      slog.Default(),
		now:      time.Now,
	}
}

// Enqueue parks a failed task. Re-enqueuing an existing task id updates the
// record in place (new error, status reset to pending) instead of
// duplicating it; cumulative total_attempts is kept. Returns
// domain.ErrQueueFull at capacity unless eviction is configured.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.FailedTask, error) {
	q.mu.Lock()

	now := q.now()
	errMsg := ""
	if req.Err != nil {
		errMsg = req.Err.Error()
	}

	if existing, ok := q.tasks[req.TaskID]; ok {
		existing.ErrorMessage = errMsg
		if req.Category != "" {
			existing.ErrorCategory = req.Category
		}
		existing.Status = domain.TaskStatusPending
		existing.UpdatedAt = now
		existing.NextRetryAt = nextRetryAt(q.cfg, existing.RetryPolicy, existing.RetryCount, now)
		q.counters.enqueued++
		out := existing.Clone()
		q.mu.Unlock()

		q.emitEnqueued(out)
		q.mirrorSave(out)
		return out, nil
	}

	evicted := ""
	if len(q.tasks) >= q.cfg.MaxSize {
		if q.cfg.EvictExhausted {
			evicted = q.oldestExhaustedLocked()
		}
		if evicted == "" {
			q.mu.Unlock()
			return nil, domain.ErrQueueFull
		}
		delete(q.tasks, evicted)
		q.counters.archived++
	}

	policy := req.Policy
	if policy == "" {
		policy = q.cfg.DefaultPolicy
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.DefaultMaxRetries
	}

	task := &domain.FailedTask{
		TaskID:        req.TaskID,
		Payload:       append(json.RawMessage(nil), req.Payload...),
		Scopes:        append([]string(nil), req.Scopes...),
		ErrorMessage:  errMsg,
		ErrorCategory: req.Category,
		RetryPolicy:   policy,
		MaxRetries:    maxRetries,
		NextRetryAt:   nextRetryAt(q.cfg, policy, 0, now),
		Status:        domain.TaskStatusPending,
		Metadata:      req.Metadata,
		FailedAt:      now,
		UpdatedAt:     now,
	}
	q.tasks[req.TaskID] = task
	q.counters.enqueued++
	out := task.Clone()
	q.mu.Unlock()

	if evicted != "" {
		q.log.Info("evicted exhausted task to make room", "task_id", evicted)
		if q.hook != nil {
			q.hook.TaskArchived()
		}
		q.mirrorDelete(evicted)
	}
	q.emitEnqueued(out)
	q.mirrorSave(out)
	return out, nil
}

// Get returns a copy of the task, or domain.ErrTaskNotFound.
func (q *Queue) Get(taskID string) (*domain.FailedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// List returns tasks ordered by failed_at ascending (oldest first, ties
// broken by task id). An empty status matches every status; limit <= 0
// means no limit.
func (q *Queue) List(status domain.TaskStatus, limit int) []*domain.FailedTask {
	q.mu.Lock()
	out := make([]*domain.FailedTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Clone())
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].FailedAt.Before(out[j].FailedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RetryTask synchronously re-executes a task, ignoring next_retry_at. On
// success the task is removed; on failure the retry counters advance and the
// task transitions per its policy. Returns the re-execution error, if any.
func (q *Queue) RetryTask(ctx context.Context, taskID string) error {
	payload, scopes, err := q.beginRetry(taskID)
	if err != nil {
		return err
	}

	// Count only claimed attempts, not rejected requests.
	q.mu.Lock()
	q.counters.manuallyRetried++
	q.mu.Unlock()

	execErr := q.reexec(ctx, payload, scopes)
	q.finishRetry(taskID, execErr)
	return execErr
}

// retry is the shared re-execution path for manual retries and the processor.
func (q *Queue) retry(ctx context.Context, taskID string) error {
	payload, scopes, err := q.beginRetry(taskID)
	if err != nil {
		return err
	}

	execErr := q.reexec(ctx, payload, scopes)
	q.finishRetry(taskID, execErr)
	return execErr
}

// beginRetry claims the task for a single in-flight attempt.
func (q *Queue) beginRetry(taskID string) (json.RawMessage, []string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return nil, nil, domain.ErrTaskNotFound
	}
	if _, busy := q.inflight[taskID]; busy {
		return nil, nil, domain.ErrTaskInFlight
	}
	q.inflight[taskID] = struct{}{}
	t.Status = domain.TaskStatusRetrying
	t.UpdatedAt = q.now()
	return append(json.RawMessage(nil), t.Payload...), append([]string(nil), t.Scopes...), nil
}

func (q *Queue) finishRetry(taskID string, execErr error) {
	q.mu.Lock()
	delete(q.inflight, taskID)

	t, ok := q.tasks[taskID]
	if !ok {
		// Archived while the attempt was in flight; only count the outcome.
		if execErr == nil {
			q.counters.retrySuccess++
		} else {
			q.counters.retryFailed++
		}
		q.mu.Unlock()
		return
	}

	now := q.now()
	t.TotalAttempts++
	t.UpdatedAt = now

	if execErr == nil {
		delete(q.tasks, taskID)
		q.counters.retrySuccess++
		size := len(q.tasks)
		q.mu.Unlock()

		if q.hook != nil {
			q.hook.TaskRetried("success")
			q.hook.QueueSize(size)
		}
		q.mirrorDelete(taskID)
		return
	}

	q.counters.retryFailed++
	t.ErrorMessage = execErr.Error()
	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
	}
	becameExhausted := false
	if t.RetryCount >= t.MaxRetries {
		if t.Status != domain.TaskStatusExhausted {
			becameExhausted = true
			q.counters.exhausted++
		}
		t.Status = domain.TaskStatusExhausted
		t.NextRetryAt = nil
	} else {
		t.Status = domain.TaskStatusPending
		t.NextRetryAt = nextRetryAt(q.cfg, t.RetryPolicy, t.RetryCount, now)
	}
	out := t.Clone()
	q.mu.Unlock()

	if q.hook != nil {
		q.hook.TaskRetried("failure")
		if becameExhausted {
			q.hook.TaskExhausted()
		}
	}
	q.mirrorSave(out)
}

// ArchiveTask removes a task from active storage regardless of its state.
func (q *Queue) ArchiveTask(taskID string) error {
	q.mu.Lock()
	if _, ok := q.tasks[taskID]; !ok {
		q.mu.Unlock()
		return domain.ErrTaskNotFound
	}
	delete(q.tasks, taskID)
	q.counters.archived++
	size := len(q.tasks)
	q.mu.Unlock()

	if q.hook != nil {
		q.hook.TaskArchived()
		q.hook.QueueSize(size)
	}
	q.mirrorDelete(taskID)
	return nil
}

// PruneExhausted removes exhausted tasks last updated before cutoff and
// returns the count removed. In-flight tasks are never pruned.
func (q *Queue) PruneExhausted(cutoff time.Time) int {
	q.mu.Lock()
	var removed []string
	for id, t := range q.tasks {
		if _, busy := q.inflight[id]; busy {
			continue
		}
		if t.Status == domain.TaskStatusExhausted && t.UpdatedAt.Before(cutoff) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(q.tasks, id)
		q.counters.archived++
	}
	size := len(q.tasks)
	q.mu.Unlock()

	for _, id := range removed {
		if q.hook != nil {
			q.hook.TaskArchived()
		}
		q.mirrorDelete(id)
	}
	if len(removed) > 0 && q.hook != nil {
		q.hook.QueueSize(size)
	}
	return len(removed)
}

// ClearAll removes every task and returns the count removed. Maintenance
// only; lifetime counters are kept.
func (q *Queue) ClearAll() int {
	q.mu.Lock()
	n := len(q.tasks)
	q.tasks = make(map[string]*domain.FailedTask)
	q.mu.Unlock()

	if q.hook != nil {
		q.hook.QueueSize(0)
	}
	if q.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.mirror.Clear(ctx); err != nil {
			q.log.Warn("task mirror clear failed", "error", err)
		}
	}
	return n
}

// Size returns the number of active tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Statistics returns a snapshot of queue state and lifetime counters.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Statistics{
		Size:            len(q.tasks),
		Capacity:        q.cfg.MaxSize,
		ByStatus:        make(map[domain.TaskStatus]int),
		ByCategory:      make(map[domain.ErrorCategory]int),
		ByPolicy:        make(map[domain.RetryPolicy]int),
		EnqueuedTotal:   q.counters.enqueued,
		RetrySuccess:    q.counters.retrySuccess,
		RetryFailed:     q.counters.retryFailed,
		Exhausted:       q.counters.exhausted,
		ManuallyRetried: q.counters.manuallyRetried,
		Archived:        q.counters.archived,
	}
	s.Utilization = float64(s.Size) / float64(s.Capacity) * 100
	for _, t := range q.tasks {
		s.ByStatus[t.Status]++
		s.ByCategory[t.ErrorCategory]++
		s.ByPolicy[t.RetryPolicy]++
	}
	return s
}

// due returns ids eligible for automatic reprocessing: pending or retrying,
// not in flight, policy not never, and past next_retry_at (immediate tasks
// are always eligible).
func (q *Queue) due(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	type cand struct {
		id       string
		failedAt time.Time
	}
	cands := make([]cand, 0)
	for id, t := range q.tasks {
		if _, busy := q.inflight[id]; busy {
			continue
		}
		if t.Status != domain.TaskStatusPending && t.Status != domain.TaskStatusRetrying {
			continue
		}
		if t.RetryPolicy == domain.RetryNever {
			continue
		}
		if t.RetryPolicy == domain.RetryImmediate ||
			(t.NextRetryAt != nil && !t.NextRetryAt.After(now)) {
			cands = append(cands, cand{id, t.FailedAt})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].failedAt.Equal(cands[j].failedAt) {
			return cands[i].id < cands[j].id
		}
		return cands[i].failedAt.Before(cands[j].failedAt)
	})
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}

// oldestExhaustedLocked returns the id of the oldest exhausted task, or "".
func (q *Queue) oldestExhaustedLocked() string {
	oldest := ""
	var oldestAt time.Time
	for id, t := range q.tasks {
		if t.Status != domain.TaskStatusExhausted {
			continue
		}
		if oldest == "" || t.FailedAt.Before(oldestAt) {
			oldest = id
			oldestAt = t.FailedAt
		}
	}
	return oldest
}

func (q *Queue) emitEnqueued(t *domain.FailedTask) {
	if q.hook != nil {
		q.hook.TaskEnqueued(string(t.ErrorCategory))
		q.hook.QueueSize(q.Size())
	}
}

// mirrorSave writes to the durable mirror with a short bounded retry. The
// mirror is best-effort: on failure the queue degrades to in-memory only.
func (q *Queue) mirrorSave(t *domain.FailedTask) {
	if q.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := q.mirror.Save(ctx, t); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		q.log.Warn("task mirror unavailable, continuing in-memory only",
			"task_id", t.TaskID, "error", err)
	}
}

func (q *Queue) mirrorDelete(taskID string) {
	if q.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := q.mirror.Delete(ctx, taskID); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		q.log.Warn("task mirror delete failed", "task_id", taskID, "error", err)
	}
}

// nextRetryAt computes the next automatic retry time after the given number
// of completed retries, per the task's policy.
func nextRetryAt(cfg Config, policy domain.RetryPolicy, retryCount int, now time.Time) *time.Time {
	var delay time.Duration
	switch policy {
	case domain.RetryNever:
		return nil
	case domain.RetryImmediate:
		delay = 0
	case domain.RetryLinear:
		delay = cfg.BaseInterval * time.Duration(retryCount+1)
	default: // exponential
		if retryCount > 30 {
			delay = cfg.ExponentialCap
		} else {
			delay = time.Duration(1<<uint(retryCount)) * time.Minute
			if delay > cfg.ExponentialCap {
				delay = cfg.ExponentialCap
			}
		}
	}
	at := now.Add(delay)
	return &at
}
