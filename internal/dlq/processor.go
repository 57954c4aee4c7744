package dlq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// ProcessorConfig tunes the background retry loop.
type ProcessorConfig struct {
	// CheckInterval is the polling interval. Default 60s.
	CheckInterval time.Duration `yaml:"check_interval"`

	// Concurrency bounds how many eligible tasks one tick re-executes in
	// parallel. Default 4.
	Concurrency int `yaml:"concurrency"`
}

// Processor is the background loop that drains the queue: each tick it
// selects tasks whose next retry time has elapsed and re-executes them with
// bounded concurrency. The queue's in-flight set guarantees a task id is
// never re-executed twice at once, even against concurrent manual retries.
type Processor struct {
	queue    *Queue
	interval time.Duration
	workers  int
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewProcessor creates a stopped processor.
func NewProcessor(queue *Queue, cfg ProcessorConfig) *Processor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Processor{
		queue:    queue,
		interval: cfg.CheckInterval,
		workers:  cfg.Concurrency,
		log:      slog.Default(),
	}
}

// Start launches the loop. Returns domain.ErrProcessorRunning if already
// started.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return domain.ErrProcessorRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx)
	p.log.Info("retry processor started", "interval", p.interval, "concurrency", p.workers)
	return nil
}

// Stop halts the loop and waits for in-flight re-executions to drain, up to
// ctx's deadline. Stopping a stopped processor is a no-op.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		p.log.Info("retry processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick re-executes every currently eligible task. A failure on one task is
// logged and never aborts the rest of the tick.
func (p *Processor) tick(ctx context.Context) {
	ids := p.queue.due(time.Now())
	if len(ids) == 0 {
		return
	}
	p.log.Debug("processing due tasks", "count", len(ids))

	sem := make(chan struct{}, p.workers)
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		p.wg.Add(1)
		go func(taskID string) {
			defer p.wg.Done()
			defer func() { <-sem }()

			// Detached from the loop context so a graceful Stop lets the
			// attempt finish instead of cancelling it mid-flight.
			err := p.queue.retry(context.WithoutCancel(ctx), taskID)
			switch {
			case err == nil:
				p.log.Info("task retry succeeded", "task_id", taskID)
			case errors.Is(err, domain.ErrTaskNotFound),
				errors.Is(err, domain.ErrTaskInFlight):
				// Removed or claimed by a manual retry between selection
				// and execution; nothing to do.
			default:
				p.log.Warn("task retry failed", "task_id", taskID, "error", err)
			}
		}(id)
	}
}
