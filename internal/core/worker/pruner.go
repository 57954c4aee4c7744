package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/sentinel/internal/dlq"
)

// Pruner deletes long-exhausted tasks based on retention policy.
type Pruner struct {
	retention time.Duration
	queue     *dlq.Queue
}

// NewPruner creates a new Pruner worker. A retention of zero disables it.
func NewPruner(retention time.Duration, queue *dlq.Queue) *Pruner {
	return &Pruner{
		retention: retention,
		queue:     queue,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Calculate check interval (e.g., 10% of retention period, but max 1 hour)
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	cutoff := time.Now().Add(-p.retention)
	if n := p.queue.PruneExhausted(cutoff); n > 0 {
		slog.Info("Pruned exhausted tasks", "count", n, "cutoff", cutoff)
	}
}
