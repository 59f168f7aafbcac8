package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/reviewloop/internal/pkg/logger"
)

// TaskCleanup is the cleanup task's name.
const TaskCleanup = "cleanup"

const (
	// DefaultCleanupInterval is the minimum time between cleanup passes.
	DefaultCleanupInterval = time.Hour

	// DefaultRetention is how long finished retry items are kept.
	DefaultRetention = 30 * 24 * time.Hour

	// cleanupBatchSize limits each DELETE to keep transactions short.
	cleanupBatchSize = 1000

	// cleanupMaxBatches bounds one pass; the rest waits for the next.
	cleanupMaxBatches = 50
)

// RetryPurger deletes finished retry items.
type RetryPurger interface {
	PurgeFinishedRetries(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Cleanup removes succeeded and failed retry items past the retention
// window. Send logs are kept: they carry the delivery history. The loop
// ticks more often than cleanup needs, so passes inside the interval are
// no-ops.
type Cleanup struct {
	mu        sync.Mutex
	purger    RetryPurger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	lastRun   time.Time
	pause     time.Duration
}

// NewCleanup creates the cleanup task.
func NewCleanup(p RetryPurger, retention time.Duration) *Cleanup {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Cleanup{
		purger:    p,
		retention: retention,
		interval:  DefaultCleanupInterval,
		now:       time.Now,
		pause:     100 * time.Millisecond,
	}
}

// Name implements Task.
func (c *Cleanup) Name() string { return TaskCleanup }

// RunOnce implements Task.
func (c *Cleanup) RunOnce(ctx context.Context) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.lastRun.IsZero() && now.Sub(c.lastRun) < c.interval {
		return Summary{Task: TaskCleanup}
	}
	return c.purge(ctx, now)
}

func (c *Cleanup) purge(ctx context.Context, now time.Time) Summary {
	start := time.Now()
	c.lastRun = now
	cutoff := now.Add(-c.retention)
	sum := Summary{Task: TaskCleanup}

	var total int64
	for i := 0; i < cleanupMaxBatches; i++ {
		if ctx.Err() != nil {
			break
		}
		qctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		n, err := c.purger.PurgeFinishedRetries(qctx, cutoff, cleanupBatchSize)
		cancel()
		if err != nil {
			logger.Error("cleanup failed", "component", "worker", "task", TaskCleanup, "error", err)
			sum.Error = err.Error()
			break
		}
		total += n
		if n < cleanupBatchSize {
			break
		}
		if c.pause > 0 {
			time.Sleep(c.pause)
		}
	}

	if total > 0 {
		logger.Info("purged finished retry items", "component", "worker", "task", TaskCleanup,
			"count", total, "older_than", cutoff.Format(time.RFC3339))
	}
	sum.Claimed = int(total)
	sum.Succeeded = int(total)
	sum.Duration = time.Since(start)
	sum.DurationMS = sum.Duration.Milliseconds()
	return sum
}
