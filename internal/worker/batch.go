package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/reviewloop/internal/pkg/distlock"
	"github.com/ignite/reviewloop/internal/pkg/logger"
)

// Defaults for claim batches.
const (
	DefaultBatchSize   = 50
	DefaultConcurrency = 4
	DefaultStaleAfter  = 10 * time.Minute
)

// Summary reports one pass of a task.
type Summary struct {
	Task       string        `json:"task"`
	Recovered  int64         `json:"recovered"`
	Claimed    int           `json:"claimed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}

// Task is a unit of scheduled work, run by the loop or an HTTP trigger.
type Task interface {
	Name() string
	RunOnce(ctx context.Context) Summary
}

// Queue is a claimable work table. Claim must atomically move items to
// processing so overlapping callers never receive the same item.
type Queue[T any] interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
	Claim(ctx context.Context, limit int) ([]T, error)
}

// QueueFuncs adapts two functions to Queue.
type QueueFuncs[T any] struct {
	RecoverFn func(ctx context.Context, olderThan time.Duration) (int64, error)
	ClaimFn   func(ctx context.Context, limit int) ([]T, error)
}

// RecoverStale implements Queue.
func (q QueueFuncs[T]) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.RecoverFn(ctx, olderThan)
}

// Claim implements Queue.
func (q QueueFuncs[T]) Claim(ctx context.Context, limit int) ([]T, error) {
	return q.ClaimFn(ctx, limit)
}

// BatchConfig tunes a Batch.
type BatchConfig struct {
	BatchSize   int
	Concurrency int
	StaleAfter  time.Duration
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Batch runs recover → claim → process over a Queue. One item's failure
// never affects the others.
type Batch[T any] struct {
	name    string
	queue   Queue[T]
	process func(ctx context.Context, item T) error
	cfg     BatchConfig
	locks   distlock.Factory
}

// NewBatch creates a batch runner.
func NewBatch[T any](name string, queue Queue[T], process func(context.Context, T) error, cfg BatchConfig) *Batch[T] {
	return &Batch[T]{name: name, queue: queue, process: process, cfg: cfg.withDefaults()}
}

// WithRecoveryLock makes only one instance at a time run the stale sweep.
func (b *Batch[T]) WithRecoveryLock(f distlock.Factory) *Batch[T] {
	b.locks = f
	return b
}

// RunOnce performs a single pass.
func (b *Batch[T]) RunOnce(ctx context.Context) (sum Summary) {
	start := time.Now()
	sum.Task = b.name
	defer func() {
		sum.Duration = time.Since(start)
		sum.DurationMS = sum.Duration.Milliseconds()
	}()

	sum.Recovered = b.recoverStale(ctx)

	items, err := b.queue.Claim(ctx, b.cfg.BatchSize)
	if err != nil {
		logger.Error("claim failed", "task", b.name, "error", err)
		sum.Error = "claim failed"
		return sum
	}
	sum.Claimed = len(items)
	if len(items) == 0 {
		return sum
	}

	var succeeded, failed int64
	sem := make(chan struct{}, b.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := b.safeProcess(ctx, item); err != nil {
				atomic.AddInt64(&failed, 1)
				logger.Warn("item failed", "task", b.name, "error", err)
				return
			}
			atomic.AddInt64(&succeeded, 1)
		}(item)
	}
	wg.Wait()

	sum.Succeeded = int(succeeded)
	sum.Failed = int(failed)
	return sum
}

func (b *Batch[T]) safeProcess(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.process(ctx, item)
}

func (b *Batch[T]) recoverStale(ctx context.Context) int64 {
	if b.locks != nil {
		lock := b.locks("recover:" + b.name)
		ok, err := lock.Acquire(ctx)
		switch {
		case err != nil:
			// Recovery is idempotent; run it unguarded rather than skip it.
			logger.Warn("recovery lock unavailable", "task", b.name, "error", err)
		case !ok:
			return 0
		default:
			defer lock.Release(context.WithoutCancel(ctx))
		}
	}

	n, err := b.queue.RecoverStale(ctx, b.cfg.StaleAfter)
	if err != nil {
		logger.Error("stale recovery failed", "task", b.name, "error", err)
		return 0
	}
	if n > 0 {
		logger.Warn("recovered stale items", "task", b.name, "count", n, "older_than", b.cfg.StaleAfter)
	}
	return n
}
