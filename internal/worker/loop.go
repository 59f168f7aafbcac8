package worker

import (
	"context"
	"log"
	"time"
)

// DefaultInterval is the default time between passes.
const DefaultInterval = time.Minute

// Loop runs tasks on a fixed interval in-process. Deployments that prefer an
// external scheduler call the task trigger endpoint instead; both paths run
// the same RunOnce.
type Loop struct {
	interval time.Duration
	tasks    []Task
	onPass   func(Summary)
}

// NewLoop creates a loop over tasks.
func NewLoop(interval time.Duration, tasks ...Task) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{interval: interval, tasks: tasks}
}

// OnPass registers a callback for each task summary. Used by tests.
func (l *Loop) OnPass(fn func(Summary)) { l.onPass = fn }

// Start runs one pass immediately and then on every tick. It blocks until
// ctx is cancelled; an in-flight pass finishes before it returns.
func (l *Loop) Start(ctx context.Context) {
	log.Printf("[Worker] Starting %d tasks (interval=%s)", len(l.tasks), l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Worker] Stopping")
			return
		case <-ticker.C:
			l.pass(ctx)
		}
	}
}

func (l *Loop) pass(ctx context.Context) {
	for _, t := range l.tasks {
		if ctx.Err() != nil {
			return
		}
		sum := t.RunOnce(ctx)
		if sum.Claimed > 0 || sum.Recovered > 0 || sum.Error != "" {
			log.Printf("[Worker] %s: claimed=%d succeeded=%d failed=%d recovered=%d took=%s",
				sum.Task, sum.Claimed, sum.Succeeded, sum.Failed, sum.Recovered, sum.Duration)
		}
		if l.onPass != nil {
			l.onPass(sum)
		}
	}
}
