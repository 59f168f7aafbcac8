package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/reviewloop/internal/pkg/distlock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intQueue(items []int, recovered *int32) QueueFuncs[int] {
	return QueueFuncs[int]{
		RecoverFn: func(context.Context, time.Duration) (int64, error) {
			atomic.AddInt32(recovered, 1)
			return 0, nil
		},
		ClaimFn: func(_ context.Context, limit int) ([]int, error) {
			if len(items) > limit {
				return items[:limit], nil
			}
			return items, nil
		},
	}
}

func TestBatch_ItemFailuresDoNotAffectSiblings(t *testing.T) {
	var recovered int32
	var processed int32
	b := NewBatch[int]("test", intQueue([]int{1, 2, 3, 4, 5}, &recovered), func(_ context.Context, n int) error {
		atomic.AddInt32(&processed, 1)
		switch n {
		case 2:
			return errors.New("boom")
		case 3:
			panic("bad item")
		}
		return nil
	}, BatchConfig{Concurrency: 2})

	sum := b.RunOnce(context.Background())
	assert.Equal(t, "test", sum.Task)
	assert.Equal(t, 5, sum.Claimed)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, int32(5), processed)
	assert.Equal(t, int32(1), recovered)
	assert.Empty(t, sum.Error)
}

func TestBatch_RespectsBatchSize(t *testing.T) {
	var recovered int32
	b := NewBatch[int]("test", intQueue([]int{1, 2, 3, 4, 5}, &recovered), func(context.Context, int) error { return nil }, BatchConfig{BatchSize: 2})
	assert.Equal(t, 2, b.RunOnce(context.Background()).Claimed)
}

func TestBatch_ClaimErrorIsReported(t *testing.T) {
	q := QueueFuncs[int]{
		RecoverFn: func(context.Context, time.Duration) (int64, error) { return 0, nil },
		ClaimFn:   func(context.Context, int) ([]int, error) { return nil, errors.New("db down") },
	}
	sum := NewBatch[int]("test", q, func(context.Context, int) error { return nil }, BatchConfig{}).RunOnce(context.Background())
	assert.Equal(t, "claim failed", sum.Error)
	assert.Equal(t, 0, sum.Claimed)
}

func TestBatch_RecoveryLockHeldElsewhereSkipsSweep(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locks := distlock.NewFactory(client, nil, time.Minute)

	other := locks("recover:test")
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	var recovered int32
	b := NewBatch[int]("test", intQueue(nil, &recovered), func(context.Context, int) error { return nil }, BatchConfig{}).WithRecoveryLock(locks)
	b.RunOnce(context.Background())
	assert.Equal(t, int32(0), recovered)

	require.NoError(t, other.Release(context.Background()))
	b.RunOnce(context.Background())
	assert.Equal(t, int32(1), recovered)
}

type countingTask struct{ runs int32 }

func (c *countingTask) Name() string { return "count" }

func (c *countingTask) RunOnce(context.Context) Summary {
	atomic.AddInt32(&c.runs, 1)
	return Summary{Task: "count"}
}

func TestLoop_RunsImmediatelyAndOnTick(t *testing.T) {
	task := &countingTask{}
	loop := NewLoop(10*time.Millisecond, task)
	passes := make(chan Summary, 16)
	loop.OnPass(func(s Summary) {
		select {
		case passes <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Start(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case s := <-passes:
			assert.Equal(t, "count", s.Task)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not run")
		}
	}
	cancel()
	<-done
	assert.GreaterOrEqual(t, atomic.LoadInt32(&task.runs), int32(2))
}
