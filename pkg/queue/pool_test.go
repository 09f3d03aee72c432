package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// blockingExecutor tracks concurrency and blocks until released.
type blockingExecutor struct {
	mu        sync.Mutex
	inFlight  int
	peak      int
	processed atomic.Int64
	release   chan struct{}
	cancelled atomic.Int64
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{})}
}

func (e *blockingExecutor) ProcessSession(ctx context.Context, _ *models.AlertSession) {
	e.mu.Lock()
	e.inFlight++
	if e.inFlight > e.peak {
		e.peak = e.inFlight
	}
	e.mu.Unlock()

	select {
	case <-e.release:
	case <-ctx.Done():
		e.cancelled.Add(1)
	}

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	e.processed.Add(1)
}

func poolConfig(workers int) *config.QueueConfig {
	return &config.QueueConfig{
		MaxConcurrentAlerts:     workers,
		GracefulShutdownTimeout: 2 * time.Second,
	}
}

func session(id string) *models.AlertSession {
	return &models.AlertSession{SessionID: id}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	executor := newBlockingExecutor()
	pool := NewWorkerPool(poolConfig(2), executor)
	pool.Start(context.Background())

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Enqueue(session(string(rune('a'+i)))))
	}

	// Give workers time to pick up work; no more than 2 run at once.
	time.Sleep(50 * time.Millisecond)
	executor.mu.Lock()
	peak := executor.peak
	executor.mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 2, peak)

	close(executor.release)
	pool.Stop()
	assert.Equal(t, int64(6), executor.processed.Load())
}

func TestPoolBackpressure(t *testing.T) {
	executor := newBlockingExecutor()
	pool := NewWorkerPool(poolConfig(1), executor)
	pool.Start(context.Background())

	// Fill in-flight capacity plus the bounded backlog.
	overflowed := false
	for i := 0; i < 50; i++ {
		if err := pool.Enqueue(session(string(rune('a' + i)))); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			overflowed = true
			break
		}
	}
	assert.True(t, overflowed, "expected the bounded queue to reject eventually")

	close(executor.release)
	pool.Stop()
}

func TestPoolCancelSession(t *testing.T) {
	executor := newBlockingExecutor()
	pool := NewWorkerPool(poolConfig(1), executor)
	pool.Start(context.Background())

	require.NoError(t, pool.Enqueue(session("target")))

	// Wait until the session is registered as active.
	require.Eventually(t, func() bool {
		return pool.CancelSession("target")
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return executor.cancelled.Load() == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, pool.CancelSession("unknown"))
	pool.Stop()
}

func TestPoolEnqueueAfterStop(t *testing.T) {
	executor := newBlockingExecutor()
	close(executor.release)
	pool := NewWorkerPool(poolConfig(1), executor)
	pool.Start(context.Background())
	pool.Stop()

	err := pool.Enqueue(session("late"))
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolHealth(t *testing.T) {
	executor := newBlockingExecutor()
	pool := NewWorkerPool(poolConfig(2), executor)
	pool.Start(context.Background())

	require.NoError(t, pool.Enqueue(session("one")))
	require.Eventually(t, func() bool {
		return pool.Health().ActiveSessions == 1
	}, time.Second, 5*time.Millisecond)

	health := pool.Health()
	assert.Equal(t, 2, health.MaxConcurrent)
	assert.False(t, health.Stopped)

	close(executor.release)
	pool.Stop()
	assert.True(t, pool.Health().Stopped)
}
