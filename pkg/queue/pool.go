package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// queueBacklogFactor sizes the submission buffer relative to the worker
// count. Submissions beyond buffer + in-flight capacity are rejected with
// ErrQueueFull — the edge turns that into backpressure.
const queueBacklogFactor = 4

// WorkerPool runs accepted sessions on MaxConcurrentAlerts workers. Within
// a session, stages are strictly sequential (the executor guarantees it);
// across sessions, the pool is the only source of parallelism.
type WorkerPool struct {
	cfg      *config.QueueConfig
	executor SessionExecutor

	queue    chan *models.AlertSession
	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup

	// Cancel registry for API-triggered cancellation: session_id → cancel.
	mu      sync.RWMutex
	active  map[string]context.CancelFunc
	started bool
}

// NewWorkerPool creates the pool.
func NewWorkerPool(cfg *config.QueueConfig, executor SessionExecutor) *WorkerPool {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	if executor == nil {
		panic("queue.NewWorkerPool: executor must not be nil")
	}
	workers := cfg.MaxConcurrentAlerts
	if workers < 1 {
		workers = config.DefaultMaxConcurrentAlerts
	}
	return &WorkerPool{
		cfg:      cfg,
		executor: executor,
		queue:    make(chan *models.AlertSession, workers*queueBacklogFactor),
		stopped:  make(chan struct{}),
		active:   make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call once; later calls are
// no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true
	p.mu.Unlock()

	workers := p.cfg.MaxConcurrentAlerts
	if workers < 1 {
		workers = config.DefaultMaxConcurrentAlerts
	}

	slog.Info("Starting worker pool", "workers", workers)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Enqueue hands an accepted session to the pool. Returns ErrQueueFull when
// the bounded queue is at capacity and ErrPoolStopped after shutdown began.
func (p *WorkerPool) Enqueue(session *models.AlertSession) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}

	select {
	case p.queue <- session:
		return nil
	default:
		return ErrQueueFull
	}
}

// CancelSession cancels an in-flight session. Returns true when the session
// was active on this pool.
func (p *WorkerPool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.active[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's current state.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.RLock()
	activeCount := len(p.active)
	p.mu.RUnlock()

	stopped := false
	select {
	case <-p.stopped:
		stopped = true
	default:
	}

	return PoolHealth{
		ActiveSessions: activeCount,
		MaxConcurrent:  p.cfg.MaxConcurrentAlerts,
		QueueDepth:     len(p.queue),
		QueueCapacity:  cap(p.queue),
		Stopped:        stopped,
	}
}

// Stop refuses new submissions, lets in-flight sessions finish within the
// graceful shutdown timeout, then cancels whatever remains.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		close(p.queue)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		timeout := p.cfg.GracefulShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-done:
		case <-time.After(timeout):
			slog.Warn("Graceful shutdown timeout reached, cancelling in-flight sessions")
			p.mu.RLock()
			for _, cancel := range p.active {
				cancel()
			}
			p.mu.RUnlock()
			<-done
		}
		slog.Info("Worker pool stopped")
	})
}

func (p *WorkerPool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	log := slog.With("worker", workerID)

	for session := range p.queue {
		if ctx.Err() != nil {
			log.Info("Context cancelled, worker exiting")
			return
		}

		sessionCtx, cancel := context.WithCancel(ctx)
		p.register(session.SessionID, cancel)

		log.Info("Processing session", "session_id", session.SessionID)
		p.executor.ProcessSession(sessionCtx, session)

		p.unregister(session.SessionID)
		cancel()
	}
}

func (p *WorkerPool) register(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[sessionID] = cancel
}

func (p *WorkerPool) unregister(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, sessionID)
}
