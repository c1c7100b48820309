package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mettice/nodeai/pkg/ports"
	"go.uber.org/zap"
)

// ErrPoolStopped is returned by Submit once the pool is shutting down.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is a unit of work run on a pool worker. The context is cancelled when
// the pool shuts down.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of worker goroutines fed from a bounded queue.
type Pool struct {
	size    int
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	tasks   chan Task
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
	jobs    int64
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// WorkerInfo is the externally visible state of one worker.
type WorkerInfo struct {
	ID      string       `json:"id"`
	Status  WorkerStatus `json:"status"`
	LastJob time.Time    `json:"last_job"`
	Jobs    int64        `json:"jobs"`
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	queueSize int,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger,
		tasks:   make(chan Task, queueSize),
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size), zap.Int("queue_size", cap(p.tasks)))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit queues a task, blocking while the queue is full. It fails when ctx is
// done or the pool is shutting down.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}

	select {
	case p.tasks <- task:
		p.metrics.SetQueueDepth(len(p.tasks))
		return nil
	case <-p.stopped:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context is cancelled when the pool shuts down.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Health returns the pool's health monitor.
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// QueueDepth returns the number of queued tasks not yet picked up.
func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}

// Shutdown stops accepting tasks and waits for workers to drain in-flight work.
// Workers observe cancellation through the task context.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	p.once.Do(func() {
		close(p.stopped)
		p.cancel()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus, len(p.workers))
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// Workers returns a snapshot of every worker.
func (p *Pool) Workers() []WorkerInfo {
	out := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		out = append(out, WorkerInfo{ID: w.id, Status: w.status, LastJob: w.lastJob, Jobs: w.jobs})
		w.mu.RUnlock()
	}
	return out
}

func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.drain(ctx)
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case task := <-w.pool.tasks:
			w.execute(ctx, task)
		}
	}
}

// drain runs tasks still queued at shutdown so their owners observe the
// cancelled context instead of waiting forever.
func (w *worker) drain(ctx context.Context) {
	for {
		select {
		case task := <-w.pool.tasks:
			w.execute(ctx, task)
		default:
			return
		}
	}
}

func (w *worker) execute(ctx context.Context, task Task) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.jobs++
	w.mu.Unlock()
	w.pool.metrics.SetQueueDepth(len(w.pool.tasks))

	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("task panicked",
				zap.String("worker_id", w.id),
				zap.Any("panic", r))
		}
		w.setStatus(WorkerStatusIdle)
	}()

	task(ctx)
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}
