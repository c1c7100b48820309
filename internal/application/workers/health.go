package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is one sample of the pool's worker and queue state.
type HealthStatus struct {
	TotalWorkers   int       `json:"total_workers"`
	IdleWorkers    int       `json:"idle_workers"`
	BusyWorkers    int       `json:"busy_workers"`
	StoppedWorkers int       `json:"stopped_workers"`
	QueueDepth     int       `json:"queue_depth"`
	QueueCapacity  int       `json:"queue_capacity"`
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`
}

// Saturated reports whether every worker is busy while tasks wait in the queue.
func (s *HealthStatus) Saturated() bool {
	return s.TotalWorkers > 0 && s.BusyWorkers == s.TotalWorkers && s.QueueDepth > 0
}

// HealthMonitor samples the pool on an interval, publishes the sample to
// metrics and listeners, and logs when pool health flips.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	listeners   []func(*HealthStatus)
	last        *HealthStatus
	startOnce   sync.Once
	stopOnce    sync.Once
	done        chan struct{}
	wasHealthy  bool
	wasSaturate bool
}

// NewHealthMonitor creates a monitor for pool. A non-positive interval
// defaults to 30s.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		pool:       pool,
		interval:   interval,
		logger:     logger,
		done:       make(chan struct{}),
		wasHealthy: true,
	}
}

// OnCheck registers fn to be called with every periodic sample.
func (h *HealthMonitor) OnCheck(fn func(*HealthStatus)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Start launches the sampling loop. Calling it again is a no-op.
func (h *HealthMonitor) Start() {
	h.startOnce.Do(func() {
		go h.loop()
	})
}

// Stop ends the sampling loop. Calling it again is a no-op.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *HealthMonitor) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

func (h *HealthMonitor) sample() {
	status := h.GetStatus()

	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)
	h.pool.metrics.SetQueueDepth(status.QueueDepth)

	h.mu.Lock()
	h.last = status
	healthFlipped := status.Healthy != h.wasHealthy
	saturationStarted := status.Saturated() && !h.wasSaturate
	h.wasHealthy = status.Healthy
	h.wasSaturate = status.Saturated()
	listeners := append([]func(*HealthStatus){}, h.listeners...)
	h.mu.Unlock()

	switch {
	case healthFlipped && !status.Healthy:
		h.logger.Warn("worker pool became unhealthy",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	case healthFlipped:
		h.logger.Info("worker pool recovered", zap.Int("total", status.TotalWorkers))
	}
	if saturationStarted {
		h.logger.Warn("worker pool saturated",
			zap.Int("total", status.TotalWorkers),
			zap.Int("queue_depth", status.QueueDepth))
	}

	for _, fn := range listeners {
		fn(status)
	}
}

// LastSample returns the most recent periodic sample, or nil before the first tick.
func (h *HealthMonitor) LastSample() *HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// GetStatus counts workers by state right now. A pool with every worker busy
// is still healthy; it is unhealthy once any worker stopped or none started.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		QueueDepth:    h.pool.QueueDepth(),
		QueueCapacity: cap(h.pool.tasks),
		Timestamp:     time.Now(),
	}
	for _, ws := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch ws {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0
	return status
}

// IsHealthy reports the current health.
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
