package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/mettice/nodeai/pkg/ports"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically deletes finished runs older than the retention period.
type Sweeper struct {
	runs      ports.RunRepository
	retention time.Duration
	logger    *zap.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// NewSweeper creates a sweeper that runs on the given cron schedule
// (standard five-field syntax or descriptors such as "@every 10m").
func NewSweeper(runs ports.RunRepository, schedule string, retention time.Duration, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		runs:      runs,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
		now:       time.Now,
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule run sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("run sweeper started", zap.Duration("retention", s.retention))
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("run sweeper stopped")
}

// Sweep deletes finished runs that ended before now minus the retention period.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	removed, err := s.runs.DeleteFinishedBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		return removed, fmt.Errorf("failed to sweep runs: %w", err)
	}
	return removed, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("run sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("finished runs swept", zap.Int("removed", removed))
	}
}
