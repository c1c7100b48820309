package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
)

// RunStore implements ports.RunRepository using an in-memory map.
// Runs are copied on the way in and out.
type RunStore struct {
	runs map[string]*domain.Run
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*domain.Run),
	}
}

// SaveRun creates or replaces a run
func (s *RunStore) SaveRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun retrieves a run by id
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run.Clone(), nil
}

// ListRuns returns a workflow's runs, newest first
func (s *RunStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*domain.Run
	for _, run := range s.runs {
		if run.WorkflowID == workflowID {
			runs = append(runs, run.Clone())
		}
	}
	sortNewestFirst(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteFinishedBefore removes finished runs that ended before cutoff
func (s *RunStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, run := range s.runs {
		if run.IsFinished() && run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed, nil
}

func sortNewestFirst(runs []*domain.Run) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
