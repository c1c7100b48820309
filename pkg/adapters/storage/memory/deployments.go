package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mettice/nodeai/pkg/domain"
)

type workflowVersions struct {
	revision   int64
	lastNumber int
	versions   []*domain.DeploymentVersion
}

// DeploymentStore implements ports.DeploymentRepository in memory. One lock
// covers every workflow, so a revision check and the write it guards are a
// single critical section.
type DeploymentStore struct {
	mu        sync.RWMutex
	workflows map[string]*workflowVersions
	byID      map[string]*domain.DeploymentVersion
}

// NewDeploymentStore creates a new in-memory deployment store
func NewDeploymentStore() *DeploymentStore {
	return &DeploymentStore{
		workflows: make(map[string]*workflowVersions),
		byID:      make(map[string]*domain.DeploymentVersion),
	}
}

// Revision returns the workflow's current revision, 0 before the first deploy
func (s *DeploymentStore) Revision(ctx context.Context, workflowID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if wf, ok := s.workflows[workflowID]; ok {
		return wf.revision, nil
	}
	return 0, nil
}

// CreateVersion stores a new version if the workflow is still at expectedRevision
func (s *DeploymentStore) CreateVersion(ctx context.Context, v *domain.DeploymentVersion, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[v.WorkflowID]
	if !ok {
		wf = &workflowVersions{}
		s.workflows[v.WorkflowID] = wf
	}
	if wf.revision != expectedRevision {
		return domain.ErrDeploymentConflict
	}

	v.VersionNumber = wf.lastNumber + 1
	if v.Status == domain.VersionStatusActive {
		for _, existing := range wf.versions {
			if existing.Status == domain.VersionStatusActive {
				existing.Status = domain.VersionStatusInactive
			}
		}
	}

	stored := v.Clone()
	wf.versions = append(wf.versions, stored)
	wf.lastNumber = v.VersionNumber
	wf.revision++
	s.byID[stored.ID] = stored
	return nil
}

// ApplyStatus changes version statuses together if the workflow is still at expectedRevision
func (s *DeploymentStore) ApplyStatus(ctx context.Context, workflowID string, expectedRevision int64, changes []domain.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return domain.ErrVersionNotFound
	}
	if wf.revision != expectedRevision {
		return domain.ErrDeploymentConflict
	}

	targets := make([]*domain.DeploymentVersion, len(changes))
	for i, change := range changes {
		v, ok := s.byID[change.VersionID]
		if !ok || v.WorkflowID != workflowID {
			return fmt.Errorf("%w: %s", domain.ErrVersionNotFound, change.VersionID)
		}
		targets[i] = v
	}

	active := 0
	for _, v := range wf.versions {
		status := v.Status
		for i, change := range changes {
			if targets[i] == v {
				status = change.Status
			}
		}
		if status == domain.VersionStatusActive {
			active++
		}
	}
	if active > 1 {
		return fmt.Errorf("status change would leave %d active versions", active)
	}

	for i, change := range changes {
		targets[i].Status = change.Status
		if change.RolledBackAt != nil {
			t := *change.RolledBackAt
			targets[i].RolledBackAt = &t
		}
	}
	wf.revision++
	return nil
}

// AddOutcome adds one finished run to a version's health counters
func (s *DeploymentStore) AddOutcome(ctx context.Context, versionID string, result domain.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[versionID]
	if !ok {
		return domain.ErrVersionNotFound
	}
	v.Health.TotalQueries++
	if result.Success {
		v.Health.SuccessfulQueries++
	}
	v.Health.TotalResponseMs += result.DurationMs
	v.Health.TotalCost += result.Cost
	return nil
}

// GetVersion loads a version by id
func (s *DeploymentStore) GetVersion(ctx context.Context, versionID string) (*domain.DeploymentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byID[versionID]
	if !ok {
		return nil, domain.ErrVersionNotFound
	}
	return v.Clone(), nil
}

// GetVersionByNumber loads a workflow's version by its number
func (s *DeploymentStore) GetVersionByNumber(ctx context.Context, workflowID string, number int) (*domain.DeploymentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if wf, ok := s.workflows[workflowID]; ok {
		for _, v := range wf.versions {
			if v.VersionNumber == number {
				return v.Clone(), nil
			}
		}
	}
	return nil, domain.ErrVersionNotFound
}

// ActiveVersion returns the workflow's active version or domain.ErrNotDeployed
func (s *DeploymentStore) ActiveVersion(ctx context.Context, workflowID string) (*domain.DeploymentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if wf, ok := s.workflows[workflowID]; ok {
		for _, v := range wf.versions {
			if v.Status == domain.VersionStatusActive {
				return v.Clone(), nil
			}
		}
	}
	return nil, domain.ErrNotDeployed
}

// ListVersions returns a workflow's versions, newest first
func (s *DeploymentStore) ListVersions(ctx context.Context, workflowID string) ([]*domain.DeploymentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, nil
	}
	out := make([]*domain.DeploymentVersion, 0, len(wf.versions))
	for i := len(wf.versions) - 1; i >= 0; i-- {
		out = append(out, wf.versions[i].Clone())
	}
	return out, nil
}
