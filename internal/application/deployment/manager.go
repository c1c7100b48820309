package deployment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"go.uber.org/zap"
)

// Config holds deployment health and concurrency settings.
type Config struct {
	// HealthThreshold is the minimum recent success rate of a healthy version.
	HealthThreshold float64
	// RecentWindow is how many of the latest runs count as "recent".
	RecentWindow int
	// ConflictRetries bounds how often a write is retried after a revision conflict.
	ConflictRetries int
}

// Manager owns the version lifecycle of deployed workflows.
type Manager struct {
	repo      ports.DeploymentRepository
	validator *orchestrator.Validator
	registry  *executors.Registry
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time

	// recent holds one window per active version; windows of versions that
	// stop being active are evicted on deploy and rollback.
	mu     sync.Mutex
	recent map[string]*window
}

// NewManager creates a deployment manager
func NewManager(
	repo ports.DeploymentRepository,
	validator *orchestrator.Validator,
	registry *executors.Registry,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	cfg Config,
) *Manager {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 50
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	return &Manager{
		repo:      repo,
		validator: validator,
		registry:  registry,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		recent:    make(map[string]*window),
	}
}

// Deploy validates the graph and stores it as the workflow's next version.
// A graph that references node types with no executor is stored as failed,
// never becomes active, and is returned together with domain.ErrDeployFailed.
func (m *Manager) Deploy(ctx context.Context, workflowID string, graph *domain.WorkflowGraph, description string) (*domain.DeploymentVersion, error) {
	if err := m.validator.Validate(graph); err != nil {
		return nil, err
	}

	snapshot := graph.Clone()
	snapshot.ID = workflowID

	v := &domain.DeploymentVersion{
		WorkflowID:  workflowID,
		Status:      domain.VersionStatusActive,
		Graph:       snapshot,
		Description: description,
	}
	if missing := m.registry.Missing(snapshot); len(missing) > 0 {
		v.Status = domain.VersionStatusFailed
		v.FailureReason = "unregistered node types: " + strings.Join(missing, ", ")
	}

	err := m.retry(ctx, workflowID, func(revision int64) error {
		v.ID = uuid.New().String()
		v.DeployedAt = m.now().UTC()
		return m.repo.CreateVersion(ctx, v, revision)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create deployment version: %w", err)
	}

	if v.Status == domain.VersionStatusFailed {
		m.metrics.RecordDeployment("deploy_failed")
		m.logger.Warn("deployment failed",
			zap.String("workflow_id", workflowID),
			zap.Int("version", v.VersionNumber),
			zap.String("reason", v.FailureReason))
		return v, fmt.Errorf("%w: %s", domain.ErrDeployFailed, v.FailureReason)
	}

	m.evictRecent(workflowID, v.ID)
	m.metrics.RecordDeployment("deploy")
	m.logger.Info("workflow deployed",
		zap.String("workflow_id", workflowID),
		zap.String("version_id", v.ID),
		zap.Int("version", v.VersionNumber))
	return v, nil
}

// Rollback makes an earlier version active and marks the current one
// rolled back. Rolling back to the active version is a no-op.
func (m *Manager) Rollback(ctx context.Context, workflowID string, versionNumber int) (*domain.DeploymentVersion, error) {
	var target *domain.DeploymentVersion
	noop := false

	err := m.retry(ctx, workflowID, func(revision int64) error {
		var err error
		target, err = m.repo.GetVersionByNumber(ctx, workflowID, versionNumber)
		if err != nil {
			return err
		}
		if target.Status == domain.VersionStatusFailed {
			return fmt.Errorf("%w: version %d failed to deploy", domain.ErrNotRollbackable, versionNumber)
		}
		if target.Status == domain.VersionStatusActive {
			noop = true
			return nil
		}

		now := m.now().UTC()
		var changes []domain.StatusChange
		active, err := m.repo.ActiveVersion(ctx, workflowID)
		switch {
		case err == nil:
			changes = append(changes, domain.StatusChange{
				VersionID:    active.ID,
				Status:       domain.VersionStatusRolledBack,
				RolledBackAt: &now,
			})
		case !errors.Is(err, domain.ErrNotDeployed):
			return err
		}
		changes = append(changes, domain.StatusChange{VersionID: target.ID, Status: domain.VersionStatusActive})

		return m.repo.ApplyStatus(ctx, workflowID, revision, changes)
	})
	if err != nil {
		return nil, err
	}

	if noop {
		m.logger.Debug("rollback target already active",
			zap.String("workflow_id", workflowID),
			zap.Int("version", versionNumber))
		return target, nil
	}

	m.evictRecent(workflowID, target.ID)
	m.metrics.RecordDeployment("rollback")
	m.logger.Info("workflow rolled back",
		zap.String("workflow_id", workflowID),
		zap.Int("version", versionNumber))

	return m.repo.GetVersion(ctx, target.ID)
}

// retry runs fn with the workflow's current revision and repeats it after a
// revision conflict.
func (m *Manager) retry(ctx context.Context, workflowID string, fn func(revision int64) error) error {
	var err error
	for attempt := 0; attempt <= m.cfg.ConflictRetries; attempt++ {
		var revision int64
		revision, err = m.repo.Revision(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("failed to read workflow revision: %w", err)
		}

		err = fn(revision)
		if !errors.Is(err, domain.ErrDeploymentConflict) {
			return err
		}
		m.logger.Debug("deployment conflict, retrying",
			zap.String("workflow_id", workflowID),
			zap.Int("attempt", attempt+1))
	}
	return err
}

// RecordOutcome adds a finished run to its version's health counters.
func (m *Manager) RecordOutcome(ctx context.Context, versionID string, result domain.RunResult) error {
	if err := m.repo.AddOutcome(ctx, versionID, result); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	if w := m.recentWindow(ctx, versionID); w != nil {
		m.mu.Lock()
		w.add(result.Success)
		m.mu.Unlock()
	}

	return nil
}

// Health reports whether the active version's recent success rate meets the
// threshold. Without recent samples the lifetime rate is used.
func (m *Manager) Health(ctx context.Context, workflowID string) (*domain.HealthReport, error) {
	report := &domain.HealthReport{
		WorkflowID: workflowID,
		Status:     domain.HealthNotDeployed,
		Threshold:  m.cfg.HealthThreshold,
	}

	active, err := m.repo.ActiveVersion(ctx, workflowID)
	if errors.Is(err, domain.ErrNotDeployed) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active version: %w", err)
	}

	h := active.Health
	report.ActiveVersion = active.VersionNumber
	report.ActiveVersionID = active.ID
	report.SuccessRate = h.SuccessRate()
	report.TotalQueries = h.TotalQueries
	report.SuccessfulQueries = h.SuccessfulQueries
	report.AvgResponseTimeMs = h.AvgResponseTimeMs()
	report.TotalCost = h.TotalCost

	report.RecentSuccessRate = report.SuccessRate
	m.mu.Lock()
	if w, ok := m.recent[active.ID]; ok && w.count > 0 {
		report.RecentSuccessRate = w.rate()
		report.RecentSamples = w.count
	}
	m.mu.Unlock()

	report.Status = domain.HealthUnhealthy
	if report.RecentSuccessRate >= m.cfg.HealthThreshold {
		report.Status = domain.HealthHealthy
	}
	return report, nil
}

// ListVersions returns a workflow's versions, newest first.
func (m *Manager) ListVersions(ctx context.Context, workflowID string) ([]*domain.DeploymentVersion, error) {
	return m.repo.ListVersions(ctx, workflowID)
}

// recentWindow returns the version's window, creating it only while the
// version is active. Late outcomes of replaced versions are not windowed.
func (m *Manager) recentWindow(ctx context.Context, versionID string) *window {
	m.mu.Lock()
	w, ok := m.recent[versionID]
	m.mu.Unlock()
	if ok {
		return w
	}

	v, err := m.repo.GetVersion(ctx, versionID)
	if err != nil || v.Status != domain.VersionStatusActive {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.recent[versionID]; !ok {
		w = newWindow(v.WorkflowID, m.cfg.RecentWindow)
		m.recent[versionID] = w
	}
	return w
}

// evictRecent drops the windows of a workflow's versions other than keep.
func (m *Manager) evictRecent(workflowID, keep string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.recent {
		if w.workflowID == workflowID && id != keep {
			delete(m.recent, id)
		}
	}
}

// ActiveVersion returns the version that serves deployed invocations.
func (m *Manager) ActiveVersion(ctx context.Context, workflowID string) (*domain.DeploymentVersion, error) {
	return m.repo.ActiveVersion(ctx, workflowID)
}

// window is a ring of the latest run results of one version.
type window struct {
	workflowID string
	samples    []bool
	next       int
	count      int
	successes  int
}

func newWindow(workflowID string, size int) *window {
	return &window{workflowID: workflowID, samples: make([]bool, size)}
}

func (w *window) add(success bool) {
	if w.count == len(w.samples) {
		if w.samples[w.next] {
			w.successes--
		}
	} else {
		w.count++
	}
	w.samples[w.next] = success
	if success {
		w.successes++
	}
	w.next = (w.next + 1) % len(w.samples)
}

func (w *window) rate() float64 {
	return float64(w.successes) / float64(w.count)
}
