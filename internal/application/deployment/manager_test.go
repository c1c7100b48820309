package deployment

import (
	"context"
	"sync"
	"testing"

	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/pkg/adapters/storage/memory"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newManager(t *testing.T, repo ports.DeploymentRepository) *Manager {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := executors.NewRegistry(logger)
	executors.RegisterBuiltins(registry)
	return NewManager(repo, orchestrator.NewValidator(), registry, ports.NopMetrics{}, logger,
		Config{HealthThreshold: 0.9, RecentWindow: 10})
}

func chain(types ...string) *domain.WorkflowGraph {
	g := &domain.WorkflowGraph{Name: "chain"}
	for i, typ := range types {
		id := string(rune('A' + i))
		g.Nodes = append(g.Nodes, domain.Node{ID: id, Type: typ})
		if i > 0 {
			g.Edges = append(g.Edges, domain.Edge{ID: "e" + id, Source: string(rune('A' + i - 1)), Target: id})
		}
	}
	return g
}

func status(t *testing.T, m *Manager, versionID string) domain.VersionStatus {
	t.Helper()
	v, err := m.repo.GetVersion(t.Context(), versionID)
	require.NoError(t, err)
	return v.Status
}

func TestManager_DeployAndRollback(t *testing.T) {
	m := newManager(t, memory.NewDeploymentStore())
	ctx := t.Context()

	v1, err := m.Deploy(ctx, "W", chain("passthrough"), "first")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, domain.VersionStatusActive, v1.Status)
	assert.Equal(t, "W", v1.Graph.ID)

	v2, err := m.Deploy(ctx, "W", chain("passthrough", "passthrough"), "second")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, domain.VersionStatusInactive, status(t, m, v1.ID))
	assert.Equal(t, domain.VersionStatusActive, status(t, m, v2.ID))

	rolled, err := m.Rollback(ctx, "W", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, rolled.ID)
	assert.Equal(t, domain.VersionStatusActive, rolled.Status)

	old, err := m.repo.GetVersion(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStatusRolledBack, old.Status)
	assert.NotNil(t, old.RolledBackAt)

	// second rollback to the same version changes nothing
	again, err := m.Rollback(ctx, "W", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, again.ID)

	versions, err := m.ListVersions(ctx, "W")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNumber)
	active := 0
	for _, v := range versions {
		if v.Status == domain.VersionStatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestManager_DeployRejectsInvalidGraph(t *testing.T) {
	m := newManager(t, memory.NewDeploymentStore())
	g := chain("passthrough", "passthrough")
	g.Edges = append(g.Edges, domain.Edge{ID: "back", Source: "B", Target: "A"})

	_, err := m.Deploy(t.Context(), "W", g, "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	versions, err := m.ListVersions(t.Context(), "W")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestManager_UnregisteredTypesFailDeploy(t *testing.T) {
	m := newManager(t, memory.NewDeploymentStore())
	ctx := t.Context()

	v1, err := m.Deploy(ctx, "W", chain("passthrough"), "")
	require.NoError(t, err)

	failed, err := m.Deploy(ctx, "W", chain("passthrough", "vector_store"), "")
	require.ErrorIs(t, err, domain.ErrDeployFailed)
	require.NotNil(t, failed)
	assert.Equal(t, domain.VersionStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.VersionNumber)
	assert.Contains(t, failed.FailureReason, "vector_store")

	active, err := m.ActiveVersion(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	_, err = m.Rollback(ctx, "W", 2)
	assert.ErrorIs(t, err, domain.ErrNotRollbackable)

	_, err = m.Rollback(ctx, "W", 7)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestManager_ConcurrentDeploysKeepOneActive(t *testing.T) {
	m := newManager(t, memory.NewDeploymentStore())
	m.cfg.ConflictRetries = 20
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Deploy(ctx, "W", chain("passthrough"), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	versions, err := m.ListVersions(ctx, "W")
	require.NoError(t, err)
	require.Len(t, versions, 8)

	active := 0
	for i, v := range versions {
		assert.Equal(t, 8-i, v.VersionNumber)
		if v.Status == domain.VersionStatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

// conflictingRepo fails the first write with a revision conflict.
type conflictingRepo struct {
	ports.DeploymentRepository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepo) CreateVersion(ctx context.Context, v *domain.DeploymentVersion, rev int64) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.ErrDeploymentConflict
	}
	r.mu.Unlock()
	return r.DeploymentRepository.CreateVersion(ctx, v, rev)
}

func TestManager_RetriesConflicts(t *testing.T) {
	repo := &conflictingRepo{DeploymentRepository: memory.NewDeploymentStore(), conflicts: 2}
	m := newManager(t, repo)

	v, err := m.Deploy(t.Context(), "W", chain("passthrough"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)

	repo.conflicts = 10
	_, err = m.Deploy(t.Context(), "W", chain("passthrough"), "")
	assert.ErrorIs(t, err, domain.ErrDeploymentConflict)
}

func TestManager_Health(t *testing.T) {
	m := newManager(t, memory.NewDeploymentStore())
	ctx := t.Context()

	report, err := m.Health(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthNotDeployed, report.Status)

	v, err := m.Deploy(ctx, "W", chain("passthrough"), "")
	require.NoError(t, err)

	report, err = m.Health(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthHealthy, report.Status)
	assert.Equal(t, 1.0, report.SuccessRate)

	for i := 0; i < 9; i++ {
		require.NoError(t, m.RecordOutcome(ctx, v.ID, domain.RunResult{Success: true, DurationMs: 100, Cost: 0.01}))
	}
	require.NoError(t, m.RecordOutcome(ctx, v.ID, domain.RunResult{Success: false, DurationMs: 300}))

	report, err = m.Health(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthHealthy, report.Status)
	assert.InDelta(t, 0.9, report.RecentSuccessRate, 1e-9)
	assert.Equal(t, 10, report.RecentSamples)
	assert.Equal(t, int64(10), report.TotalQueries)
	assert.InDelta(t, 120.0, report.AvgResponseTimeMs, 1e-9)
	assert.InDelta(t, 0.09, report.TotalCost, 1e-9)

	require.NoError(t, m.RecordOutcome(ctx, v.ID, domain.RunResult{Success: false}))
	report, err = m.Health(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthUnhealthy, report.Status)
	assert.InDelta(t, 0.8, report.RecentSuccessRate, 1e-9)
	assert.Equal(t, 10, report.RecentSamples)
}

func TestManager_RollbackKeepsHistoricalHealth(t *testing.T) {
	m := newManager(t, memory.NewDeploymentStore())
	ctx := t.Context()

	v1, err := m.Deploy(ctx, "W", chain("passthrough"), "")
	require.NoError(t, err)
	require.NoError(t, m.RecordOutcome(ctx, v1.ID, domain.RunResult{Success: true, DurationMs: 50}))

	_, err = m.Deploy(ctx, "W", chain("passthrough"), "")
	require.NoError(t, err)

	rolled, err := m.Rollback(ctx, "W", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rolled.Health.TotalQueries)
}

func TestWindow_Evicts(t *testing.T) {
	w := newWindow("W", 3)
	w.add(false)
	w.add(true)
	w.add(true)
	assert.InDelta(t, 2.0/3.0, w.rate(), 1e-9)
	w.add(true)
	assert.Equal(t, 3, w.count)
	assert.Equal(t, 1.0, w.rate())
}

func TestManager_RecentWindowsFollowActiveVersion(t *testing.T) {
	m := newManager(t, memory.NewDeploymentStore())
	ctx := t.Context()

	v1, err := m.Deploy(ctx, "W", chain("passthrough"), "")
	require.NoError(t, err)
	require.NoError(t, m.RecordOutcome(ctx, v1.ID, domain.RunResult{Success: true}))
	other, err := m.Deploy(ctx, "X", chain("passthrough"), "")
	require.NoError(t, err)
	require.NoError(t, m.RecordOutcome(ctx, other.ID, domain.RunResult{Success: true}))
	assert.Len(t, m.recent, 2)

	v2, err := m.Deploy(ctx, "W", chain("passthrough"), "")
	require.NoError(t, err)
	assert.NotContains(t, m.recent, v1.ID)
	assert.Contains(t, m.recent, other.ID)

	// a late outcome of the replaced version counts toward its totals only
	require.NoError(t, m.RecordOutcome(ctx, v1.ID, domain.RunResult{Success: false}))
	assert.NotContains(t, m.recent, v1.ID)

	require.NoError(t, m.RecordOutcome(ctx, v2.ID, domain.RunResult{Success: true}))
	assert.Contains(t, m.recent, v2.ID)

	_, err = m.Rollback(ctx, "W", 1)
	require.NoError(t, err)
	assert.NotContains(t, m.recent, v2.ID)
	assert.Len(t, m.recent, 1)

	report, err := m.Health(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, 0, report.RecentSamples)
	assert.InDelta(t, 0.5, report.SuccessRate, 1e-9)
}
