package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping repository tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, InitSchema(context.Background(), pool, zaptest.NewLogger(t)))
	return pool
}

func testVersion(workflowID string, status domain.VersionStatus) *domain.DeploymentVersion {
	return &domain.DeploymentVersion{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     status,
		Graph: &domain.WorkflowGraph{
			ID:    workflowID,
			Nodes: []domain.Node{{ID: "a", Type: "passthrough"}},
		},
		DeployedAt: time.Now().UTC(),
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	pool := getTestPool(t)
	require.NoError(t, InitSchema(context.Background(), pool, zaptest.NewLogger(t)))
}

func TestDeploymentStore_Lifecycle(t *testing.T) {
	pool := getTestPool(t)
	store := NewDeploymentStore(pool, zaptest.NewLogger(t))
	ctx := context.Background()
	wf := "wf-" + uuid.NewString()

	v1 := testVersion(wf, domain.VersionStatusActive)
	require.NoError(t, store.CreateVersion(ctx, v1, 0))
	assert.Equal(t, 1, v1.VersionNumber)

	v2 := testVersion(wf, domain.VersionStatusActive)
	require.NoError(t, store.CreateVersion(ctx, v2, 1))
	assert.Equal(t, 2, v2.VersionNumber)

	active, err := store.ActiveVersion(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	old, err := store.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStatusInactive, old.Status)

	now := time.Now().UTC()
	err = store.ApplyStatus(ctx, wf, 2, []domain.StatusChange{
		{VersionID: v1.ID, Status: domain.VersionStatusActive},
		{VersionID: v2.ID, Status: domain.VersionStatusRolledBack, RolledBackAt: &now},
	})
	require.NoError(t, err)

	active, err = store.ActiveVersion(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	versions, err := store.ListVersions(ctx, wf)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNumber)
	assert.NotNil(t, versions[0].RolledBackAt)
}

func TestDeploymentStore_StaleRevision(t *testing.T) {
	pool := getTestPool(t)
	store := NewDeploymentStore(pool, zaptest.NewLogger(t))
	ctx := context.Background()
	wf := "wf-" + uuid.NewString()

	require.NoError(t, store.CreateVersion(ctx, testVersion(wf, domain.VersionStatusActive), 0))
	err := store.CreateVersion(ctx, testVersion(wf, domain.VersionStatusActive), 0)
	assert.ErrorIs(t, err, domain.ErrDeploymentConflict)
}

func TestDeploymentStore_AddOutcome(t *testing.T) {
	pool := getTestPool(t)
	store := NewDeploymentStore(pool, zaptest.NewLogger(t))
	ctx := context.Background()

	v := testVersion("wf-"+uuid.NewString(), domain.VersionStatusActive)
	require.NoError(t, store.CreateVersion(ctx, v, 0))

	require.NoError(t, store.AddOutcome(ctx, v.ID, domain.RunResult{Success: true, DurationMs: 100, Cost: 0.5}))
	require.NoError(t, store.AddOutcome(ctx, v.ID, domain.RunResult{Success: false, DurationMs: 300, Cost: 0.25}))

	got, err := store.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Health.TotalQueries)
	assert.Equal(t, int64(1), got.Health.SuccessfulQueries)
	assert.InDelta(t, 200.0, got.Health.AvgResponseTimeMs(), 1e-9)
	assert.InDelta(t, 0.75, got.Health.TotalCost, 1e-9)
}

func TestCredentialStore_RoundTrip(t *testing.T) {
	pool := getTestPool(t)
	store := NewCredentialStore(pool)
	ctx := context.Background()

	limit := int64(10)
	c := &domain.Credential{
		KeyID:     uuid.NewString()[:8],
		Name:      "ci",
		Digest:    "digest",
		RateLimit: &limit,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateCredential(ctx, c))

	got, err := store.GetCredential(ctx, c.KeyID)
	require.NoError(t, err)
	assert.Equal(t, "digest", got.Digest)
	require.NotNil(t, got.RateLimit)
	assert.Equal(t, limit, *got.RateLimit)
	assert.Nil(t, got.CostLimit)

	used := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.TouchCredential(ctx, c.KeyID, used))

	got.IsActive = false
	require.NoError(t, store.UpdateCredential(ctx, got))

	got, err = store.GetCredential(ctx, c.KeyID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// a touch after revocation neither matches nor reactivates
	assert.ErrorIs(t, store.TouchCredential(ctx, c.KeyID, used.Add(time.Minute)), domain.ErrInvalidCredential)
	got, err = store.GetCredential(ctx, c.KeyID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = store.GetCredential(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}
