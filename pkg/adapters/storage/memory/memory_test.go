package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStore_ListNewestFirst(t *testing.T) {
	store := NewRunStore()
	ctx := t.Context()
	base := time.Now()

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.SaveRun(ctx, &domain.Run{
			ID:         id,
			WorkflowID: "wf",
			StartedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.SaveRun(ctx, &domain.Run{ID: "other", WorkflowID: "wf2", StartedAt: base}))

	runs, err := store.ListRuns(ctx, "wf", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
}

func TestRunStore_CopiesRuns(t *testing.T) {
	store := NewRunStore()
	ctx := t.Context()

	run := &domain.Run{ID: "r1", Nodes: map[string]*domain.NodeState{
		"a": {NodeID: "a", Status: domain.NodeStatusIdle},
	}}
	require.NoError(t, store.SaveRun(ctx, run))
	run.Nodes["a"].Status = domain.NodeStatusRunning

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusIdle, got.Nodes["a"].Status)

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRunStore_DeleteFinishedBefore(t *testing.T) {
	store := NewRunStore()
	ctx := t.Context()
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()

	require.NoError(t, store.SaveRun(ctx, &domain.Run{ID: "old", Status: domain.RunStatusFinished, FinishedAt: &old}))
	require.NoError(t, store.SaveRun(ctx, &domain.Run{ID: "recent", Status: domain.RunStatusFinished, FinishedAt: &recent}))
	require.NoError(t, store.SaveRun(ctx, &domain.Run{ID: "running", Status: domain.RunStatusRunning}))

	removed, err := store.DeleteFinishedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetRun(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	_, err = store.GetRun(ctx, "running")
	assert.NoError(t, err)
}

func newVersion(id string, status domain.VersionStatus) *domain.DeploymentVersion {
	return &domain.DeploymentVersion{ID: id, WorkflowID: "wf", Status: status, DeployedAt: time.Now()}
}

func TestDeploymentStore_OneActiveVersion(t *testing.T) {
	store := NewDeploymentStore()
	ctx := t.Context()

	v1 := newVersion("v1", domain.VersionStatusActive)
	require.NoError(t, store.CreateVersion(ctx, v1, 0))
	v2 := newVersion("v2", domain.VersionStatusActive)
	require.NoError(t, store.CreateVersion(ctx, v2, 1))
	assert.Equal(t, 2, v2.VersionNumber)

	got, err := store.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStatusInactive, got.Status)

	err = store.ApplyStatus(ctx, "wf", 2, []domain.StatusChange{{VersionID: "v1", Status: domain.VersionStatusActive}})
	assert.Error(t, err)

	active, err := store.ActiveVersion(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "v2", active.ID)
}

func TestDeploymentStore_RevisionConflict(t *testing.T) {
	store := NewDeploymentStore()
	ctx := t.Context()

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.CreateVersion(ctx, newVersion(string(rune('a'+i)), domain.VersionStatusActive), 0)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDeploymentConflict)
	}
	assert.Equal(t, 1, succeeded)

	versions, err := store.ListVersions(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestDeploymentStore_NotDeployed(t *testing.T) {
	store := NewDeploymentStore()
	_, err := store.ActiveVersion(t.Context(), "wf")
	assert.ErrorIs(t, err, domain.ErrNotDeployed)
}

func TestCredentialStore_Update(t *testing.T) {
	store := NewCredentialStore()
	ctx := t.Context()

	require.NoError(t, store.CreateCredential(ctx, &domain.Credential{KeyID: "k1", IsActive: true}))
	c, err := store.GetCredential(ctx, "k1")
	require.NoError(t, err)
	c.IsActive = false
	require.NoError(t, store.UpdateCredential(ctx, c))

	c, err = store.GetCredential(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, c.IsActive)

	err = store.UpdateWebhook(ctx, &domain.Webhook{ID: "missing"})
	assert.ErrorIs(t, err, domain.ErrWebhookNotFound)
}

func TestCredentialStore_TouchOnlyMatchesActive(t *testing.T) {
	store := NewCredentialStore()
	ctx := t.Context()
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateCredential(ctx, &domain.Credential{KeyID: "k1", IsActive: true}))
	require.NoError(t, store.TouchCredential(ctx, "k1", at))
	c, err := store.GetCredential(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, c.LastUsedAt)
	assert.Equal(t, at, *c.LastUsedAt)
	assert.True(t, c.IsActive)

	c.IsActive = false
	require.NoError(t, store.UpdateCredential(ctx, c))
	assert.ErrorIs(t, store.TouchCredential(ctx, "k1", at.Add(time.Minute)), domain.ErrInvalidCredential)
	assert.ErrorIs(t, store.TouchCredential(ctx, "missing", at), domain.ErrInvalidCredential)

	c, err = store.GetCredential(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, c.IsActive)
	assert.Equal(t, at, *c.LastUsedAt)

	require.NoError(t, store.CreateWebhook(ctx, &domain.Webhook{ID: "w1", Enabled: true}))
	require.NoError(t, store.TouchWebhook(ctx, "w1", at))
	require.NoError(t, store.UpdateWebhook(ctx, &domain.Webhook{ID: "w1", Enabled: false}))
	assert.ErrorIs(t, store.TouchWebhook(ctx, "w1", at), domain.ErrInvalidCredential)
}
