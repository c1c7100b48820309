package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T) (*RunStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRunStore(client, time.Hour, zaptest.NewLogger(t)), mr
}

func TestRunStore_SaveAndGet(t *testing.T) {
	store, mr := newStore(t)
	ctx := t.Context()

	run := &domain.Run{
		ID:         "r1",
		WorkflowID: "wf",
		Status:     domain.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
		Nodes: map[string]*domain.NodeState{
			"a": {NodeID: "a", Type: "passthrough", Status: domain.NodeStatusCompleted, Cost: 0.25},
		},
		TotalCost: 0.25,
	}
	require.NoError(t, store.SaveRun(ctx, run))
	assert.True(t, mr.Exists("nodeai:run:r1"))
	assert.Greater(t, mr.TTL("nodeai:run:r1"), time.Duration(0))

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusCompleted, got.Nodes["a"].Status)
	assert.InDelta(t, 0.25, got.TotalCost, 1e-9)

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRunStore_ListPrunesExpired(t *testing.T) {
	store, mr := newStore(t)
	ctx := t.Context()
	base := time.Now()

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.SaveRun(ctx, &domain.Run{
			ID:         id,
			WorkflowID: "wf",
			StartedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
	mr.Del("nodeai:run:r2")

	runs, err := store.ListRuns(ctx, "wf", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r1", runs[1].ID)

	members, err := mr.ZMembers("nodeai:runs:workflow:wf")
	require.NoError(t, err)
	assert.NotContains(t, members, "r2")
}

func TestRunStore_DeleteFinishedBefore(t *testing.T) {
	store, _ := newStore(t)
	ctx := t.Context()
	old := time.Now().Add(-2 * time.Hour)

	require.NoError(t, store.SaveRun(ctx, &domain.Run{
		ID: "old", WorkflowID: "wf", Status: domain.RunStatusFinished, StartedAt: old, FinishedAt: &old,
	}))
	require.NoError(t, store.SaveRun(ctx, &domain.Run{
		ID: "live", WorkflowID: "wf", Status: domain.RunStatusRunning, StartedAt: time.Now(),
	}))

	removed, err := store.DeleteFinishedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	runs, err := store.ListRuns(ctx, "wf", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "live", runs[0].ID)
}
