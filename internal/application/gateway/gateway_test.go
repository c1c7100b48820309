package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mettice/nodeai/internal/application/credentials"
	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/internal/application/quota"
	quotamemory "github.com/mettice/nodeai/pkg/adapters/quota/memory"
	"github.com/mettice/nodeai/pkg/adapters/storage/memory"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type recordingRunner struct {
	mu       sync.Mutex
	requests []orchestrator.SubmitRequest
}

func (r *recordingRunner) Submit(ctx context.Context, req orchestrator.SubmitRequest) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return &domain.Run{ID: "run-1", WorkflowID: req.Graph.ID, VersionID: req.VersionID, Trigger: req.Trigger}, nil
}

type fixture struct {
	gateway  *Gateway
	creds    *credentials.Service
	versions *memory.DeploymentStore
	runner   *recordingRunner
}

func newFixture(t *testing.T) *fixture {
	logger := zaptest.NewLogger(t)
	store := memory.NewCredentialStore()
	creds := credentials.NewService(store, store, logger, credentials.WithBcryptCost(bcrypt.MinCost))
	versions := memory.NewDeploymentStore()
	enforcer := quota.NewEnforcer(quotamemory.NewStore(), ports.NopMetrics{}, time.Hour, 720*time.Hour, logger)
	runner := &recordingRunner{}

	return &fixture{
		gateway:  NewGateway(creds, versions, enforcer, runner, logger),
		creds:    creds,
		versions: versions,
		runner:   runner,
	}
}

func (f *fixture) deploy(t *testing.T, workflowID string) *domain.DeploymentVersion {
	v := &domain.DeploymentVersion{
		ID:         "v-" + workflowID,
		WorkflowID: workflowID,
		Status:     domain.VersionStatusActive,
		Graph:      &domain.WorkflowGraph{ID: workflowID, Nodes: []domain.Node{{ID: "a", Type: "passthrough"}}},
	}
	require.NoError(t, f.versions.CreateVersion(t.Context(), v, 0))
	return v
}

func TestGateway_InvokeWithKey(t *testing.T) {
	f := newFixture(t)
	v := f.deploy(t, "W")

	rate := int64(5)
	_, key, err := f.creds.CreateKey(t.Context(), credentials.KeyRequest{WorkflowID: "W", RateLimit: &rate})
	require.NoError(t, err)

	inv, err := f.gateway.InvokeWithKey(t.Context(), key, "W", map[string]any{"q": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", inv.Run.ID)
	assert.Equal(t, v.ID, inv.Version.ID)
	require.NotNil(t, inv.Decision)
	assert.Equal(t, int64(5), inv.Decision.Limit)
	assert.Equal(t, int64(4), inv.Decision.Remaining)

	require.Len(t, f.runner.requests, 1)
	req := f.runner.requests[0]
	assert.Equal(t, v.ID, req.VersionID)
	assert.Equal(t, domain.TriggerAPIKey, req.Trigger)
	assert.Equal(t, "hi", req.Inputs["q"])
	require.NotNil(t, req.Subject)
	assert.Contains(t, req.Subject.ID, "key:")
}

func TestGateway_KeyBoundToOtherWorkflow(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "OTHER")

	_, key, err := f.creds.CreateKey(t.Context(), credentials.KeyRequest{WorkflowID: "W"})
	require.NoError(t, err)

	_, err = f.gateway.InvokeWithKey(t.Context(), key, "OTHER", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.Empty(t, f.runner.requests)
}

func TestGateway_NotDeployed(t *testing.T) {
	f := newFixture(t)
	_, key, err := f.creds.CreateKey(t.Context(), credentials.KeyRequest{})
	require.NoError(t, err)

	_, err = f.gateway.InvokeWithKey(t.Context(), key, "W", nil)
	assert.ErrorIs(t, err, domain.ErrNotDeployed)
}

func TestGateway_RateLimitDenies(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "W")

	rate := int64(2)
	c, key, err := f.creds.CreateKey(t.Context(), credentials.KeyRequest{RateLimit: &rate})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.gateway.InvokeWithKey(t.Context(), key, "W", nil)
		require.NoError(t, err)
	}

	inv, err := f.gateway.InvokeWithKey(t.Context(), key, "W", nil)
	var qerr *domain.QuotaExceededError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, domain.QuotaReasonRateLimit, qerr.Decision.Reason)
	require.NotNil(t, inv)
	assert.Greater(t, inv.Decision.RetryAfter, time.Duration(0))
	assert.Len(t, f.runner.requests, 2)

	usage, err := f.gateway.KeyUsage(t.Context(), c.KeyID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.TotalRequests)
	assert.Equal(t, int64(2), usage.WindowRequests)
}

func TestGateway_Webhook(t *testing.T) {
	f := newFixture(t)
	v := f.deploy(t, "W")

	w, secret, err := f.creds.CreateWebhook(t.Context(), credentials.WebhookRequest{WorkflowID: "W"})
	require.NoError(t, err)

	inv, err := f.gateway.InvokeWebhook(t.Context(), w.ID, secret, nil)
	require.NoError(t, err)
	assert.Equal(t, v.ID, inv.Version.ID)
	assert.Equal(t, domain.TriggerWebhook, f.runner.requests[0].Trigger)
	assert.Equal(t, "webhook:"+w.ID, f.runner.requests[0].Subject.ID)

	_, err = f.gateway.InvokeWebhook(t.Context(), w.ID, "wrong", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	usage, err := f.gateway.WebhookUsage(t.Context(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.TodayRequests)
}

func TestGateway_SubmitGraph(t *testing.T) {
	f := newFixture(t)
	g := &domain.WorkflowGraph{ID: "adhoc", Nodes: []domain.Node{{ID: "a", Type: "passthrough"}}}

	inv, err := f.gateway.SubmitGraph(t.Context(), "", g, nil)
	require.NoError(t, err)
	assert.Nil(t, inv.Decision)
	assert.Nil(t, f.runner.requests[0].Subject)
	assert.Equal(t, domain.TriggerManual, f.runner.requests[0].Trigger)

	_, key, err := f.creds.CreateKey(t.Context(), credentials.KeyRequest{})
	require.NoError(t, err)
	inv, err = f.gateway.SubmitGraph(t.Context(), key, g, nil)
	require.NoError(t, err)
	assert.NotNil(t, inv.Decision)
	assert.NotNil(t, f.runner.requests[1].Subject)

	_, err = f.gateway.SubmitGraph(t.Context(), "nai_bad_key", g, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestGateway_InvalidGraphIsNotMetered(t *testing.T) {
	f := newFixture(t)
	c, key, err := f.creds.CreateKey(t.Context(), credentials.KeyRequest{})
	require.NoError(t, err)

	cyclic := &domain.WorkflowGraph{
		ID:    "cyclic",
		Nodes: []domain.Node{{ID: "a", Type: "passthrough"}, {ID: "b", Type: "passthrough"}},
		Edges: []domain.Edge{{ID: "e1", Source: "a", Target: "b"}, {ID: "e2", Source: "b", Target: "a"}},
	}
	_, err = f.gateway.SubmitGraph(t.Context(), key, cyclic, nil)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.runner.requests)

	usage, err := f.gateway.KeyUsage(t.Context(), c.KeyID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.TotalRequests)
}
