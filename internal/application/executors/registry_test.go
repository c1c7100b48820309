package executors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	RegisterBuiltins(r)

	exec, err := r.Resolve("passthrough")
	require.NoError(t, err)
	assert.NotNil(t, exec)

	_, err = r.Resolve("vector_store")
	assert.ErrorIs(t, err, domain.ErrExecutorNotFound)

	g := &domain.WorkflowGraph{Nodes: []domain.Node{
		{ID: "a", Type: "passthrough"},
		{ID: "b", Type: "vector_store"},
		{ID: "c", Type: "vector_store"},
	}}
	assert.Equal(t, []string{"vector_store"}, r.Missing(g))
	assert.Equal(t, []string{"delay", "passthrough"}, r.Types())
}

func TestRegistry_InvokeSuccess(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	res, err := r.Invoke(t.Context(), Passthrough{}, &Request{
		NodeID:   "b",
		Inputs:   map[string]any{"query": "hello"},
		Upstream: map[string]map[string]any{"a": {"chunks": 3}},
		Config:   map[string]any{"values": map[string]any{"mode": "fast"}},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "hello", "chunks": 3, "mode": "fast"}, res.Outputs)
}

func TestRegistry_InvokeTimeoutAbandonsExecutor(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	stuck := ExecutorFunc(func(ctx context.Context, req *Request) (*Result, error) {
		time.Sleep(time.Second)
		return &Result{}, nil
	})

	start := time.Now()
	_, err := r.Invoke(t.Context(), stuck, &Request{NodeID: "slow"}, 30*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	var execErr *domain.ExecutorError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, domain.ErrorKindTimeout, execErr.Kind)
	assert.False(t, execErr.Retryable)
}

func TestRegistry_InvokeRecoversPanic(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	bad := ExecutorFunc(func(ctx context.Context, req *Request) (*Result, error) {
		panic("nil map")
	})

	_, err := r.Invoke(t.Context(), bad, &Request{NodeID: "x"}, time.Second)
	var execErr *domain.ExecutorError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, domain.ErrorKindPanic, execErr.Kind)
	assert.Contains(t, execErr.Message, "nil map")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		retryable bool
	}{
		{"plain", errors.New("bad config"), domain.ErrorKindExecutor, false},
		{"retryable", domain.RetryableError(errors.New("503")), domain.ErrorKindExecutor, true},
		{"quota", &domain.QuotaExceededError{SubjectID: "key:1", Decision: domain.QuotaDecision{Reason: domain.QuotaReasonCostLimit}}, domain.ErrorKindQuotaExceeded, false},
		{"deadline", context.DeadlineExceeded, domain.ErrorKindTimeout, false},
		{"cancelled", context.Canceled, domain.ErrorKindCancelled, false},
		{"wrapped cancel", errors.Join(errors.New("http"), context.Canceled), domain.ErrorKindCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestDelay_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Delay{}.Execute(ctx, &Request{Config: map[string]any{"duration": "1h"}})
	assert.ErrorIs(t, err, context.Canceled)
}
