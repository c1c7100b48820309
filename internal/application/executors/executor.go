package executors

import (
	"context"
)

// Executor runs the logic of one node type.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// CostEstimator is implemented by executors that perform externally billed
// calls. The orchestrator reserves the estimate against the caller's quota
// before invoking the executor and settles the actual cost afterwards.
type CostEstimator interface {
	EstimateCost(config map[string]any) float64
}

// QuotaGuard lets an executor reserve additional predicted cost against the
// run's quota subject before each billed call it makes. It returns a
// *domain.QuotaExceededError when the reservation is denied.
type QuotaGuard interface {
	Reserve(ctx context.Context, predictedCost float64) error
}

// Request is the input of one node invocation.
type Request struct {
	RunID    string
	NodeID   string
	NodeType string
	Config   map[string]any

	// Inputs are the run inputs; Upstream holds the outputs of every
	// direct dependency keyed by node id.
	Inputs   map[string]any
	Upstream map[string]map[string]any

	Quota   QuotaGuard
	Attempt int
}

// Result is the output of a successful invocation.
type Result struct {
	Outputs map[string]any
	Cost    float64
	Tokens  int64
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req *Request) (*Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}

type noQuota struct{}

func (noQuota) Reserve(context.Context, float64) error { return nil }

// Unmetered is the guard used when a run has no quota subject.
var Unmetered QuotaGuard = noQuota{}
