package executors

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
	"go.uber.org/zap"
)

// Registry maps node types to executors. It is populated at startup and
// read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger,
	}
}

// Register binds an executor to a node type, replacing any previous binding.
func (r *Registry) Register(nodeType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = exec
	r.logger.Debug("registered executor", zap.String("node_type", nodeType))
}

// Resolve returns the executor for a node type.
func (r *Registry) Resolve(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutorNotFound, nodeType)
	}
	return exec, nil
}

// Has reports whether a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// Missing returns the node types of g that have no executor.
func (r *Registry) Missing(g *domain.WorkflowGraph) []string {
	var missing []string
	for _, t := range g.NodeTypes() {
		if !r.Has(t) {
			missing = append(missing, t)
		}
	}
	return missing
}

// Types lists the registered node types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// EstimateCost returns the predicted cost of a node and whether its executor
// is externally billed.
func EstimateCost(exec Executor, config map[string]any) (float64, bool) {
	est, ok := exec.(CostEstimator)
	if !ok {
		return 0, false
	}
	return est.EstimateCost(config), true
}

type outcome struct {
	result *Result
	err    error
}

// Invoke runs exec with the timeout applied from this side. A timed out or
// cancelled executor is abandoned; its goroutine finishes on its own. Every
// failure is returned as *domain.ExecutorError.
func (r *Registry) Invoke(ctx context.Context, exec Executor, req *Request, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("executor panicked",
					zap.String("run_id", req.RunID),
					zap.String("node_id", req.NodeID),
					zap.String("node_type", req.NodeType),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
				done <- outcome{err: &domain.ExecutorError{
					Kind:    domain.ErrorKindPanic,
					Message: fmt.Sprintf("executor panicked: %v", p),
				}}
			}
		}()
		res, err := exec.Execute(ctx, req)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, Normalize(o.err)
		}
		if o.result == nil {
			o.result = &Result{}
		}
		return o.result, nil
	case <-ctx.Done():
		return nil, Normalize(ctx.Err())
	}
}

// Normalize converts any error into a *domain.ExecutorError.
func Normalize(err error) *domain.ExecutorError {
	var execErr *domain.ExecutorError
	if errors.As(err, &execErr) {
		return execErr
	}

	var quotaErr *domain.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		return &domain.ExecutorError{Kind: domain.ErrorKindQuotaExceeded, Message: quotaErr.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ExecutorError{Kind: domain.ErrorKindTimeout, Message: "node execution timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &domain.ExecutorError{Kind: domain.ErrorKindCancelled, Message: "node execution cancelled", Err: err}
	case errors.Is(err, domain.ErrExecutorNotFound):
		return &domain.ExecutorError{Kind: domain.ErrorKindNotFound, Message: err.Error(), Err: err}
	default:
		return &domain.ExecutorError{Kind: domain.ErrorKindExecutor, Message: err.Error(), Err: err}
	}
}
