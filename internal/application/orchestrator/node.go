package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/internal/application/quota"
	"github.com/mettice/nodeai/internal/application/workers"
	"github.com/mettice/nodeai/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// nodeTask builds the pool task that runs one node and reports back to the
// run loop. The task holds no run state; upstream outputs are copied in.
func (e *execution) nodeTask(node domain.Node, upstream map[string]map[string]any) workers.Task {
	return func(workerCtx context.Context) {
		if e.stopped.Load() || workerCtx.Err() != nil {
			e.results <- nodeMessage{kind: msgAborted, nodeID: node.ID}
			return
		}

		started := time.Now()
		e.results <- nodeMessage{kind: msgStarted, nodeID: node.ID, at: started.UTC()}

		ctx, cancel := context.WithCancel(e.nodeBase)
		defer cancel()
		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()

		ctx, span := e.m.tracer.Start(ctx, "workflow.node",
			trace.WithAttributes(
				attribute.String("nodeai.run_id", e.run.ID),
				attribute.String("nodeai.node_id", node.ID),
				attribute.String("nodeai.node_type", node.Type)))
		defer span.End()

		result, execErr, attempts := e.invoke(ctx, node, upstream)
		if execErr != nil {
			span.RecordError(execErr)
			span.SetStatus(codes.Error, execErr.Message)
		}

		e.results <- nodeMessage{
			kind:     msgFinished,
			nodeID:   node.ID,
			at:       time.Now().UTC(),
			result:   result,
			err:      execErr,
			attempts: attempts,
			duration: time.Since(started),
		}
	}
}

// invoke resolves the executor, reserves predicted cost for billed
// executors and runs the node, re-attempting once per configured retry when
// the failure is marked retryable.
func (e *execution) invoke(ctx context.Context, node domain.Node, upstream map[string]map[string]any) (*executors.Result, *domain.ExecutorError, int) {
	exec, err := e.m.registry.Resolve(node.Type)
	if err != nil {
		return nil, executors.Normalize(err), 0
	}

	guard := e.newGuard()
	if predicted, billed := executors.EstimateCost(exec, node.Config); billed && guard != nil {
		if err := guard.Reserve(ctx, predicted); err != nil {
			return nil, executors.Normalize(err), 0
		}
	}

	req := &executors.Request{
		RunID:    e.run.ID,
		NodeID:   node.ID,
		NodeType: node.Type,
		Config:   node.Config,
		Inputs:   e.req.Inputs,
		Upstream: upstream,
		Quota:    executors.Unmetered,
	}
	if guard != nil {
		req.Quota = guard
	}

	var (
		result   *executors.Result
		execErr  *domain.ExecutorError
		attempts int
	)
	for attempts <= e.m.cfg.MaxRetries {
		attempts++
		req.Attempt = attempts

		res, err := e.m.registry.Invoke(ctx, exec, req, e.m.nodeTimeout(node))
		if err == nil {
			result, execErr = res, nil
			break
		}

		execErr = executors.Normalize(err)
		if !execErr.Retryable || execErr.Kind == domain.ErrorKindQuotaExceeded || ctx.Err() != nil || e.stopped.Load() {
			break
		}
		if attempts <= e.m.cfg.MaxRetries {
			e.m.metrics.RecordNodeRetry(node.Type)
			e.m.logger.Warn("retrying node",
				zap.String("run_id", e.run.ID),
				zap.String("node_id", node.ID),
				zap.Int("attempt", attempts),
				zap.Error(execErr))
		}
	}

	if guard != nil {
		actual := 0.0
		if result != nil {
			actual = result.Cost
		}
		guard.settle(actual)
	}

	return result, execErr, attempts
}

func (e *execution) newGuard() *nodeGuard {
	if e.req.Subject == nil || e.m.quota == nil {
		return nil
	}
	return &nodeGuard{
		quota:   e.m.quota,
		subject: e.req.Subject,
		runID:   e.run.ID,
		logger:  e.m.logger,
	}
}

// nodeGuard tracks the reservations made on behalf of one node.
type nodeGuard struct {
	quota   QuotaReserver
	subject *domain.QuotaSubject
	runID   string
	logger  *zap.Logger

	mu           sync.Mutex
	reservations []*quota.Reservation
}

// Reserve implements executors.QuotaGuard.
func (g *nodeGuard) Reserve(ctx context.Context, predictedCost float64) error {
	res, err := g.quota.Reserve(ctx, g.subject, predictedCost)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.reservations = append(g.reservations, res)
	g.mu.Unlock()
	return nil
}

// settle charges the node's actual cost against its first reservation and
// releases the rest. A node that reported cost without reserving is charged
// directly.
func (g *nodeGuard) settle(actualCost float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.mu.Lock()
	reservations := g.reservations
	g.reservations = nil
	g.mu.Unlock()

	if len(reservations) == 0 {
		if actualCost <= 0 {
			return
		}
		reservations = []*quota.Reservation{nil}
	}

	for i, res := range reservations {
		cost := 0.0
		if i == 0 {
			cost = actualCost
		}
		var err error
		if res == nil {
			err = g.quota.Charge(ctx, g.subject, cost)
		} else {
			err = g.quota.Settle(ctx, res, cost)
		}
		if err != nil {
			g.logger.Error("failed to settle node cost",
				zap.String("run_id", g.runID),
				zap.String("subject_id", g.subject.ID),
				zap.Error(err))
		}
	}
}
