package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type messageKind int

const (
	msgStarted messageKind = iota
	msgFinished
	msgAborted
)

// nodeMessage is sent by a node task back to its run's loop.
type nodeMessage struct {
	kind     messageKind
	nodeID   string
	at       time.Time
	result   *executors.Result
	err      *domain.ExecutorError
	attempts int
	duration time.Duration
}

// execution owns the state of one run. Only the loop goroutine writes the
// run; readers take a clone under mu. Node tasks never touch the run and
// report through results instead.
type execution struct {
	m     *Manager
	req   SubmitRequest
	nodes map[string]domain.Node
	order []string
	plan  *Plan

	mu  sync.RWMutex
	run *domain.Run

	ctx           context.Context
	cancel        context.CancelCauseFunc
	cancelTimeout context.CancelFunc
	nodeBase      context.Context
	abortNodes    context.CancelFunc
	span          trace.Span

	results chan nodeMessage
	done    chan struct{}
	stopped atomic.Bool

	// loop-owned
	inflight  int
	seq       uint64
	stopCause error
	removed   map[string]bool
	outputs   map[string]map[string]any
}

func newExecution(m *Manager, run *domain.Run, req SubmitRequest, plan *Plan, link trace.Link) *execution {
	e := &execution{
		m:       m,
		req:     req,
		nodes:   make(map[string]domain.Node, len(req.Graph.Nodes)),
		order:   make([]string, 0, len(req.Graph.Nodes)),
		plan:    plan,
		run:     run,
		results: make(chan nodeMessage, 2*len(req.Graph.Nodes)),
		done:    make(chan struct{}),
		removed: make(map[string]bool),
		outputs: make(map[string]map[string]any, len(req.Graph.Nodes)),
	}
	for _, n := range req.Graph.Nodes {
		e.nodes[n.ID] = n
		e.order = append(e.order, n.ID)
	}

	spanCtx, span := m.tracer.Start(context.Background(), "workflow.run",
		trace.WithLinks(link),
		trace.WithAttributes(runAttributes(run)...))
	e.span = span

	base, cancel := context.WithCancelCause(spanCtx)
	e.cancel = cancel
	e.ctx, e.cancelTimeout = base, func() {}
	if m.cfg.GraphTimeout > 0 {
		e.ctx, e.cancelTimeout = context.WithTimeout(base, m.cfg.GraphTimeout)
	}

	// Running nodes survive an explicit cancel; they are only aborted on
	// timeout or shutdown.
	e.nodeBase, e.abortNodes = context.WithCancel(context.WithoutCancel(spanCtx))

	return e
}

func (e *execution) start() {
	go e.loop()
}

// stop requests the run to stop with the given cause. Safe from any goroutine.
func (e *execution) stop(cause error) {
	e.cancel(cause)
}

// snapshot returns a copy of the run safe to hand to callers.
func (e *execution) snapshot() *domain.Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.run.Clone()
}

func (e *execution) loop() {
	defer close(e.done)

	e.advance()
	for e.inflight > 0 {
		var stopCh <-chan struct{}
		if e.stopCause == nil {
			stopCh = e.ctx.Done()
		}

		select {
		case msg := <-e.results:
			e.handle(msg)
			e.advance()
		case <-stopCh:
			e.beginStop(context.Cause(e.ctx))
		}
	}

	e.finish()
}

// advance moves every idle node whose dependencies all completed to pending
// and queues it on the pool, walking the plan in layer order.
func (e *execution) advance() {
	if e.stopCause != nil {
		return
	}

	for _, layer := range e.plan.Layers {
		for _, id := range layer {
			if e.run.Nodes[id].Status != domain.NodeStatusIdle || !e.ready(id) {
				continue
			}

			e.transition(id, domain.NodeStatusPending, nil)

			upstream := make(map[string]map[string]any, len(e.plan.Dependencies[id]))
			for _, dep := range e.plan.Dependencies[id] {
				upstream[dep] = e.outputs[dep]
			}

			if err := e.m.pool.Submit(e.ctx, e.nodeTask(e.nodes[id], upstream)); err != nil {
				cause := context.Cause(e.ctx)
				if cause == nil {
					cause = errShutdown
				}
				e.m.logger.Warn("failed to schedule node",
					zap.String("run_id", e.run.ID),
					zap.String("node_id", id),
					zap.Error(err))
				e.transition(id, domain.NodeStatusSkipped, func(ns *domain.NodeState) {
					ns.Error = stopError(cause)
				})
				e.beginStop(cause)
				return
			}
			e.inflight++
		}
	}
}

func (e *execution) ready(nodeID string) bool {
	for _, dep := range e.plan.Dependencies[nodeID] {
		if e.run.Nodes[dep].Status != domain.NodeStatusCompleted {
			return false
		}
	}
	return true
}

func (e *execution) handle(msg nodeMessage) {
	switch msg.kind {
	case msgStarted:
		e.transition(msg.nodeID, domain.NodeStatusRunning, func(ns *domain.NodeState) {
			at := msg.at
			ns.StartedAt = &at
		})

	case msgAborted:
		e.inflight--
		// a task only aborts after a stop or when the pool is going away
		e.beginStop(errShutdown)
		e.transition(msg.nodeID, domain.NodeStatusSkipped, func(ns *domain.NodeState) {
			ns.Error = stopError(e.stopCause)
		})
		e.removeFromPlan(msg.nodeID)

	case msgFinished:
		e.inflight--
		node := e.nodes[msg.nodeID]
		e.m.metrics.RecordNodeFinished(node.Type, nodeStatusFor(msg.err), msg.duration)

		if msg.err == nil {
			e.outputs[msg.nodeID] = msg.result.Outputs
			e.transition(msg.nodeID, domain.NodeStatusCompleted, func(ns *domain.NodeState) {
				e.recordAttempt(ns, msg)
				ns.Cost = msg.result.Cost
				ns.Tokens = msg.result.Tokens
				ns.Output = msg.result.Outputs
			})
			return
		}

		e.m.logger.Info("node failed",
			zap.String("run_id", e.run.ID),
			zap.String("node_id", msg.nodeID),
			zap.String("kind", msg.err.Kind),
			zap.String("error", msg.err.Message),
			zap.Int("attempts", msg.attempts))

		e.transition(msg.nodeID, domain.NodeStatusFailed, func(ns *domain.NodeState) {
			e.recordAttempt(ns, msg)
			ns.Error = msg.err.NodeError()
			if msg.result != nil {
				ns.Cost = msg.result.Cost
				ns.Tokens = msg.result.Tokens
			}
		})
		e.skipDownstream(msg.nodeID)

		if msg.err.Kind == domain.ErrorKindQuotaExceeded {
			e.cancel(errQuotaStop)
			e.beginStop(errQuotaStop)
		}
	}
}

func (e *execution) recordAttempt(ns *domain.NodeState, msg nodeMessage) {
	at := msg.at
	ns.FinishedAt = &at
	ns.DurationMs = msg.duration.Milliseconds()
	ns.Attempts = msg.attempts
}

// skipDownstream marks every transitive dependent of a failed node skipped
// and drops them from the plan.
func (e *execution) skipDownstream(failedID string) {
	for _, id := range e.plan.Downstream(failedID) {
		if e.run.Nodes[id].Status != domain.NodeStatusIdle {
			continue
		}
		e.transition(id, domain.NodeStatusSkipped, func(ns *domain.NodeState) {
			ns.Error = &domain.NodeError{
				Kind:    domain.ErrorKindUpstream,
				Message: fmt.Sprintf("upstream node %s failed", failedID),
			}
		})
		e.removed[id] = true
	}
	e.removeFromPlan(failedID)
}

func (e *execution) removeFromPlan(nodeID string) {
	e.removed[nodeID] = true
	plan, err := e.plan.Without(e.removed)
	if err != nil {
		e.m.logger.Error("failed to recompute plan",
			zap.String("run_id", e.run.ID),
			zap.Error(err))
		return
	}
	e.plan = plan
}

// beginStop stops admission. Idle nodes are skipped now; queued nodes are
// skipped when their task notices the stop. Timeouts and shutdown also abort
// running nodes.
func (e *execution) beginStop(cause error) {
	if e.stopCause != nil {
		return
	}
	if cause == nil {
		cause = errRunCancelled
	}
	e.stopCause = cause
	e.stopped.Store(true)

	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, errShutdown) {
		e.abortNodes()
	}

	e.m.logger.Info("stopping run",
		zap.String("run_id", e.run.ID),
		zap.String("reason", cause.Error()),
		zap.Int("in_flight", e.inflight))

	for _, id := range e.order {
		if e.run.Nodes[id].Status != domain.NodeStatusIdle {
			continue
		}
		e.transition(id, domain.NodeStatusSkipped, func(ns *domain.NodeState) {
			ns.Error = stopError(cause)
		})
		e.removed[id] = true
	}
}

// transition applies one state change and publishes it. Illegal moves are
// refused and logged.
func (e *execution) transition(nodeID string, to domain.NodeStatus, mutate func(*domain.NodeState)) bool {
	e.mu.Lock()
	ns := e.run.Nodes[nodeID]
	from := ns.Status
	if !from.CanTransition(to) {
		e.mu.Unlock()
		e.m.logger.Error("illegal node transition",
			zap.String("run_id", e.run.ID),
			zap.String("node_id", nodeID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return false
	}

	costBefore, tokensBefore := ns.Cost, ns.Tokens
	ns.Status = to
	if mutate != nil {
		mutate(ns)
	}
	costDelta, tokensDelta := ns.Cost-costBefore, ns.Tokens-tokensBefore
	e.run.TotalCost += costDelta
	e.run.TotalTokens += tokensDelta

	e.seq++
	event := domain.RunEvent{
		RunID:       e.run.ID,
		Sequence:    e.seq,
		Type:        domain.EventTypeNodeTransition,
		NodeID:      nodeID,
		From:        from,
		To:          to,
		Timestamp:   time.Now().UTC(),
		CostDelta:   costDelta,
		TokensDelta: tokensDelta,
		TotalCost:   e.run.TotalCost,
		TotalTokens: e.run.TotalTokens,
	}
	if ns.Error != nil {
		errCopy := *ns.Error
		event.Error = &errCopy
	}
	e.mu.Unlock()

	e.m.publisher.Publish(e.run.ID, event)
	return true
}

func (e *execution) outcome() (domain.RunOutcome, string) {
	timedOut := errors.Is(e.stopCause, context.DeadlineExceeded)

	var firstFailed *domain.NodeState
	skipped := false
	for _, id := range e.order {
		ns := e.run.Nodes[id]
		switch ns.Status {
		case domain.NodeStatusFailed:
			if firstFailed == nil {
				firstFailed = ns
			}
		case domain.NodeStatusSkipped:
			skipped = true
		}
	}

	switch {
	case timedOut && (firstFailed != nil || skipped):
		return domain.RunOutcomeFailed, "execution timeout"
	case firstFailed != nil:
		return domain.RunOutcomeFailed, fmt.Sprintf("node %s failed: %s", firstFailed.NodeID, firstFailed.Error.Message)
	case skipped:
		return domain.RunOutcomeCancelled, e.stopCause.Error()
	default:
		return domain.RunOutcomeCompleted, ""
	}
}

func (e *execution) finish() {
	outcome, reason := e.outcome()
	now := time.Now().UTC()

	e.mu.Lock()
	e.run.Status = domain.RunStatusFinished
	e.run.Outcome = outcome
	e.run.Error = reason
	e.run.FinishedAt = &now
	e.seq++
	final := e.run.Clone()
	seq := e.seq
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := e.m.runs.SaveRun(ctx, final); err != nil {
		e.m.logger.Error("failed to save finished run",
			zap.String("run_id", final.ID),
			zap.Error(err))
	}
	cancel()

	e.m.publisher.Publish(final.ID, domain.RunEvent{
		RunID:       final.ID,
		Sequence:    seq,
		Type:        domain.EventTypeRunFinished,
		Timestamp:   now,
		TotalCost:   final.TotalCost,
		TotalTokens: final.TotalTokens,
		Outcome:     outcome,
	})
	e.m.publisher.Close(final.ID)

	e.span.SetAttributes(
		attribute.String("nodeai.outcome", string(outcome)),
		attribute.Float64("nodeai.total_cost", final.TotalCost),
		attribute.Int64("nodeai.total_tokens", final.TotalTokens))
	if outcome == domain.RunOutcomeFailed {
		e.span.SetStatus(codes.Error, reason)
	}
	e.span.End()

	e.cancelTimeout()
	e.cancel(context.Canceled)
	e.abortNodes()

	e.m.finished(e, final)

	e.m.logger.Info("run finished",
		zap.String("run_id", final.ID),
		zap.String("workflow_id", final.WorkflowID),
		zap.String("outcome", string(outcome)),
		zap.String("error", reason),
		zap.Float64("total_cost", final.TotalCost),
		zap.Int64("total_tokens", final.TotalTokens),
		zap.Duration("duration", now.Sub(final.StartedAt)))
}

func stopError(cause error) *domain.NodeError {
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		return &domain.NodeError{Kind: domain.ErrorKindTimeout, Message: "execution timeout"}
	case errors.Is(cause, errQuotaStop):
		return &domain.NodeError{Kind: domain.ErrorKindQuotaExceeded, Message: "run stopped: quota exhausted"}
	default:
		return &domain.NodeError{Kind: domain.ErrorKindCancelled, Message: cause.Error()}
	}
}

func nodeStatusFor(err *domain.ExecutorError) string {
	if err == nil {
		return string(domain.NodeStatusCompleted)
	}
	return string(domain.NodeStatusFailed)
}
