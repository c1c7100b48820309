package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/internal/application/quota"
	"github.com/mettice/nodeai/internal/application/workers"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// QuotaReserver holds and settles predicted cost for billed node calls.
type QuotaReserver interface {
	Reserve(ctx context.Context, subject *domain.QuotaSubject, predictedCost float64) (*quota.Reservation, error)
	Settle(ctx context.Context, res *quota.Reservation, actualCost float64) error
	Charge(ctx context.Context, subject *domain.QuotaSubject, cost float64) error
}

// OutcomeRecorder receives the result of every run made against a deployed version.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, versionID string, result domain.RunResult) error
}

// TaskSubmitter queues node tasks on the worker pool.
type TaskSubmitter interface {
	Submit(ctx context.Context, task workers.Task) error
}

// Config holds orchestrator limits.
type Config struct {
	GraphTimeout time.Duration
	NodeTimeout  time.Duration
	MaxRetries   int
}

// SubmitRequest describes one run.
type SubmitRequest struct {
	Graph     *domain.WorkflowGraph
	Inputs    map[string]any
	VersionID string
	Subject   *domain.QuotaSubject
	Trigger   domain.TriggerKind
}

var (
	errRunCancelled = errors.New("run cancelled")
	errShutdown     = errors.New("orchestrator shutting down")
	errQuotaStop    = errors.New("quota exhausted")
)

// Manager coordinates graph execution
type Manager struct {
	validator *Validator
	registry  *executors.Registry
	pool      TaskSubmitter
	publisher ports.EventPublisher
	runs      ports.RunRepository
	quota     QuotaReserver
	outcomes  OutcomeRecorder
	metrics   ports.MetricsCollector
	tracer    trace.Tracer
	logger    *zap.Logger
	cfg       Config

	executions sync.Map // map[string]*execution
	active     atomic.Int64
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithOutcomeRecorder reports finished deployed runs to r.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(m *Manager) { m.outcomes = r }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a new orchestrator manager
func NewManager(
	validator *Validator,
	registry *executors.Registry,
	pool TaskSubmitter,
	publisher ports.EventPublisher,
	runs ports.RunRepository,
	quotas QuotaReserver,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	cfg Config,
	opts ...Option,
) *Manager {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	m := &Manager{
		validator: validator,
		registry:  registry,
		pool:      pool,
		publisher: publisher,
		runs:      runs,
		quota:     quotas,
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/mettice/nodeai/orchestrator"),
		logger:    logger,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit validates the graph, persists a new run and starts executing it in
// the background. It returns as soon as the run is registered. Validation
// failures return *domain.ValidationError and leave no trace.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.Run, error) {
	if err := m.validator.Validate(req.Graph); err != nil {
		m.logger.Info("graph validation failed",
			zap.String("workflow_id", graphID(req.Graph)),
			zap.Error(err))
		return nil, err
	}

	plan, err := BuildPlan(req.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to plan graph: %w", err)
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	run := &domain.Run{
		ID:         uuid.New().String(),
		WorkflowID: req.Graph.ID,
		VersionID:  req.VersionID,
		Trigger:    trigger,
		Status:     domain.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
		Nodes:      make(map[string]*domain.NodeState, len(req.Graph.Nodes)),
	}
	if req.Subject != nil {
		run.SubjectID = req.Subject.ID
	}
	for _, n := range req.Graph.Nodes {
		run.Nodes[n.ID] = &domain.NodeState{NodeID: n.ID, Type: n.Type, Status: domain.NodeStatusIdle}
	}

	if err := m.runs.SaveRun(ctx, run); err != nil {
		m.logger.Error("failed to save initial run",
			zap.String("run_id", run.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	exec := newExecution(m, run, req, plan, trace.LinkFromContext(ctx))
	m.executions.Store(run.ID, exec)
	m.publisher.Open(run.ID, run.Snapshot(0))

	m.metrics.RecordRunSubmitted(string(trigger))
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	m.logger.Info("run submitted",
		zap.String("run_id", run.ID),
		zap.String("workflow_id", run.WorkflowID),
		zap.String("version_id", run.VersionID),
		zap.String("trigger", string(trigger)),
		zap.Int("nodes", len(run.Nodes)),
		zap.Int("layers", len(plan.Layers)))

	// the loop owns run once started
	submitted := run.Clone()
	exec.start()

	return submitted, nil
}

// Get returns the current state of a run.
func (m *Manager) Get(ctx context.Context, runID string) (*domain.Run, error) {
	if exec, ok := m.execution(runID); ok {
		return exec.snapshot(), nil
	}
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Wait blocks until the run finishes or ctx is done and returns its state.
func (m *Manager) Wait(ctx context.Context, runID string) (*domain.Run, error) {
	if exec, ok := m.execution(runID); ok {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Get(ctx, runID)
}

// ListRuns returns the most recent runs of a workflow with live state for
// runs still executing.
func (m *Manager) ListRuns(ctx context.Context, workflowID string, limit int) ([]*domain.Run, error) {
	runs, err := m.runs.ListRuns(ctx, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	for i, run := range runs {
		if exec, ok := m.execution(run.ID); ok {
			runs[i] = exec.snapshot()
		}
	}
	return runs, nil
}

// Cancel stops admitting new nodes for a run. Running nodes finish or time
// out; idle and pending nodes are skipped.
func (m *Manager) Cancel(ctx context.Context, runID string) error {
	exec, ok := m.execution(runID)
	if !ok {
		if _, err := m.runs.GetRun(ctx, runID); err != nil {
			return err
		}
		return domain.ErrRunFinished
	}

	exec.stop(errRunCancelled)
	m.logger.Info("run cancellation requested", zap.String("run_id", runID))
	return nil
}

// Shutdown stops every active run and waits for them to be recorded.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	var pending []*execution
	m.executions.Range(func(_, value any) bool {
		exec := value.(*execution)
		exec.stop(errShutdown)
		exec.abortNodes()
		pending = append(pending, exec)
		return true
	})

	for _, exec := range pending {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout with %d active runs: %w", m.active.Load(), ctx.Err())
		}
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

func (m *Manager) execution(runID string) (*execution, bool) {
	v, ok := m.executions.Load(runID)
	if !ok {
		return nil, false
	}
	return v.(*execution), true
}

// finished is called by an execution after its final state is persisted.
func (m *Manager) finished(exec *execution, run *domain.Run) {
	m.executions.Delete(run.ID)
	m.metrics.SetActiveRuns(int(m.active.Add(-1)))

	duration := run.FinishedAt.Sub(run.StartedAt)
	m.metrics.RecordRunFinished(string(run.Outcome), duration, run.TotalCost, run.TotalTokens)

	if run.VersionID == "" || m.outcomes == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.outcomes.RecordOutcome(ctx, run.VersionID, domain.RunResult{
		RunID:      run.ID,
		Success:    run.Outcome == domain.RunOutcomeCompleted,
		DurationMs: duration.Milliseconds(),
		Cost:       run.TotalCost,
	})
	if err != nil {
		m.logger.Error("failed to record deployment outcome",
			zap.String("run_id", run.ID),
			zap.String("version_id", run.VersionID),
			zap.Error(err))
	}
}

func (m *Manager) nodeTimeout(node domain.Node) time.Duration {
	if node.TimeoutSeconds > 0 {
		return time.Duration(node.TimeoutSeconds) * time.Second
	}
	return m.cfg.NodeTimeout
}

func graphID(g *domain.WorkflowGraph) string {
	if g == nil {
		return ""
	}
	return g.ID
}

func runAttributes(run *domain.Run) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("nodeai.run_id", run.ID),
		attribute.String("nodeai.workflow_id", run.WorkflowID),
		attribute.String("nodeai.trigger", string(run.Trigger)),
		attribute.Int("nodeai.nodes", len(run.Nodes)),
	}
}
