package domain

import "time"

// NodeStatus is the state of a node inside one run.
type NodeStatus string

const (
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusIdle:    {NodeStatusPending, NodeStatusSkipped},
	NodeStatusPending: {NodeStatusRunning, NodeStatusSkipped},
	NodeStatusRunning: {NodeStatusCompleted, NodeStatusFailed},
}

// CanTransition reports whether moving from s to next is a legal state change.
func (s NodeStatus) CanTransition(next NodeStatus) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// RunStatus is the lifecycle of a run as a whole.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
)

// RunOutcome is the terminal result of a run.
type RunOutcome string

const (
	RunOutcomeCompleted RunOutcome = "completed"
	RunOutcomeFailed    RunOutcome = "failed"
	RunOutcomeCancelled RunOutcome = "cancelled"
)

// TriggerKind identifies how a run was started.
type TriggerKind string

const (
	TriggerManual  TriggerKind = "manual"
	TriggerAPIKey  TriggerKind = "api_key"
	TriggerWebhook TriggerKind = "webhook"
)

// NodeState is the per-node record kept on a run.
type NodeState struct {
	NodeID     string         `json:"node_id"`
	Type       string         `json:"type"`
	Status     NodeStatus     `json:"status"`
	Error      *NodeError     `json:"error,omitempty"`
	Cost       float64        `json:"cost"`
	Tokens     int64          `json:"tokens"`
	DurationMs int64          `json:"duration_ms"`
	Attempts   int            `json:"attempts"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

// NodeError is the reason attached to every node that did not complete.
type NodeError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Run is one execution attempt of a workflow graph.
type Run struct {
	ID          string                `json:"run_id"`
	WorkflowID  string                `json:"workflow_id"`
	VersionID   string                `json:"version_id,omitempty"`
	Trigger     TriggerKind           `json:"trigger"`
	SubjectID   string                `json:"subject_id,omitempty"`
	Status      RunStatus             `json:"status"`
	Outcome     RunOutcome            `json:"outcome,omitempty"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
	Nodes       map[string]*NodeState `json:"nodes"`
	TotalCost   float64               `json:"total_cost"`
	TotalTokens int64                 `json:"total_tokens"`
}

// IsFinished reports whether the run reached a terminal outcome.
func (r *Run) IsFinished() bool {
	return r.Status == RunStatusFinished
}

// Clone returns a deep copy safe to hand to readers outside the orchestrator.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	out.Nodes = make(map[string]*NodeState, len(r.Nodes))
	for id, ns := range r.Nodes {
		c := *ns
		if ns.Error != nil {
			e := *ns.Error
			c.Error = &e
		}
		c.Output = copyMap(ns.Output)
		out.Nodes[id] = &c
	}
	return &out
}

// Snapshot reduces the run to the view sent to a new subscriber.
func (r *Run) Snapshot(sequence uint64) RunSnapshot {
	nodes := make(map[string]NodeStatus, len(r.Nodes))
	for id, ns := range r.Nodes {
		nodes[id] = ns.Status
	}
	return RunSnapshot{
		RunID:       r.ID,
		WorkflowID:  r.WorkflowID,
		Status:      r.Status,
		Outcome:     r.Outcome,
		Nodes:       nodes,
		TotalCost:   r.TotalCost,
		TotalTokens: r.TotalTokens,
		Sequence:    sequence,
	}
}
