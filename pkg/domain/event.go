package domain

import "time"

// EventType distinguishes node transitions from the terminal run event.
type EventType string

const (
	EventTypeNodeTransition EventType = "node_transition"
	EventTypeRunFinished    EventType = "run_finished"
)

// RunEvent is a single status change pushed to observers of a run.
type RunEvent struct {
	RunID       string     `json:"run_id"`
	Sequence    uint64     `json:"sequence"`
	Type        EventType  `json:"type"`
	NodeID      string     `json:"node_id,omitempty"`
	From        NodeStatus `json:"from_state,omitempty"`
	To          NodeStatus `json:"to_state,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	CostDelta   float64    `json:"cost_delta,omitempty"`
	TokensDelta int64      `json:"tokens_delta,omitempty"`
	Error       *NodeError `json:"error,omitempty"`
	TotalCost   float64    `json:"total_cost"`
	TotalTokens int64      `json:"total_tokens"`
	Outcome     RunOutcome `json:"outcome,omitempty"`
}

// RunSnapshot is the current per-node state of a run, delivered before live events.
type RunSnapshot struct {
	RunID       string                `json:"run_id"`
	WorkflowID  string                `json:"workflow_id"`
	Status      RunStatus             `json:"status"`
	Outcome     RunOutcome            `json:"outcome,omitempty"`
	Nodes       map[string]NodeStatus `json:"nodes"`
	TotalCost   float64               `json:"total_cost"`
	TotalTokens int64                 `json:"total_tokens"`
	Sequence    uint64                `json:"sequence"`
}

// Apply folds an event into the snapshot.
func (s *RunSnapshot) Apply(ev RunEvent) {
	if ev.Sequence > s.Sequence {
		s.Sequence = ev.Sequence
	}
	s.TotalCost = ev.TotalCost
	s.TotalTokens = ev.TotalTokens
	switch ev.Type {
	case EventTypeNodeTransition:
		if s.Nodes == nil {
			s.Nodes = make(map[string]NodeStatus)
		}
		s.Nodes[ev.NodeID] = ev.To
	case EventTypeRunFinished:
		s.Status = RunStatusFinished
		s.Outcome = ev.Outcome
	}
}

// Clone copies the snapshot including its node map.
func (s RunSnapshot) Clone() RunSnapshot {
	nodes := make(map[string]NodeStatus, len(s.Nodes))
	for k, v := range s.Nodes {
		nodes[k] = v
	}
	s.Nodes = nodes
	return s
}
