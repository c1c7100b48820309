package domain

import "time"

// VersionStatus is the lifecycle state of a deployment version.
type VersionStatus string

const (
	VersionStatusActive     VersionStatus = "active"
	VersionStatusInactive   VersionStatus = "inactive"
	VersionStatusRolledBack VersionStatus = "rolled_back"
	VersionStatusFailed     VersionStatus = "failed"
)

// VersionHealth holds additive counters for runs served by a version.
type VersionHealth struct {
	TotalQueries      int64   `json:"total_queries"`
	SuccessfulQueries int64   `json:"successful_queries"`
	TotalResponseMs   int64   `json:"total_response_ms"`
	TotalCost         float64 `json:"total_cost"`
}

// AvgResponseTimeMs is derived from the running sum so updates stay O(1).
func (h VersionHealth) AvgResponseTimeMs() float64 {
	if h.TotalQueries == 0 {
		return 0
	}
	return float64(h.TotalResponseMs) / float64(h.TotalQueries)
}

// SuccessRate returns the share of successful queries, or 1 with no traffic.
func (h VersionHealth) SuccessRate() float64 {
	if h.TotalQueries == 0 {
		return 1
	}
	return float64(h.SuccessfulQueries) / float64(h.TotalQueries)
}

// DeploymentVersion is an immutable, numbered snapshot of a deployed workflow.
type DeploymentVersion struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	VersionNumber int            `json:"version_number"`
	Status        VersionStatus  `json:"status"`
	Graph         *WorkflowGraph `json:"graph,omitempty"`
	Description   string         `json:"description,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	DeployedAt    time.Time      `json:"deployed_at"`
	RolledBackAt  *time.Time     `json:"rolled_back_at,omitempty"`
	Health        VersionHealth  `json:"rolling_health"`
}

// Clone copies the version, including its graph.
func (v *DeploymentVersion) Clone() *DeploymentVersion {
	if v == nil {
		return nil
	}
	out := *v
	out.Graph = v.Graph.Clone()
	if v.RolledBackAt != nil {
		t := *v.RolledBackAt
		out.RolledBackAt = &t
	}
	return &out
}

// StatusChange is one status update applied as part of a deploy or rollback.
type StatusChange struct {
	VersionID    string
	Status       VersionStatus
	RolledBackAt *time.Time
}

// RunResult is what the orchestrator reports about a finished run.
type RunResult struct {
	RunID      string
	Success    bool
	DurationMs int64
	Cost       float64
}

// HealthStatus is the aggregate health of a workflow's deployment.
type HealthStatus string

const (
	HealthNotDeployed HealthStatus = "not_deployed"
	HealthHealthy     HealthStatus = "healthy"
	HealthUnhealthy   HealthStatus = "unhealthy"
)

// HealthReport describes the active version's health for a workflow.
type HealthReport struct {
	WorkflowID        string       `json:"workflow_id"`
	Status            HealthStatus `json:"status"`
	ActiveVersion     int          `json:"active_version,omitempty"`
	ActiveVersionID   string       `json:"active_version_id,omitempty"`
	Threshold         float64      `json:"threshold"`
	SuccessRate       float64      `json:"success_rate"`
	RecentSuccessRate float64      `json:"recent_success_rate"`
	RecentSamples     int          `json:"recent_samples"`
	TotalQueries      int64        `json:"total_queries"`
	SuccessfulQueries int64        `json:"successful_queries"`
	AvgResponseTimeMs float64      `json:"avg_response_time_ms"`
	TotalCost         float64      `json:"total_cost"`
}
