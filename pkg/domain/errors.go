package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrRunFinished        = errors.New("run already finished")
	ErrVersionNotFound    = errors.New("deployment version not found")
	ErrNotDeployed        = errors.New("workflow has no active deployment")
	ErrNotRollbackable    = errors.New("deployment version is not rollbackable")
	ErrDeployFailed       = errors.New("deployment failed")
	ErrDeploymentConflict = errors.New("concurrent deployment change, reload and retry")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrWebhookNotFound    = errors.New("webhook not found")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrExecutorNotFound   = errors.New("no executor registered for node type")
	ErrSubscriberOverflow = errors.New("subscriber buffer overflow, resubscribe")
)

// Validation issue codes.
const (
	IssueEmptyGraph    = "empty_graph"
	IssueMissingNodeID = "missing_node_id"
	IssueDuplicateNode = "duplicate_node"
	IssueDanglingEdge  = "dangling_edge"
	IssueCycleDetected = "cycle_detected"
)

// ValidationIssue is one structural problem found in a graph.
type ValidationIssue struct {
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	EdgeID        string   `json:"edge_id,omitempty"`
	NodeID        string   `json:"node_id,omitempty"`
	MissingNodeID string   `json:"missing_node_id,omitempty"`
	Path          []string `json:"path,omitempty"`
}

// ValidationError rejects a graph before any execution.
type ValidationError struct {
	Issues []ValidationIssue `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return "graph validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether an issue with the given code is present.
func (e *ValidationError) Has(code string) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// Executor error kinds.
const (
	ErrorKindExecutor      = "executor"
	ErrorKindTimeout       = "timeout"
	ErrorKindQuotaExceeded = "quota_exceeded"
	ErrorKindCancelled     = "cancelled"
	ErrorKindPanic         = "panic"
	ErrorKindNotFound      = "not_found"
	ErrorKindUpstream      = "upstream_failed"
)

// ExecutorError is the normalised form of every node-level failure.
type ExecutorError struct {
	Kind      string
	Message   string
	Retryable bool
	Err       error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// NodeError converts the error into the record kept on the node state.
func (e *ExecutorError) NodeError() *NodeError {
	return &NodeError{Kind: e.Kind, Message: e.Message, Retryable: e.Retryable}
}

// RetryableError marks an executor failure as safe to attempt once more.
func RetryableError(err error) error {
	return &ExecutorError{Kind: ErrorKindExecutor, Message: err.Error(), Retryable: true, Err: err}
}

// QuotaExceededError is returned when a quota check denies a request.
type QuotaExceededError struct {
	SubjectID string
	Decision  QuotaDecision
}

func (e *QuotaExceededError) Error() string {
	if e.Decision.RetryAfter > 0 {
		return fmt.Sprintf("quota exceeded for %s: %s (retry after %s)",
			e.SubjectID, e.Decision.Reason, e.Decision.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("quota exceeded for %s: %s", e.SubjectID, e.Decision.Reason)
}
