package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mettice/nodeai/internal/application/gateway"
	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/pkg/domain"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// SubmitRunRequest represents an ad-hoc run submission
type SubmitRunRequest struct {
	Graph  *domain.WorkflowGraph `json:"graph" binding:"required"`
	Inputs map[string]any        `json:"inputs"`
}

// RunAccepted is returned when a run has been started
type RunAccepted struct {
	RunID         string           `json:"run_id"`
	WorkflowID    string           `json:"workflow_id"`
	VersionNumber int              `json:"version_number,omitempty"`
	Status        domain.RunStatus `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
}

// ValidateGraphResponse describes a valid graph and its execution layers
type ValidateGraphResponse struct {
	Valid  bool       `json:"valid"`
	Layers [][]string `json:"layers"`
}

// handleHealth reports worker pool health
func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.pool == nil {
		c.JSON(http.StatusOK, status)
		return
	}

	pool := s.pool.Health().GetStatus()
	status["workers"] = pool
	if !pool.Healthy {
		status["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleValidateGraph validates a graph without running it
func (s *Server) handleValidateGraph(c *gin.Context) {
	var graph domain.WorkflowGraph
	if err := c.ShouldBindJSON(&graph); err != nil {
		s.badRequest(c, err)
		return
	}

	if err := s.graphs.Validate(&graph); err != nil {
		s.writeError(c, err)
		return
	}
	plan, err := orchestrator.BuildPlan(&graph)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ValidateGraphResponse{Valid: true, Layers: plan.Layers})
}

// handleSubmitRun starts an ad-hoc run, metered when X-API-Key is present
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	inv, err := s.gateway.SubmitGraph(c.Request.Context(), c.GetHeader(headerAPIKey), req.Graph, req.Inputs)
	s.respondInvocation(c, inv, err)
}

// respondInvocation writes rate-limit headers and either the error or 202.
func (s *Server) respondInvocation(c *gin.Context, inv *gateway.Invocation, err error) {
	if inv != nil {
		setRateLimitHeaders(c, inv.Decision)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	accepted := RunAccepted{
		RunID:      inv.Run.ID,
		WorkflowID: inv.Run.WorkflowID,
		Status:     inv.Run.Status,
		StartedAt:  inv.Run.StartedAt,
	}
	if inv.Version != nil {
		accepted.VersionNumber = inv.Version.VersionNumber
	}

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, accepted)
		return
	}

	run, err := s.runs.Wait(c.Request.Context(), inv.Run.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleGetRun returns the current state of a run
func (s *Server) handleGetRun(c *gin.Context) {
	runID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	run, err := s.runs.Get(c.Request.Context(), runID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleCancelRun stops admitting nodes for a run
func (s *Server) handleCancelRun(c *gin.Context) {
	runID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	if err := s.runs.Cancel(c.Request.Context(), runID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":       runID,
		"status":       "cancelling",
		"requested_at": time.Now().UTC(),
	})
}

// handleListRuns lists the newest runs of a workflow
func (s *Server) handleListRuns(c *gin.Context) {
	workflowID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), workflowID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
		"limit": limit,
	})
}

// handleStreamRun streams a run as server-sent events: one "snapshot" event
// followed by every later event.
func (s *Server) handleStreamRun(c *gin.Context) {
	runID, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sub, err := s.events.Subscribe(ctx, runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		// The broker forgets finished runs; serve their final state instead.
		run, getErr := s.runs.Get(ctx, runID)
		if getErr != nil {
			s.writeError(c, getErr)
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.SSEvent("snapshot", run.Snapshot(0))
		c.Writer.Flush()
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer sub.Cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("snapshot", sub.Snapshot)
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events:
			if !open {
				if err := sub.Err(); err != nil {
					s.logger.Warn("stream subscriber dropped",
						zap.String("run_id", runID),
						zap.Error(err))
					c.SSEvent("error", ErrorDetail{Code: "SUBSCRIBER_OVERFLOW", Message: err.Error()})
					c.Writer.Flush()
				}
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		}
	}
}

// handleRunHistory returns the mirrored events of a run
func (s *Server) handleRunHistory(c *gin.Context) {
	runID, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	if s.history == nil {
		abortWithError(c, http.StatusServiceUnavailable, "HISTORY_NOT_AVAILABLE",
			"event history requires the Redis event mirror", nil)
		return
	}

	events, err := s.history.History(c.Request.Context(), runID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(events) == 0 {
		if _, err := s.runs.Get(c.Request.Context(), runID); err != nil {
			s.writeError(c, err)
			return
		}
	}
	if events == nil {
		events = []domain.RunEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"run_id": runID, "events": events})
}

// handleListWorkers reports the state of every pool worker
func (s *Server) handleListWorkers(c *gin.Context) {
	if s.pool == nil {
		abortWithError(c, http.StatusServiceUnavailable, "POOL_NOT_AVAILABLE", "worker pool is not configured", nil)
		return
	}

	status := s.pool.Health().GetStatus()
	c.JSON(http.StatusOK, gin.H{
		"data":      s.pool.Workers(),
		"summary":   status,
		"timestamp": time.Now().UTC(),
	})
}
