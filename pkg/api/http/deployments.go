package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mettice/nodeai/pkg/domain"
)

// DeployRequest creates a new version of a workflow
type DeployRequest struct {
	Graph       *domain.WorkflowGraph `json:"graph" binding:"required"`
	Description string                `json:"description" binding:"max=1024"`
}

// RollbackRequest selects the version to make active
type RollbackRequest struct {
	VersionNumber int `json:"version_number" binding:"required,min=1"`
}

// QueryRequest invokes a deployed workflow
type QueryRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// handleDeploy snapshots a graph as the next version of a workflow
func (s *Server) handleDeploy(c *gin.Context) {
	workflowID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	var req DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	version, err := s.deployments.Deploy(c.Request.Context(), workflowID, req.Graph, req.Description)
	if errors.Is(err, domain.ErrDeployFailed) && version != nil {
		abortWithError(c, http.StatusUnprocessableEntity, "DEPLOY_FAILED", version.FailureReason, version)
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, version)
}

// handleListDeployments lists every version, newest first
func (s *Server) handleListDeployments(c *gin.Context) {
	workflowID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	versions, err := s.deployments.ListVersions(c.Request.Context(), workflowID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if versions == nil {
		versions = []*domain.DeploymentVersion{}
	}

	c.JSON(http.StatusOK, gin.H{
		"workflow_id": workflowID,
		"versions":    versions,
		"total":       len(versions),
	})
}

// handleRollback makes an earlier version active
func (s *Server) handleRollback(c *gin.Context) {
	workflowID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	version, err := s.deployments.Rollback(c.Request.Context(), workflowID, req.VersionNumber)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// handleWorkflowHealth reports the health of the active version
func (s *Server) handleWorkflowHealth(c *gin.Context) {
	workflowID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	report, err := s.deployments.Health(c.Request.Context(), workflowID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleQueryWorkflow runs the active version on behalf of an API key
func (s *Server) handleQueryWorkflow(c *gin.Context) {
	workflowID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	apiKey := c.GetHeader(headerAPIKey)
	if apiKey == "" {
		abortWithError(c, http.StatusUnauthorized, "INVALID_CREDENTIAL", "missing "+headerAPIKey+" header", nil)
		return
	}

	var req QueryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}

	inv, err := s.gateway.InvokeWithKey(c.Request.Context(), apiKey, workflowID, req.Inputs)
	s.respondInvocation(c, inv, err)
}
