package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mettice/nodeai/internal/application/credentials"
	"github.com/mettice/nodeai/pkg/domain"
)

// CreateKeyRequest issues an API key, optionally bound to one workflow
type CreateKeyRequest struct {
	WorkflowID string   `json:"workflow_id" binding:"omitempty,identifier"`
	Name       string   `json:"name" binding:"max=128"`
	RateLimit  *int64   `json:"rate_limit" binding:"omitempty,min=0"`
	CostLimit  *float64 `json:"cost_limit" binding:"omitempty,min=0"`
}

// CreateKeyResponse carries the plaintext key, shown exactly once
type CreateKeyResponse struct {
	*domain.Credential
	APIKey string `json:"api_key"`
}

// CreateWebhookRequest registers a webhook for a deployed workflow
type CreateWebhookRequest struct {
	WorkflowID string   `json:"workflow_id" binding:"required,identifier"`
	RateLimit  *int64   `json:"rate_limit" binding:"omitempty,min=0"`
	CostLimit  *float64 `json:"cost_limit" binding:"omitempty,min=0"`
}

// CreateWebhookResponse carries the shared secret, shown exactly once
type CreateWebhookResponse struct {
	*domain.Webhook
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

func (s *Server) handleCreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	cred, plaintext, err := s.credentials.CreateKey(c.Request.Context(), credentials.KeyRequest{
		WorkflowID: req.WorkflowID,
		Name:       req.Name,
		RateLimit:  req.RateLimit,
		CostLimit:  req.CostLimit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateKeyResponse{Credential: cred, APIKey: plaintext})
}

func (s *Server) handleKeyUsage(c *gin.Context) {
	keyID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	usage, err := s.gateway.KeyUsage(c.Request.Context(), keyID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) handleRevokeKey(c *gin.Context) {
	keyID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	if err := s.credentials.RevokeKey(c.Request.Context(), keyID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	hook, secret, err := s.credentials.CreateWebhook(c.Request.Context(), credentials.WebhookRequest{
		WorkflowID: req.WorkflowID,
		RateLimit:  req.RateLimit,
		CostLimit:  req.CostLimit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateWebhookResponse{
		Webhook: hook,
		Secret:  secret,
		URL:     "/api/v1/hooks/" + hook.ID,
	})
}

func (s *Server) handleWebhookUsage(c *gin.Context) {
	webhookID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	usage, err := s.gateway.WebhookUsage(c.Request.Context(), webhookID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// handleInvokeWebhook triggers the webhook's workflow. The JSON body becomes
// the run inputs.
func (s *Server) handleInvokeWebhook(c *gin.Context) {
	webhookID, ok := s.pathID(c, "id")
	if !ok {
		return
	}

	secret := c.GetHeader(headerWebhookSecret)
	if secret == "" {
		abortWithError(c, http.StatusUnauthorized, "INVALID_CREDENTIAL", "missing "+headerWebhookSecret+" header", nil)
		return
	}

	var inputs map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&inputs); err != nil {
			s.badRequest(c, err)
			return
		}
	}

	inv, err := s.gateway.InvokeWebhook(c.Request.Context(), webhookID, secret, inputs)
	s.respondInvocation(c, inv, err)
}
