package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mettice/nodeai/pkg/domain"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeError maps a domain error onto its HTTP status and error code.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		validationErr *domain.ValidationError
		quotaErr      *domain.QuotaExceededError
	)

	switch {
	case errors.As(err, &validationErr):
		abortWithError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), validationErr.Issues)
	case errors.As(err, &quotaErr):
		if quotaErr.Decision.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(quotaErr.Decision.RetryAfter.Seconds()))))
		}
		abortWithError(c, http.StatusTooManyRequests, "QUOTA_EXCEEDED", err.Error(), gin.H{
			"reason":              quotaErr.Decision.Reason,
			"retry_after_seconds": int(math.Ceil(quotaErr.Decision.RetryAfter.Seconds())),
		})
	case errors.Is(err, domain.ErrInvalidCredential):
		abortWithError(c, http.StatusUnauthorized, "INVALID_CREDENTIAL", err.Error(), nil)
	case errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrVersionNotFound),
		errors.Is(err, domain.ErrNotDeployed),
		errors.Is(err, domain.ErrCredentialNotFound),
		errors.Is(err, domain.ErrWebhookNotFound):
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrNotRollbackable):
		abortWithError(c, http.StatusConflict, "NOT_ROLLBACKABLE", err.Error(), nil)
	case errors.Is(err, domain.ErrDeploymentConflict):
		abortWithError(c, http.StatusConflict, "DEPLOYMENT_CONFLICT", err.Error(), nil)
	case errors.Is(err, domain.ErrRunFinished):
		abortWithError(c, http.StatusConflict, "RUN_FINISHED", err.Error(), nil)
	default:
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
	}
}

func (s *Server) badRequest(c *gin.Context, err error) {
	abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
}
