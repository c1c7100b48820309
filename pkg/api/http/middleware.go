package http

import (
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mettice/nodeai/pkg/domain"
	"go.uber.org/zap"
)

const (
	headerAPIKey        = "X-API-Key"
	headerWebhookSecret = "X-Webhook-Secret"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// newValidator returns the validator used for path parameters. It shares the
// "identifier" rule with request bodies.
func newValidator() *validator.Validate {
	v := validator.New()
	registerIdentifier(v)
	return v
}

func registerIdentifier(v *validator.Validate) {
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
}

// pathID validates a path parameter as an identifier and aborts with 400 otherwise.
func (s *Server) pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if err := s.validate.Var(id, "required,identifier"); err != nil {
		abortWithError(c, 400, "INVALID_REQUEST", "invalid "+name, nil)
		return "", false
	}
	return id, true
}

// corsMiddleware allows browser dashboards on other origins
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-API-Key, X-Webhook-Secret")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// setRateLimitHeaders echoes the rate window of a quota decision.
func setRateLimitHeaders(c *gin.Context, decision *domain.QuotaDecision) {
	if decision == nil || decision.Limit == 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}
