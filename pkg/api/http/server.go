package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/mettice/nodeai/internal/application/credentials"
	"github.com/mettice/nodeai/internal/application/deployment"
	"github.com/mettice/nodeai/internal/application/gateway"
	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/internal/application/workers"
	"github.com/mettice/nodeai/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StreamHandler serves the WebSocket view of a run.
type StreamHandler interface {
	HandleRunStream(c *gin.Context)
}

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	validate *validator.Validate

	runs        *orchestrator.Manager
	graphs      *orchestrator.Validator
	deployments *deployment.Manager
	credentials *credentials.Service
	gateway     *gateway.Gateway
	events      ports.EventPublisher
	history     ports.EventHistory
	pool        *workers.Pool
	logger      *zap.Logger
}

// Config holds HTTP server configuration. History, Pool, Gatherer and
// Stream are optional.
type Config struct {
	Port        int
	Runs        *orchestrator.Manager
	Validator   *orchestrator.Validator
	Deployments *deployment.Manager
	Credentials *credentials.Service
	Gateway     *gateway.Gateway
	Events      ports.EventPublisher
	History     ports.EventHistory
	Pool        *workers.Pool
	Gatherer    prometheus.Gatherer
	Stream      StreamHandler
	Logger      *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		registerIdentifier(v)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:      router,
		validate:    newValidator(),
		runs:        cfg.Runs,
		graphs:      cfg.Validator,
		deployments: cfg.Deployments,
		credentials: cfg.Credentials,
		gateway:     cfg.Gateway,
		events:      cfg.Events,
		history:     cfg.History,
		pool:        cfg.Pool,
		logger:      cfg.Logger,
	}

	s.setupRoutes(cfg.Gatherer, cfg.Stream)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer, stream StreamHandler) {
	s.router.GET("/health", s.handleHealth)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/graphs/validate", s.handleValidateGraph)

		v1.POST("/runs", s.handleSubmitRun)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.POST("/runs/:id/cancel", s.handleCancelRun)
		v1.GET("/runs/:id/stream", s.handleStreamRun)
		v1.GET("/runs/:id/history", s.handleRunHistory)
		if stream != nil {
			v1.GET("/runs/:id/ws", stream.HandleRunStream)
		}

		v1.POST("/workflows/:id/deployments", s.handleDeploy)
		v1.GET("/workflows/:id/deployments", s.handleListDeployments)
		v1.POST("/workflows/:id/rollback", s.handleRollback)
		v1.GET("/workflows/:id/health", s.handleWorkflowHealth)
		v1.GET("/workflows/:id/runs", s.handleListRuns)
		v1.POST("/workflows/:id/query", s.handleQueryWorkflow)

		v1.POST("/keys", s.handleCreateKey)
		v1.GET("/keys/:id/usage", s.handleKeyUsage)
		v1.DELETE("/keys/:id", s.handleRevokeKey)
		v1.POST("/webhooks", s.handleCreateWebhook)
		v1.GET("/webhooks/:id/usage", s.handleWebhookUsage)
		v1.POST("/hooks/:id", s.handleInvokeWebhook)

		v1.GET("/workers", s.handleListWorkers)
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
