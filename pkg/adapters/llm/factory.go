package llm

import (
	"time"

	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/pkg/adapters/llm/anthropic"
	"go.uber.org/zap"
)

// NodeType is the node type served by the LLM executor
const NodeType = "llm"

// Config holds LLM executor configuration
type Config struct {
	APIKey            string
	DefaultModel      string
	DefaultMaxTokens  int
	InputCostPerMTok  float64
	OutputCostPerMTok float64
	RequestTimeout    time.Duration
}

// Register adds the "llm" executor to the registry when an API key is
// configured. It reports whether the executor was registered. recorder may be nil.
func Register(registry *executors.Registry, cfg Config, recorder anthropic.CallRecorder, logger *zap.Logger) bool {
	if cfg.APIKey == "" {
		logger.Warn("LLM_API_KEY not set, llm node type disabled")
		return false
	}

	exec := anthropic.NewExecutor(
		anthropic.NewClient(cfg.APIKey, cfg.RequestTimeout),
		anthropic.Config{
			DefaultModel:      cfg.DefaultModel,
			DefaultMaxTokens:  cfg.DefaultMaxTokens,
			InputCostPerMTok:  cfg.InputCostPerMTok,
			OutputCostPerMTok: cfg.OutputCostPerMTok,
		},
		recorder,
		logger,
	)
	registry.Register(NodeType, exec)

	logger.Info("LLM executor registered",
		zap.String("node_type", NodeType),
		zap.String("default_model", cfg.DefaultModel))
	return true
}
