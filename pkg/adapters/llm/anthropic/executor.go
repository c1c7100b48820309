package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/pkg/domain"
	"go.uber.org/zap"
)

// charsPerToken is the rough prompt size heuristic used for estimates.
const charsPerToken = 4

// MessageCreator is the subset of the SDK message service the executor uses.
type MessageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// CallRecorder receives per-call usage. The Prometheus collector implements it.
type CallRecorder interface {
	RecordLLMCall(model, status string, inputTokens, outputTokens int64, latency time.Duration)
}

// Config holds executor defaults and token prices
type Config struct {
	DefaultModel      string
	DefaultMaxTokens  int
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// Executor runs "llm" nodes against the Anthropic Messages API.
//
// Node config keys: prompt (required; {{name}} placeholders are filled from
// run inputs and upstream outputs), system, model, max_tokens, temperature.
// Outputs: text, model, stop_reason, input_tokens, output_tokens.
type Executor struct {
	messages MessageCreator
	cfg      Config
	recorder CallRecorder
	logger   *zap.Logger
}

// NewClient builds the SDK message service for apiKey
func NewClient(apiKey string, timeout time.Duration) MessageCreator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	client := anthropic.NewClient(opts...)
	return &client.Messages
}

// NewExecutor creates an llm executor. recorder may be nil.
func NewExecutor(messages MessageCreator, cfg Config, recorder CallRecorder, logger *zap.Logger) *Executor {
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 1024
	}
	return &Executor{messages: messages, cfg: cfg, recorder: recorder, logger: logger}
}

// EstimateCost predicts the worst case cost of one call: the prompt at the
// input price plus max_tokens at the output price.
func (e *Executor) EstimateCost(config map[string]any) float64 {
	prompt, _ := config["prompt"].(string)
	system, _ := config["system"].(string)
	inputTokens := int64((len(prompt) + len(system)) / charsPerToken)
	return e.cost(inputTokens, e.maxTokens(config))
}

// Execute implements executors.Executor. The first call is covered by the
// reservation made before the node started; every re-attempt reserves its
// own estimate.
func (e *Executor) Execute(ctx context.Context, req *executors.Request) (*executors.Result, error) {
	prompt, _ := req.Config["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("llm node requires a prompt")
	}

	if req.Attempt > 1 && req.Quota != nil {
		if err := req.Quota.Reserve(ctx, e.EstimateCost(req.Config)); err != nil {
			return nil, err
		}
	}

	model := e.cfg.DefaultModel
	if m, ok := req.Config["model"].(string); ok && m != "" {
		model = m
	}

	vars := templateVars(req)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: e.maxTokens(req.Config),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(render(prompt, vars))),
		},
	}
	if system, ok := req.Config["system"].(string); ok && system != "" {
		params.System = []anthropic.TextBlockParam{{Text: render(system, vars)}}
	}
	if temp, ok := number(req.Config["temperature"]); ok {
		params.Temperature = anthropic.Float(temp)
	}

	started := time.Now()
	msg, err := e.messages.New(ctx, params)
	latency := time.Since(started)
	if err != nil {
		e.record(model, "error", 0, 0, latency)
		e.logger.Warn("LLM call failed",
			zap.String("run_id", req.RunID),
			zap.String("node_id", req.NodeID),
			zap.String("model", model),
			zap.Error(err))
		return nil, classify(err)
	}

	inputTokens := msg.Usage.InputTokens
	outputTokens := msg.Usage.OutputTokens
	e.record(model, "ok", inputTokens, outputTokens, latency)

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	e.logger.Debug("LLM call completed",
		zap.String("run_id", req.RunID),
		zap.String("node_id", req.NodeID),
		zap.String("model", model),
		zap.Int64("input_tokens", inputTokens),
		zap.Int64("output_tokens", outputTokens),
		zap.Duration("latency", latency))

	return &executors.Result{
		Outputs: map[string]any{
			"text":          text.String(),
			"model":         string(msg.Model),
			"stop_reason":   string(msg.StopReason),
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
		Cost:   e.cost(inputTokens, outputTokens),
		Tokens: inputTokens + outputTokens,
	}, nil
}

func (e *Executor) cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*e.cfg.InputCostPerMTok/1e6 + float64(outputTokens)*e.cfg.OutputCostPerMTok/1e6
}

func (e *Executor) maxTokens(config map[string]any) int64 {
	if n, ok := number(config["max_tokens"]); ok && n > 0 {
		return int64(n)
	}
	return int64(e.cfg.DefaultMaxTokens)
}

func (e *Executor) record(model, status string, in, out int64, latency time.Duration) {
	if e.recorder != nil {
		e.recorder.RecordLLMCall(model, status, in, out, latency)
	}
}

// classify marks rate limiting, overload and server errors as retryable.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return domain.RetryableError(err)
		default:
			return fmt.Errorf("anthropic request rejected: %w", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.RetryableError(err)
}

// templateVars flattens run inputs and upstream outputs. Upstream values are
// also reachable as {{node_id.key}}.
func templateVars(req *executors.Request) map[string]string {
	vars := make(map[string]string)
	for k, v := range req.Inputs {
		vars[k] = fmt.Sprint(v)
	}

	nodes := make([]string, 0, len(req.Upstream))
	for id := range req.Upstream {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	for _, id := range nodes {
		for k, v := range req.Upstream[id] {
			s := fmt.Sprint(v)
			vars[k] = s
			vars[id+"."+k] = s
		}
	}
	return vars
}

func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
