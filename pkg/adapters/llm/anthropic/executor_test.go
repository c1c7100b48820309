package anthropic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeMessages struct {
	params []anthropic.MessageNewParams
	reply  *anthropic.Message
	err    error
}

func (f *fakeMessages) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type countingGuard struct {
	reserved []float64
	err      error
}

func (g *countingGuard) Reserve(_ context.Context, cost float64) error {
	if g.err != nil {
		return g.err
	}
	g.reserved = append(g.reserved, cost)
	return nil
}

type recorder struct {
	calls int
	out   int64
}

func (r *recorder) RecordLLMCall(_, _ string, _, out int64, _ time.Duration) {
	r.calls++
	r.out += out
}

var testConfig = Config{
	DefaultModel:      "claude-test",
	DefaultMaxTokens:  1000,
	InputCostPerMTok:  3,
	OutputCostPerMTok: 15,
}

func TestExecutor_Execute(t *testing.T) {
	fake := &fakeMessages{reply: &anthropic.Message{
		Model:      "claude-test",
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: "bonjour"}},
		Usage:      anthropic.Usage{InputTokens: 1000, OutputTokens: 2000},
	}}
	rec := &recorder{}
	exec := NewExecutor(fake, testConfig, rec, zaptest.NewLogger(t))

	res, err := exec.Execute(t.Context(), &executors.Request{
		RunID:    "r1",
		NodeID:   "translate",
		Config:   map[string]any{"prompt": "Translate {{text}} for {{user}}", "max_tokens": 256.0},
		Inputs:   map[string]any{"user": "ana"},
		Upstream: map[string]map[string]any{"src": {"text": "hello"}},
		Attempt:  1,
		Quota:    executors.Unmetered,
	})
	require.NoError(t, err)

	assert.Equal(t, "bonjour", res.Outputs["text"])
	assert.Equal(t, int64(3000), res.Tokens)
	assert.InDelta(t, 0.003+0.03, res.Cost, 1e-9)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, int64(2000), rec.out)

	require.Len(t, fake.params, 1)
	assert.Equal(t, int64(256), fake.params[0].MaxTokens)
	assert.Equal(t, anthropic.Model("claude-test"), fake.params[0].Model)
}

func TestExecutor_EstimateCost(t *testing.T) {
	exec := NewExecutor(&fakeMessages{}, testConfig, nil, zaptest.NewLogger(t))

	// 400 chars ~ 100 input tokens, 1000 default output tokens.
	prompt := string(make([]byte, 400))
	cost := exec.EstimateCost(map[string]any{"prompt": prompt})
	assert.InDelta(t, 100*3/1e6+1000*15/1e6, cost, 1e-9)

	var _ executors.CostEstimator = exec
}

func TestExecutor_RequiresPrompt(t *testing.T) {
	exec := NewExecutor(&fakeMessages{}, testConfig, nil, zaptest.NewLogger(t))
	_, err := exec.Execute(t.Context(), &executors.Request{Config: map[string]any{}, Attempt: 1})
	assert.Error(t, err)
}

func TestExecutor_RetryReservesAgain(t *testing.T) {
	fake := &fakeMessages{reply: &anthropic.Message{}}
	exec := NewExecutor(fake, testConfig, nil, zaptest.NewLogger(t))
	guard := &countingGuard{}

	req := &executors.Request{Config: map[string]any{"prompt": "hi"}, Quota: guard, Attempt: 1}
	_, err := exec.Execute(t.Context(), req)
	require.NoError(t, err)
	assert.Empty(t, guard.reserved)

	req.Attempt = 2
	_, err = exec.Execute(t.Context(), req)
	require.NoError(t, err)
	assert.Len(t, guard.reserved, 1)
}

func TestExecutor_RetryDeniedByQuota(t *testing.T) {
	fake := &fakeMessages{reply: &anthropic.Message{}}
	exec := NewExecutor(fake, testConfig, nil, zaptest.NewLogger(t))
	denied := &domain.QuotaExceededError{SubjectID: "key:k1", Decision: domain.QuotaDecision{Reason: domain.QuotaReasonCostLimit}}

	_, err := exec.Execute(t.Context(), &executors.Request{
		Config:  map[string]any{"prompt": "hi"},
		Quota:   &countingGuard{err: denied},
		Attempt: 2,
	})
	assert.ErrorAs(t, err, new(*domain.QuotaExceededError))
	assert.Empty(t, fake.params)
}

func TestExecutor_TransportErrorsAreRetryable(t *testing.T) {
	exec := NewExecutor(&fakeMessages{err: errors.New("connection reset")}, testConfig, nil, zaptest.NewLogger(t))

	_, err := exec.Execute(t.Context(), &executors.Request{Config: map[string]any{"prompt": "hi"}, Attempt: 1})
	require.Error(t, err)
	assert.True(t, executors.Normalize(err).Retryable)
}
