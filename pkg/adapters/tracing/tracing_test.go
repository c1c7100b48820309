package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(t.Context(), false, "nodeai", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, span := p.Tracer().Start(t.Context(), "run")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(t.Context()))
}

func TestSetup_Enabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:1")

	p, err := Setup(t.Context(), true, "nodeai", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, span := p.Tracer().Start(t.Context(), "run")
	assert.True(t, span.SpanContext().IsValid())
}
