package prometheus

import (
	"testing"
	"time"

	"github.com/mettice/nodeai/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.MetricsCollector = (*Collector)(nil)

func TestCollector_RecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRunSubmitted("manual")
	c.RecordRunSubmitted("manual")
	c.RecordRunFinished("completed", 2*time.Second, 0.75, 120)
	c.RecordNodeFinished("llm", "failed", time.Second)
	c.RecordQuotaDenied("cost_limit")
	c.SetActiveRuns(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsSubmitted.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("completed")))
	assert.InDelta(t, 0.75, testutil.ToFloat64(c.runCost), 1e-9)
	assert.Equal(t, 120.0, testutil.ToFloat64(c.runTokens))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodesFinished.WithLabelValues("llm", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotaDenied.WithLabelValues("cost_limit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeRuns))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors on distinct registries must not collide.
	NewCollector(prometheus.NewRegistry())
	NewCollector(prometheus.NewRegistry())
}

func TestCollector_WorkerPool(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.RecordWorkerPoolStatus(3, 1, 0)
	c.SetQueueDepth(7)
	c.RecordLLMCall("claude", "ok", 10, 20, time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.workerPoolIdle))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerPoolBusy))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.llmTokens.WithLabelValues("claude", "output")))
}
