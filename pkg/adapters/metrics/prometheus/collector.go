package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted     *prometheus.CounterVec
	runsFinished      *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	runCost           prometheus.Counter
	runTokens         prometheus.Counter
	activeRuns        prometheus.Gauge
	nodesFinished     *prometheus.CounterVec
	nodeRetries       *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	quotaDenied       *prometheus.CounterVec
	subscribersDrop   prometheus.Counter
	deployments       *prometheus.CounterVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
	queueDepth        prometheus.Gauge

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector registered with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"trigger"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_runs_finished_total",
				Help: "Total number of runs finished",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodeai_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
		runCost: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nodeai_run_cost_dollars_total",
				Help: "Total cost reported by finished runs",
			},
		),
		runTokens: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nodeai_run_tokens_total",
				Help: "Total tokens reported by finished runs",
			},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeai_active_runs",
				Help: "Number of currently executing runs",
			},
		),
		nodesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_nodes_finished_total",
				Help: "Total number of nodes that finished executing",
			},
			[]string{"node_type", "status"},
		),
		nodeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_node_retries_total",
				Help: "Total number of node re-attempts",
			},
			[]string{"node_type"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodeai_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"node_type"},
		),
		quotaDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_quota_denied_total",
				Help: "Total number of quota denials",
			},
			[]string{"reason"},
		),
		subscribersDrop: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nodeai_subscribers_dropped_total",
				Help: "Total number of run subscribers dropped for falling behind",
			},
		),
		deployments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_deployments_total",
				Help: "Total number of deployment lifecycle actions",
			},
			[]string{"action"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeai_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeai_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeai_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeai_queue_depth",
				Help: "Current depth of the node task queue",
			},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeai_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodeai_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"model"},
		),
	}
}

// RecordRunSubmitted counts a submitted run by trigger
func (c *Collector) RecordRunSubmitted(trigger string) {
	c.runsSubmitted.WithLabelValues(trigger).Inc()
}

// RecordRunFinished records the outcome, duration and totals of a run
func (c *Collector) RecordRunFinished(outcome string, duration time.Duration, cost float64, tokens int64) {
	c.runsFinished.WithLabelValues(outcome).Inc()
	c.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if cost > 0 {
		c.runCost.Add(cost)
	}
	if tokens > 0 {
		c.runTokens.Add(float64(tokens))
	}
}

// RecordNodeFinished records a node execution
func (c *Collector) RecordNodeFinished(nodeType, status string, duration time.Duration) {
	c.nodesFinished.WithLabelValues(nodeType, status).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordNodeRetry counts a node re-attempt
func (c *Collector) RecordNodeRetry(nodeType string) {
	c.nodeRetries.WithLabelValues(nodeType).Inc()
}

// RecordQuotaDenied counts a quota denial by reason
func (c *Collector) RecordQuotaDenied(reason string) {
	c.quotaDenied.WithLabelValues(reason).Inc()
}

// RecordSubscriberDropped counts a stream subscriber dropped on overflow
func (c *Collector) RecordSubscriberDropped() {
	c.subscribersDrop.Inc()
}

// SetActiveRuns sets the number of currently executing runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetQueueDepth sets the current depth of the node task queue
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordDeployment counts a deploy or rollback action
func (c *Collector) RecordDeployment(action string) {
	c.deployments.WithLabelValues(action).Inc()
}

// RecordLLMCall records one LLM API call with its token usage and latency
func (c *Collector) RecordLLMCall(model, status string, inputTokens, outputTokens int64, latency time.Duration) {
	c.llmCalls.WithLabelValues(model, status).Inc()
	c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	c.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}
