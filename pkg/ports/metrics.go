package ports

import "time"

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordRunSubmitted(trigger string)
	RecordRunFinished(outcome string, duration time.Duration, cost float64, tokens int64)
	RecordNodeFinished(nodeType, status string, duration time.Duration)
	RecordNodeRetry(nodeType string)
	RecordQuotaDenied(reason string)
	RecordSubscriberDropped()
	SetActiveRuns(count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetQueueDepth(depth int)
	RecordDeployment(action string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordRunSubmitted(string)                               {}
func (NopMetrics) RecordRunFinished(string, time.Duration, float64, int64) {}
func (NopMetrics) RecordNodeFinished(string, string, time.Duration)        {}
func (NopMetrics) RecordNodeRetry(string)                                  {}
func (NopMetrics) RecordQuotaDenied(string)                                {}
func (NopMetrics) RecordSubscriberDropped()                                {}
func (NopMetrics) SetActiveRuns(int)                                       {}
func (NopMetrics) RecordWorkerPoolStatus(int, int, int)                    {}
func (NopMetrics) SetQueueDepth(int)                                       {}
func (NopMetrics) RecordDeployment(string)                                 {}
