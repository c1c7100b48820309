// Package workers implements the bounded worker pool that runs node tasks.
//
// The pool owns a fixed number of goroutines reading from a bounded queue:
//   - Submit blocks while the queue is full, which backpressures the orchestrator
//   - Each task receives a context cancelled on pool shutdown
//   - Task panics are recovered so a worker never dies with a task
//
// The health monitor samples worker status, records metrics and notifies
// listeners such as the gRPC health service.
package workers
