// Package orchestrator validates workflow graphs and executes them.
//
// The manager coordinates each run by:
//   - Validating graph structure (dangling edges, cycles) before anything is persisted
//   - Layering the graph into an execution plan
//   - Dispatching ready nodes to the worker pool and driving the node state machine
//   - Reserving and settling quota for billed nodes
//   - Publishing every transition to the event publisher
//
// Each run is owned by one loop goroutine; node tasks report back over a channel.
package orchestrator
