// Package domain holds the types shared by every layer of the engine:
// workflow graphs, runs and their per-node state machine, run events,
// deployment versions, credentials and quota decisions, plus the error
// taxonomy surfaced to callers.
package domain
