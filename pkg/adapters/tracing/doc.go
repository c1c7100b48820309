// Package tracing wires OpenTelemetry into the server. Runs and nodes are
// recorded as spans by the orchestrator; this package only decides where
// they go.
package tracing
