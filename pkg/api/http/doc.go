// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Graph validation and ad-hoc runs
//   - Run status, cancellation and live streaming (SSE, WebSocket)
//   - Deployment versions, rollback and health
//   - API keys, webhooks and their quota usage
//   - Worker pool status, health checks and Prometheus metrics
//
// Errors use a single envelope, {"error": {"code", "message", "details"}}.
package http
