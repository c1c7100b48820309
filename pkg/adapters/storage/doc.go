// Package storage provides repository implementations for runs, deployment
// versions, credentials and webhooks.
//
// Implementations:
//   - memory: maps guarded by one lock per store, for tests and single-node setups
//   - redis: runs as JSON values with a TTL plus a per-workflow sorted set
//   - postgres: pgx pool; deployment versions, credentials and webhooks
package storage
