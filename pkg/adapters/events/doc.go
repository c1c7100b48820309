// Package events provides run event fan-out.
//
// Implementations:
//   - memory: per-run topics with snapshot-on-subscribe and bounded subscriber buffers
//   - redis: Redis Streams mirror that keeps a replayable history per run
package events
