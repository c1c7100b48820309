// Package quota provides ports.QuotaStore implementations.
//
// Available adapters:
//   - memory: single-process store guarded by one mutex
//   - redis: shared store whose check-and-increment runs as a Lua script
package quota
