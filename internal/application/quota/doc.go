// Package quota enforces per-credential rate and cost limits.
//
// The enforcer owns the policy and the window arithmetic; the atomic
// check-and-increment lives in a ports.QuotaStore (a mutex-guarded map or a
// Redis Lua script), so two concurrent requests can never both be admitted
// when only one fits.
package quota
