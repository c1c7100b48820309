// Package deployment manages numbered, immutable versions of deployed
// workflows: deploy, rollback, outcome recording and health.
//
// At most one version per workflow is active. Lifecycle writes carry the
// workflow revision and are retried after a conflict.
package deployment
