// Package ports defines the interfaces between the application layer and its
// adapters: repositories, the quota counter store, event fan-out and metrics.
package ports
