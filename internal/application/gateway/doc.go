// Package gateway turns API key and webhook calls into runs. Every trigger
// goes through the same path: authenticate, resolve the graph, admit against
// quota, then submit to the orchestrator, which validates the graph.
package gateway
