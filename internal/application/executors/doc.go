// Package executors maps node types to the code that runs them and invokes
// that code uniformly: the caller applies the node timeout, panics are
// recovered and every failure is normalised into a domain.ExecutorError.
package executors
