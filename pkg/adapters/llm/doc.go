// Package llm registers the LLM-backed node type.
//
// The executor is backed by Anthropic Claude (package anthropic). It is an
// externally billed executor: it implements executors.CostEstimator so the
// orchestrator reserves the predicted cost of a call against the caller's
// quota before the node runs, and it reports the actual token cost back in
// its result.
package llm
