// Package tools holds the closed registry of tools and backing services, the
// parser that filters model-proposed tool calls against it, and the executor
// that dispatches a batch of calls concurrently through an Invoker.
package tools
