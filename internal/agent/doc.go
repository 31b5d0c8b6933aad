// Package agent contains the orchestrator that turns a user message into a
// bounded Plan-Act-Observe loop. The planner and observer each make a single
// oracle round trip per iteration; validated tool calls are fanned out through
// tools.Executor. After the loop finishes, recordEffects projects the run
// state into the short-term, long-term and semantic memory tiers.
package agent
