// Package llm defines the oracle consulted by the planner, the observer and
// semantic memory, together with helpers shared by every provider: structured
// JSON extraction from free-text replies, token budgeting and an optional
// circuit-breaker guard. Concrete providers live in the ollama and openai
// subpackages.
package llm
