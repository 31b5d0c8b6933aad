// Package resilience provides retry with exponential backoff and a
// consecutive-failure circuit breaker. Both wrap any func(ctx) (T, error)
// and are composed by callers; neither is installed implicitly.
package resilience
