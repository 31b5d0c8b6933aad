package llm

import (
	"context"

	"github.com/Ardavaa/jarvis-agent/internal/resilience"
)

// guarded 在熔断器保护下调用底层 Oracle。
type guarded struct {
	next    Oracle
	breaker *resilience.Breaker
}

// Guard 用熔断器包装 Oracle；生成与向量化共享同一个熔断器。
func Guard(next Oracle, breaker *resilience.Breaker) Oracle {
	if breaker == nil {
		return next
	}
	return &guarded{next: next, breaker: breaker}
}

func (g *guarded) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return resilience.Execute(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.next.Generate(ctx, prompt)
	})
}

func (g *guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Execute(ctx, g.breaker, func(ctx context.Context) ([]float32, error) {
		return g.next.Embed(ctx, text)
	})
}
