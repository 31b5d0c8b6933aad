package tools

import (
	"context"

	"github.com/Ardavaa/jarvis-agent/internal/resilience"
)

type guardedInvoker struct {
	next    Invoker
	breaker *resilience.Breaker
}

// Guard 用熔断器包装 Invoker，熔断期间所有工具调用立即失败。
func Guard(next Invoker, breaker *resilience.Breaker) Invoker {
	if breaker == nil {
		return next
	}
	return &guardedInvoker{next: next, breaker: breaker}
}

func (g *guardedInvoker) Invoke(ctx context.Context, service Service, tool Name, params map[string]any) (any, error) {
	return resilience.Execute(ctx, g.breaker, func(ctx context.Context) (any, error) {
		return g.next.Invoke(ctx, service, tool, params)
	})
}
