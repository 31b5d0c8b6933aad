package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// Invoker 是调用后端工具服务的统一接口。
type Invoker interface {
	Invoke(ctx context.Context, service Service, tool Name, params map[string]any) (any, error)
}

// Result 是单个工具调用的执行结果，Result 与 Error 互斥。
type Result struct {
	Tool    Name   `json:"tool"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FailedResults 为一批调用构造统一的失败结果，用于整批执行失败后的兜底。
func FailedResults(calls []Call, err error) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		results[i] = Result{Tool: call.Name, Error: err.Error()}
	}
	return results
}

// Executor 将校验后的调用路由到服务并并发执行。
type Executor struct {
	invoker Invoker
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*Executor)

// WithExecutorLogger 指定日志输出。
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExecutorMetrics 记录每次调用的结果与耗时。
func WithExecutorMetrics(m *metrics.Recorder) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor 创建执行器。
func NewExecutor(invoker Invoker, opts ...ExecutorOption) *Executor {
	e := &Executor{invoker: invoker, logger: logger.Named("tools.executor")}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute 并发执行整批调用，等待全部完成后按输入顺序返回结果。
// 单个调用的失败只体现在对应的 Result 中；只有未配置 Invoker 或上下文已结束时才返回错误。
func (e *Executor) Execute(ctx context.Context, calls []Call) ([]Result, error) {
	if e.invoker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具调用器")
	}
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, "执行工具前上下文已结束")
	}

	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = e.invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results, nil
}

func (e *Executor) invoke(ctx context.Context, call Call) (res Result) {
	res.Tool = call.Name
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Tool: call.Name, Error: xerrors.New(xerrors.CodeToolExecution, fmt.Sprintf("工具 %s 发生异常: %v", call.Name, r)).Error()}
		}
		e.metrics.ObserveToolCall(string(call.Name), res.Success, time.Since(start))
		if !res.Success {
			e.logger.Warn("工具调用失败", slog.String("tool", string(call.Name)), slog.String("error", res.Error))
		}
	}()

	service, ok := ServiceOf(call.Name)
	if !ok {
		res.Error = xerrors.New(xerrors.CodeNoRoute, fmt.Sprintf("no route for tool %s", call.Name)).Error()
		return res
	}
	value, err := e.invoker.Invoke(ctx, service, call.Name, call.Parameters)
	if err != nil {
		if _, typed := xerrors.From(err); !typed {
			err = xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("工具 %s 调用失败", call.Name))
		}
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Result = value
	return res
}
