package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/internal/memory/longterm"
	"github.com/Ardavaa/jarvis-agent/internal/memory/semantic"
	"github.com/Ardavaa/jarvis-agent/internal/memory/shortterm"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/internal/resilience"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

const (
	defaultMaxIterations = 5
	defaultRetrieveLimit = 3
)

// Agent 协调规划、执行与观察，是系统的业务核心。
type Agent struct {
	gen       llm.Generator
	parser    *tools.Parser
	executor  *tools.Executor
	shortTerm *shortterm.Window
	longTerm  longterm.Store
	semantic  *semantic.Memory

	maxIterations       int
	contextWindow       int
	retrieveLimit       int
	plannerTemperature  float64
	observerTemperature float64
	budget              *llm.TokenBudget
	plannerPolicy       resilience.Policy
	executorPolicy      resilience.Policy

	planner  *Planner
	observer *Observer
	metrics  *metrics.Recorder
	logger   *slog.Logger
	audit    *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMaxIterations 设置单次运行的迭代上限。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithContextWindow 设置从短期记忆加载的历史条数，<= 0 表示整个窗口。
func WithContextWindow(n int) Option {
	return func(a *Agent) {
		a.contextWindow = n
	}
}

// WithTemperatures 设置规划器与观察器的采样温度。
func WithTemperatures(planner, observer float64) Option {
	return func(a *Agent) {
		a.plannerTemperature = planner
		a.observerTemperature = observer
	}
}

// WithSemanticMemory 启用语义检索与索引。
func WithSemanticMemory(m *semantic.Memory, retrieveLimit int) Option {
	return func(a *Agent) {
		a.semantic = m
		if retrieveLimit > 0 {
			a.retrieveLimit = retrieveLimit
		}
	}
}

// WithTokenBudget 限制拼入规划提示词的语义上下文长度。
func WithTokenBudget(b *llm.TokenBudget) Option {
	return func(a *Agent) {
		a.budget = b
	}
}

// WithPlannerPolicy 设置规划阶段的重试策略；RetryIf 会被忽略，所有错误都重试。
func WithPlannerPolicy(p resilience.Policy) Option {
	return func(a *Agent) {
		a.plannerPolicy = p
	}
}

// WithExecutorPolicy 设置执行阶段的重试策略；只重试 TOOL_EXECUTION_FAILED。
func WithExecutorPolicy(p resilience.Policy) Option {
	return func(a *Agent) {
		a.executorPolicy = p
	}
}

// WithMetrics 注入指标采集器。
func WithMetrics(rec *metrics.Recorder) Option {
	return func(a *Agent) {
		a.metrics = rec
	}
}

// WithLogger 指定运行日志与审计日志。
func WithLogger(l, audit *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
		if audit != nil {
			a.audit = audit
		}
	}
}

// New 创建 Agent。gen 用于规划与观察，executor 负责执行工具调用。
func New(gen llm.Generator, executor *tools.Executor, shortTerm *shortterm.Window, longTerm longterm.Store, opts ...Option) *Agent {
	a := &Agent{
		gen:                 gen,
		executor:            executor,
		shortTerm:           shortTerm,
		longTerm:            longTerm,
		maxIterations:       defaultMaxIterations,
		retrieveLimit:       defaultRetrieveLimit,
		plannerTemperature:  defaultPlannerTemperature,
		observerTemperature: defaultObserverTemperature,
		plannerPolicy:       resilience.DefaultPolicy(),
		executorPolicy:      resilience.DefaultPolicy(),
		logger:              logger.Named("agent"),
		audit:               logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.shortTerm == nil {
		a.shortTerm = shortterm.New(0)
	}

	a.plannerPolicy.RetryIf = nil
	a.plannerPolicy.OnRetry = func(attempt, maxRetries int, err error) {
		a.logger.Warn("规划失败，准备重试", slog.Int("attempt", attempt), slog.Int("max", maxRetries), slog.String("error", err.Error()))
	}
	a.executorPolicy.RetryIf = resilience.RetryOn(xerrors.CodeToolExecution)
	a.executorPolicy.OnRetry = func(attempt, maxRetries int, err error) {
		a.logger.Warn("工具执行失败，准备重试", slog.Int("attempt", attempt), slog.Int("max", maxRetries), slog.String("error", err.Error()))
	}

	a.parser = tools.NewParser(a.logger.With(slog.String("component", "tools.parser")))
	a.planner = NewPlanner(gen, a.plannerTemperature, a.budget, a.metrics, a.logger.With(slog.String("stage", "planner")))
	a.observer = NewObserver(gen, a.observerTemperature, a.metrics, a.logger.With(slog.String("stage", "observer")))
	return a
}

// ShortTerm 返回短期记忆窗口。
func (a *Agent) ShortTerm() *shortterm.Window {
	return a.shortTerm
}

// Run 执行一次完整的 Plan-Act-Observe 循环。
//
// 内部错误（无法创建持久会话、规划多次失败）会同时返回错误与一个包含致歉文本的 Response，
// 调用方可以直接把 Response 返回给用户。
func (a *Agent) Run(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	if a.gen == nil || a.executor == nil || a.longTerm == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "智能体依赖未完整配置")
	}

	state := &State{
		ConversationID: strings.TrimSpace(req.ConversationID),
		UserID:         strings.TrimSpace(req.UserID),
		Message:        req.Message,
		MaxIterations:  a.maxIterations,
	}
	if state.ConversationID == "" {
		state.ConversationID = uuid.NewString()
	}
	if state.UserID == "" {
		state.UserID = DefaultUserID
	}

	start := time.Now()
	if err := a.loop(ctx, state, req); err != nil {
		state.Reason = ReasonError
		a.metrics.ObserveRun(string(ReasonError), state.Iteration)
		a.logger.Error("智能体运行失败",
			slog.String("conversation_id", state.ConversationID),
			slog.Int("iterations", state.Iteration),
			slog.String("error", err.Error()))
		return a.recordError(ctx, state, err), err
	}

	a.recordEffects(ctx, state)
	a.metrics.ObserveRun(string(state.Reason), state.Iteration)
	a.logger.Info("智能体运行完成",
		slog.String("conversation_id", state.ConversationID),
		slog.String("reason", string(state.Reason)),
		slog.Int("iterations", state.Iteration),
		slog.Int("tool_calls", len(state.ToolCalls)),
		slog.Duration("elapsed", time.Since(start)))

	return &Response{
		Response:       state.FinalResponse,
		ConversationID: state.ConversationID,
		Iterations:     state.Iteration,
		Plan:           state.Plan,
		ToolCalls:      nonNilCalls(state.ToolCalls),
		Observations:   nonNilStrings(state.Observations),
		MemoryStats:    a.memoryStats(ctx, state.ConversationID),
	}, nil
}

func (a *Agent) loop(ctx context.Context, state *State, req Request) error {
	durableID, err := a.longTerm.CreateConversation(ctx, state.UserID)
	if err != nil {
		return err
	}
	state.DurableID = durableID

	history := a.shortTerm.Turns(state.ConversationID, a.contextWindow)
	if len(history) == 0 {
		history = req.History
	}
	if req.semanticEnabled() {
		state.SemanticContext = a.retrieveContext(ctx, state)
	}

	for state.Iteration < state.MaxIterations {
		state.Iteration++
		a.logger.Debug("开始迭代",
			slog.String("conversation_id", state.ConversationID),
			slog.Int("iteration", state.Iteration),
			slog.Int("max", state.MaxIterations))

		plan, err := resilience.Retry(ctx, a.plannerPolicy, func(ctx context.Context) (Plan, error) {
			return a.planner.Plan(ctx, PlanInput{
				Message:         state.Message,
				Context:         history,
				Observations:    state.Observations,
				SemanticContext: state.SemanticContext,
			})
		})
		if err != nil {
			return xerrors.Wrap(xerrors.CodePlanningFailure, err, "规划失败")
		}
		state.Plan = plan.Plan

		if plan.IsComplete {
			state.finish(ReasonCompleted, directResponse(plan))
			return nil
		}

		calls := a.parser.Parse(plan.ToolCalls)
		if len(calls) == 0 {
			state.finish(ReasonCompleted, directResponse(plan))
			return nil
		}
		state.ToolCalls = append(state.ToolCalls, calls...)

		results, err := resilience.Retry(ctx, a.executorPolicy, func(ctx context.Context) ([]tools.Result, error) {
			return a.executor.Execute(ctx, calls)
		})
		if err != nil {
			a.logger.Warn("工具批次执行失败", slog.String("error", err.Error()))
			results = tools.FailedResults(calls, err)
		}

		obs := a.observer.Observe(ctx, state.Plan, calls, results)
		state.Observations = append(state.Observations, obs.Analysis)
		if obs.ShouldFinish {
			response := obs.Response
			if strings.TrimSpace(response) == "" {
				response = obs.Analysis
			}
			state.finish(ReasonFinished, response)
			return nil
		}
	}

	state.finish(ReasonExhausted, ExhaustedResponse)
	a.logger.Warn("达到迭代上限", slog.String("conversation_id", state.ConversationID), slog.Int("iterations", state.Iteration))
	return nil
}

// retrieveContext 检索与当前会话相关的语义上下文，没有结果或出错时返回空串。
func (a *Agent) retrieveContext(ctx context.Context, state *State) string {
	if a.semantic == nil {
		return ""
	}
	text, err := a.semantic.RetrieveContext(ctx, state.Message, a.retrieveLimit,
		map[string]string{"conversation_id": state.ConversationID})
	if err != nil {
		a.logger.Warn("语义检索失败", slog.String("error", err.Error()))
		return ""
	}
	if text == semantic.NoRelevantContext {
		return ""
	}
	return text
}

func directResponse(plan Plan) string {
	if strings.TrimSpace(plan.Response) != "" {
		return plan.Response
	}
	return plan.Plan
}

func nonNilCalls(in []tools.Call) []tools.Call {
	if in == nil {
		return []tools.Call{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
