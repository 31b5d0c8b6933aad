package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

const (
	defaultPlannerTemperature = 0.7
	plannerContextTurns       = 5
)

// PlanInput 是一次规划的输入。
type PlanInput struct {
	Message         string
	Context         []llm.Turn
	Observations    []string
	SemanticContext string
}

// Plan 是规划器的输出。
type Plan struct {
	Plan       string
	IsComplete bool
	// ToolCalls 保留模型给出的原始候选，交给 tools.Parser 校验。
	ToolCalls any
	Response  string
	// Fallback 表示模型输出无法解析，整段文本被当作直接回复。
	Fallback bool
}

type planPayload struct {
	Plan       *string `json:"plan"`
	IsComplete *bool   `json:"is_complete"`
	ToolCalls  any     `json:"tool_calls"`
	Response   string  `json:"response"`
}

// Planner 调用模型生成执行计划。
type Planner struct {
	gen         llm.Generator
	temperature float64
	budget      *llm.TokenBudget
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// NewPlanner 创建规划器；budget 为 nil 时不截断语义上下文。
func NewPlanner(gen llm.Generator, temperature float64, budget *llm.TokenBudget, rec *metrics.Recorder, l *slog.Logger) *Planner {
	if temperature <= 0 {
		temperature = defaultPlannerTemperature
	}
	if l == nil {
		l = logger.Named("agent.planner")
	}
	return &Planner{gen: gen, temperature: temperature, budget: budget, metrics: rec, logger: l}
}

// Plan 执行一次模型往返。模型调用失败时返回可重试的 ORACLE_FAILURE；
// 输出无法解析时不报错，而是返回把原文当作回复的完成计划。
func (p *Planner) Plan(ctx context.Context, in PlanInput) (Plan, error) {
	start := time.Now()
	raw, err := p.gen.Generate(ctx, llm.Prompt{
		System:      plannerSystemPrompt(),
		User:        p.userPrompt(in),
		Temperature: p.temperature,
	})
	p.metrics.ObserveOracle("planner", time.Since(start), err)
	if err != nil {
		if _, typed := xerrors.From(err); typed {
			return Plan{}, err
		}
		return Plan{}, xerrors.Wrap(xerrors.CodeOracleFailure, err, "规划器调用模型失败")
	}

	decoded := llm.Decode(raw, func(raw string, _ error) planPayload {
		plan, complete := "Direct response", true
		return planPayload{Plan: &plan, IsComplete: &complete, Response: raw}
	})
	if decoded.Fallback {
		p.logger.Debug("规划结果无法解析，按直接回复处理", slog.String("error", decoded.Err.Error()))
	}

	out := Plan{
		Plan:      "No plan provided",
		ToolCalls: decoded.Value.ToolCalls,
		Response:  decoded.Value.Response,
		Fallback:  decoded.Fallback,
	}
	if decoded.Value.Plan != nil {
		out.Plan = *decoded.Value.Plan
	}
	if decoded.Value.IsComplete != nil {
		out.IsComplete = *decoded.Value.IsComplete
	}
	if out.ToolCalls == nil {
		out.ToolCalls = []any{}
	}
	return out, nil
}

func (p *Planner) userPrompt(in PlanInput) string {
	contextText := "No previous context"
	if turns := lastTurns(in.Context, plannerContextTurns); len(turns) > 0 {
		lines := make([]string, len(turns))
		for i, t := range turns {
			lines[i] = t.Role + ": " + t.Content
		}
		contextText = strings.Join(lines, "\n")
	}

	observations := "No previous observations"
	if len(in.Observations) > 0 {
		lines := make([]string, len(in.Observations))
		for i, obs := range in.Observations {
			lines[i] = fmt.Sprintf("Observation %d: %s", i+1, obs)
		}
		observations = strings.Join(lines, "\n")
	}

	memories := ""
	if semantic := strings.TrimSpace(in.SemanticContext); semantic != "" {
		if truncated, cut := p.budget.Truncate(semantic); cut {
			p.logger.Debug("语义上下文超出预算，已截断", slog.Int("tokens", p.budget.Count(semantic)))
			semantic = truncated
		}
		memories = fmt.Sprintf(relevantMemoriesTemplate, semantic)
	}

	return fmt.Sprintf(plannerUserTemplate, in.Message, contextText, observations, memories)
}

func lastTurns(turns []llm.Turn, n int) []llm.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
