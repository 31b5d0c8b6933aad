package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

const (
	defaultObserverTemperature = 0.5
	observerErrorResponse      = "I encountered an error processing the results."
)

// Observation 是观察器对一批执行结果的判断。
type Observation struct {
	Analysis     string `json:"observation"`
	ShouldFinish bool   `json:"should_finish"`
	Response     string `json:"response,omitempty"`
	NextAction   string `json:"next_action,omitempty"`
}

type observationPayload struct {
	Observation  *string `json:"observation"`
	ShouldFinish *bool   `json:"should_finish"`
	Response     string  `json:"response"`
	NextAction   string  `json:"next_action"`
}

// Observer 调用模型分析工具执行结果。
type Observer struct {
	gen         llm.Generator
	temperature float64
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// NewObserver 创建观察器。
func NewObserver(gen llm.Generator, temperature float64, rec *metrics.Recorder, l *slog.Logger) *Observer {
	if temperature <= 0 {
		temperature = defaultObserverTemperature
	}
	if l == nil {
		l = logger.Named("agent.observer")
	}
	return &Observer{gen: gen, temperature: temperature, metrics: rec, logger: l}
}

// Observe 执行一次模型往返，从不返回错误：模型调用或解析失败都会得到“立即结束”的观察结果。
func (o *Observer) Observe(ctx context.Context, plan string, calls []tools.Call, results []tools.Result) Observation {
	start := time.Now()
	raw, err := o.gen.Generate(ctx, llm.Prompt{
		System:      observerSystemPrompt,
		User:        fmt.Sprintf(observerUserTemplate, plan, FormatResults(calls, results)),
		Temperature: o.temperature,
	})
	o.metrics.ObserveOracle("observer", time.Since(start), err)
	if err != nil {
		o.logger.Warn("观察器调用模型失败", slog.String("error", err.Error()))
		return Observation{Analysis: raw, ShouldFinish: true, Response: observerErrorResponse}
	}

	decoded := llm.Decode(raw, func(string, error) observationPayload {
		return observationPayload{}
	})
	if decoded.Fallback {
		o.logger.Debug("观察结果无法解析", slog.String("error", decoded.Err.Error()))
		return Observation{Analysis: raw, ShouldFinish: true, Response: observerErrorResponse}
	}

	out := Observation{
		Analysis:     "No observation",
		ShouldFinish: true,
		Response:     decoded.Value.Response,
		NextAction:   decoded.Value.NextAction,
	}
	if decoded.Value.Observation != nil {
		out.Analysis = *decoded.Value.Observation
	}
	if decoded.Value.ShouldFinish != nil {
		out.ShouldFinish = *decoded.Value.ShouldFinish
	}
	return out
}

// FormatResults 把执行结果渲染为从 1 开始编号的列表。
func FormatResults(calls []tools.Call, results []tools.Result) string {
	n := len(calls)
	if len(results) < n {
		n = len(results)
	}
	blocks := make([]string, n)
	for i := 0; i < n; i++ {
		res := results[i]
		status := "Failed"
		if res.Success {
			status = "Success"
		}
		result := "No result"
		if res.Result != nil {
			result = renderValue(res.Result)
		}
		errText := "None"
		if res.Error != "" {
			errText = res.Error
		}
		blocks[i] = fmt.Sprintf("%d. Tool: %s\n   Status: %s\n   Result: %s\n   Error: %s",
			i+1, calls[i].Name, status, result, errText)
	}
	return strings.Join(blocks, "\n\n")
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
