package tools

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// Call 是一次经过校验的工具调用。
type Call struct {
	Name       Name           `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// Parser 过滤模型给出的候选工具调用。
type Parser struct {
	logger *slog.Logger
}

// NewParser 创建解析器；logger 为 nil 时使用全局日志。
func NewParser(l *slog.Logger) *Parser {
	if l == nil {
		l = logger.Named("tools.parser")
	}
	return &Parser{logger: l}
}

// Parse 返回候选列表中名称已注册的调用，其余条目逐个丢弃。
// candidates 通常来自 JSON 解码后的 []any；非列表输入得到空结果。
func (p *Parser) Parse(candidates any) []Call {
	items, ok := asList(candidates)
	if !ok {
		if candidates != nil {
			p.logger.Debug("工具调用列表格式不正确", slog.String("type", fmt.Sprintf("%T", candidates)))
		}
		return []Call{}
	}

	calls := make([]Call, 0, len(items))
	for i, item := range items {
		call, err := p.parseOne(item)
		if err != nil {
			p.logger.Debug("丢弃工具调用", slog.Int("index", i), slog.String("reason", err.Error()))
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

func (p *Parser) parseOne(item any) (call Call, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("解析工具调用时发生异常: %v", r)
		}
	}()

	raw, ok := item.(map[string]any)
	if !ok {
		return Call{}, fmt.Errorf("条目不是对象: %T", item)
	}
	nameValue, ok := raw["tool"].(string)
	if !ok || strings.TrimSpace(nameValue) == "" {
		return Call{}, fmt.Errorf("缺少工具名称")
	}
	name := Name(strings.TrimSpace(nameValue))
	spec, ok := Lookup(name)
	if !ok {
		return Call{}, fmt.Errorf("未注册的工具: %s", name)
	}

	params := map[string]any{}
	switch v := raw["parameters"].(type) {
	case nil:
	case map[string]any:
		for key, value := range v {
			params[key] = value
		}
	default:
		return Call{}, fmt.Errorf("工具 %s 的参数不是对象: %T", name, v)
	}

	if missing := missingParams(spec, params); len(missing) > 0 {
		p.logger.Debug("工具调用缺少参数",
			slog.String("tool", string(name)),
			slog.Any("missing", missing))
	}
	return Call{Name: name, Parameters: params}, nil
}

func asList(candidates any) ([]any, bool) {
	switch v := candidates.(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []Call:
		out := make([]any, len(v))
		for i, c := range v {
			out[i] = map[string]any{"tool": string(c.Name), "parameters": c.Parameters}
		}
		return out, true
	default:
		return nil, false
	}
}

func missingParams(spec Spec, params map[string]any) []string {
	var missing []string
	for _, key := range spec.Required {
		if _, ok := params[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
