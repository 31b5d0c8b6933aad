package llm

import "context"

// 对话中使用的角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Prompt 描述一次文本生成请求。
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

// Turn 是提供给模型的一条历史消息。
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator 负责文本生成。
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Embedder 负责把文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Oracle 同时具备生成与向量化能力。
type Oracle interface {
	Generator
	Embedder
}
