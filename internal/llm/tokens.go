package llm

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenBudget 用 cl100k 编码估算文本长度，并按 token 数截断检索到的上下文。
// 本地模型的分词器与之不同，这里只需要一个稳定的上界。
type TokenBudget struct {
	codec tokenizer.Codec
	limit int
}

// NewTokenBudget 创建一个上限为 limit 的预算；limit <= 0 表示不截断。
func NewTokenBudget(limit int) (*TokenBudget, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("加载分词器失败: %w", err)
	}
	return &TokenBudget{codec: codec, limit: limit}, nil
}

// Count 返回文本的 token 数，分词失败时按 4 字符 1 token 估算。
func (b *TokenBudget) Count(text string) int {
	if b == nil || b.codec == nil {
		return len(text) / 4
	}
	n, err := b.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Truncate 返回不超过预算的文本前缀，以及是否发生了截断。
func (b *TokenBudget) Truncate(text string) (string, bool) {
	if b == nil || b.codec == nil || b.limit <= 0 {
		return text, false
	}
	ids, _, err := b.codec.Encode(text)
	if err != nil || len(ids) <= b.limit {
		return text, false
	}
	head, err := b.codec.Decode(ids[:b.limit])
	if err != nil {
		return text, false
	}
	return head, true
}
