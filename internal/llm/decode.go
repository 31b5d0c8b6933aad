package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON 表示模型输出中找不到任何 JSON 对象。
var ErrNoJSON = errors.New("no JSON object found in model output")

const jsonFence = "```json"

// Decoded 是结构化解析的结果：要么是成功解码的值，要么是回退值。
type Decoded[T any] struct {
	Value T
	// Fallback 为 true 表示 Value 来自回退函数而非模型输出。
	Fallback bool
	Raw      string
	Err      error
}

// ExtractJSON 从自由文本中截取 JSON 片段。
// 优先使用 ```json 代码块，其次取第一个 '{' 到最后一个 '}' 之间的内容。
func ExtractJSON(raw string) (string, error) {
	if start := strings.Index(raw, jsonFence); start >= 0 {
		body := raw[start+len(jsonFence):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body), nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return raw[start : end+1], nil
}

// Decode 从模型输出中解析 T；提取或反序列化失败时调用 fallback 生成保守的默认值。
func Decode[T any](raw string, fallback func(raw string, err error) T) Decoded[T] {
	fragment, err := ExtractJSON(raw)
	if err == nil {
		var value T
		if err = json.Unmarshal([]byte(fragment), &value); err == nil {
			return Decoded[T]{Value: value, Raw: raw}
		}
		err = fmt.Errorf("decode model JSON: %w", err)
	}
	return Decoded[T]{Value: fallback(raw, err), Fallback: true, Raw: raw, Err: err}
}
