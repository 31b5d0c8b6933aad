// Package ollama adapts a local Ollama server to the llm.Oracle interface.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
)

const (
	defaultBaseURL    = "http://localhost:11434"
	defaultModel      = "llama3.1:8b"
	defaultEmbedModel = "nomic-embed-text"
	defaultTimeout    = 120 * time.Second
)

// Config 描述 Ollama 服务的访问参数。
type Config struct {
	BaseURL    string
	Model      string
	EmbedModel string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 Ollama API 完成文本生成与向量化。
type Client struct {
	api        *api.Client
	model      string
	embedModel string
}

// NewClient 根据配置创建 Ollama 客户端。
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("解析 Ollama 地址失败: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	return &Client{
		api:        api.NewClient(parsed, httpClient),
		model:      model,
		embedModel: embedModel,
	}, nil
}

// Generate 以非流式方式调用 chat 接口。
func (c *Client) Generate(ctx context.Context, prompt llm.Prompt) (string, error) {
	messages := make([]api.Message, 0, 2)
	if prompt.System != "" {
		messages = append(messages, api.Message{Role: llm.RoleSystem, Content: prompt.System})
	}
	messages = append(messages, api.Message{Role: llm.RoleUser, Content: prompt.User})

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": prompt.Temperature,
		},
	}

	var content strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classify(err, "调用 Ollama 生成失败")
	}
	return content.String(), nil
}

// Embed 调用 embed 接口返回单条文本的向量。
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{Model: c.embedModel, Input: text})
	if err != nil {
		return nil, classify(err, "调用 Ollama 向量化失败")
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, xerrors.New(xerrors.CodeOracleFailure, "Ollama 返回空向量")
	}
	return resp.Embeddings[0], nil
}

// classify 将模型不存在视为不可重试，其余错误交给上层重试。
func classify(err error, message string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	text := err.Error()
	if strings.Contains(text, "model") && strings.Contains(text, "not found") {
		return xerrors.Wrap(xerrors.CodeOracleFailure, err, message, xerrors.WithRetryable(false))
	}
	return xerrors.Wrap(xerrors.CodeOracleFailure, err, message)
}
