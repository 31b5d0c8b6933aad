// Package openai adapts any OpenAI-compatible endpoint to the llm.Oracle
// interface using the official openai-go SDK.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
)

const (
	defaultModel      = "gpt-4o-mini"
	defaultEmbedModel = "text-embedding-3-small"
	defaultTimeout    = 60 * time.Second
)

// Config 描述调用 OpenAI 兼容服务所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 Chat Completions 与 Embeddings 接口实现 Oracle。
type Client struct {
	sdk        *sdk.Client
	model      string
	embedModel string
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	return &Client{sdk: &client, model: model, embedModel: embedModel}, nil
}

// Generate 调用 Chat Completions 返回首个候选的文本。
func (c *Client) Generate(ctx context.Context, prompt llm.Prompt) (string, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if prompt.System != "" {
		messages = append(messages, sdk.SystemMessage(prompt.System))
	}
	messages = append(messages, sdk.UserMessage(prompt.User))

	resp, err := c.sdk.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: sdk.Float(prompt.Temperature),
	})
	if err != nil {
		return "", classify(err, "调用 OpenAI 生成失败")
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeOracleFailure, "OpenAI 未返回候选结果")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed 调用 Embeddings 接口。SDK 返回 float64，这里转换为 float32 以匹配向量库。
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
		Model: c.embedModel,
	})
	if err != nil {
		return nil, classify(err, "调用 OpenAI 向量化失败")
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, xerrors.New(xerrors.CodeOracleFailure, "OpenAI 返回空向量")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

func classify(err error, message string) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusRequestTimeout:
		default:
			if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
				return xerrors.Wrap(xerrors.CodeOracleFailure, err, message, xerrors.WithRetryable(false))
			}
		}
	}
	return xerrors.Wrap(xerrors.CodeOracleFailure, err, message)
}
