package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

const (
	maxErrorBody    = 4096
	maxResponseBody = 4 << 20
)

// HTTPConfig 描述 HTTP 网关。
type HTTPConfig struct {
	Endpoints  map[tools.Service]string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTP 通过工具服务的 REST 接口调用工具。
type HTTP struct {
	endpoints map[tools.Service]string
	client    *http.Client
	logger    *slog.Logger
}

type executeRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

type executeResponse struct {
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// NewHTTP 创建 HTTP 网关。
func NewHTTP(cfg HTTPConfig) *HTTP {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Named("gateway.http")
	}
	endpoints := make(map[tools.Service]string, len(cfg.Endpoints))
	for s, e := range cfg.Endpoints {
		endpoints[s] = strings.TrimRight(e, "/")
	}
	return &HTTP{endpoints: endpoints, client: client, logger: l}
}

// Invoke 调用 POST {endpoint}/execute。
func (g *HTTP) Invoke(ctx context.Context, service tools.Service, tool tools.Name, params map[string]any) (any, error) {
	endpoint, ok := g.endpoints[service]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNoRoute, fmt.Sprintf("服务 %s 未配置地址", service))
	}
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(executeRequest{Tool: string(tool), Parameters: params})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("工具 %s 参数无法序列化", tool))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, "构造工具请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("调用 %s/%s 失败", service, tool))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, "读取工具响应失败")
	}
	if len(data) > maxResponseBody {
		return nil, xerrors.New(xerrors.CodeToolExecution,
			fmt.Sprintf("工具 %s 响应超过 %d 字节", tool, maxResponseBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, xerrors.New(xerrors.CodeToolExecution,
			fmt.Sprintf("工具 %s 返回状态码 %d: %s", tool, resp.StatusCode, errorText(data)))
	}

	var payload executeResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("工具 %s 响应格式错误", tool))
	}
	if payload.Error != "" || (payload.Success != nil && !*payload.Success) {
		msg := payload.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, xerrors.New(xerrors.CodeToolExecution, fmt.Sprintf("工具 %s 执行失败: %s", tool, msg))
	}
	return decodeResult(payload.Result), nil
}

// Health 并发探测所有服务的 /health。
func (g *HTTP) Health(ctx context.Context) map[tools.Service]bool {
	return probeAll(sortedServices(g.endpoints), func(s tools.Service) bool {
		return g.ping(ctx, s)
	})
}

func (g *HTTP) ping(ctx context.Context, service tools.Service) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoints[service]+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("工具服务不可用", slog.String("service", string(service)), slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListTools 读取服务的 /tools。
func (g *HTTP) ListTools(ctx context.Context, service tools.Service) ([]ToolInfo, error) {
	endpoint, ok := g.endpoints[service]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNoRoute, fmt.Sprintf("服务 %s 未配置地址", service))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("获取 %s 工具列表失败", service))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, xerrors.New(xerrors.CodeToolExecution,
			fmt.Sprintf("获取 %s 工具列表返回状态码 %d: %s", service, resp.StatusCode, errorText(data)))
	}
	var payload struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, "工具列表格式错误")
	}
	if payload.Tools == nil {
		payload.Tools = []ToolInfo{}
	}
	return payload.Tools, nil
}

// Close 释放空闲连接。
func (g *HTTP) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

func decodeResult(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	return value
}

// errorText 优先取 FastAPI 风格的 detail 字段，否则返回截断后的原文。
func errorText(data []byte) string {
	var payload executeResponse
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

var _ Gateway = (*HTTP)(nil)
