package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// TransportFactory 为某个服务构造 MCP 传输层。
type TransportFactory func(service tools.Service, endpoint string) (mcp.Transport, error)

// MCPConfig 描述 MCP 网关。
type MCPConfig struct {
	Endpoints  map[tools.Service]string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Transport 为空时使用 StreamableClientTransport。
	Transport TransportFactory
	Version   string
	Logger    *slog.Logger
}

// MCP 为每个服务按需建立一个客户端会话。
type MCP struct {
	endpoints map[tools.Service]string
	timeout   time.Duration
	client    *mcp.Client
	transport TransportFactory
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[tools.Service]*mcp.ClientSession
}

// NewMCP 创建 MCP 网关，不会立即建立连接。
func NewMCP(cfg MCPConfig) *MCP {
	l := cfg.Logger
	if l == nil {
		l = logger.Named("gateway.mcp")
	}
	version := cfg.Version
	if version == "" {
		version = "v1.0.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = newStreamClient(timeout)
		}
		transport = func(_ tools.Service, endpoint string) (mcp.Transport, error) {
			return &mcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: httpClient}, nil
		}
	}
	endpoints := make(map[tools.Service]string, len(cfg.Endpoints))
	for s, e := range cfg.Endpoints {
		endpoints[s] = e
	}
	return &MCP{
		endpoints: endpoints,
		timeout:   timeout,
		client:    mcp.NewClient(&mcp.Implementation{Name: "jarvis-agent", Version: version}, nil),
		transport: transport,
		logger:    l,
		sessions:  make(map[tools.Service]*mcp.ClientSession),
	}
}

// newStreamClient 构造 MCP 使用的 HTTP 客户端。会话的 GET 流是长连接，
// 因此只限制建连与等待响应头的时间，单次调用的时限由 ctx 控制。
func newStreamClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	}}
}

// session 返回服务的会话。建连在锁外进行，某个服务不可达不会阻塞其他服务。
func (g *MCP) session(ctx context.Context, service tools.Service) (*mcp.ClientSession, error) {
	endpoint, ok := g.endpoints[service]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNoRoute, fmt.Sprintf("服务 %s 未配置地址", service))
	}

	g.mu.Lock()
	cs, ok := g.sessions[service]
	g.mu.Unlock()
	if ok {
		return cs, nil
	}

	transport, err := g.transport(service, endpoint)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("构造 %s 传输层失败", service))
	}
	cs, err = g.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("连接 MCP 服务 %s 失败", service))
	}

	g.mu.Lock()
	if existing, ok := g.sessions[service]; ok {
		g.mu.Unlock()
		cs.Close()
		return existing, nil
	}
	g.sessions[service] = cs
	g.mu.Unlock()
	g.logger.Info("已建立 MCP 会话", slog.String("service", string(service)), slog.String("endpoint", endpoint))
	return cs, nil
}

// drop 关闭并移除失效的会话，下次调用时重新连接。
func (g *MCP) drop(service tools.Service, cs *mcp.ClientSession) {
	g.mu.Lock()
	if current, ok := g.sessions[service]; ok && current == cs {
		delete(g.sessions, service)
	}
	g.mu.Unlock()
	cs.Close()
}

// Invoke 通过 CallTool 调用工具。文本内容会被拼接，能解析为 JSON 时返回解码后的值。
func (g *MCP) Invoke(ctx context.Context, service tools.Service, tool tools.Name, params map[string]any) (any, error) {
	cs, err := g.session(ctx, service)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := cs.CallTool(callCtx, &mcp.CallToolParams{Name: string(tool), Arguments: params})
	if err != nil {
		if callCtx.Err() == nil {
			g.drop(service, cs)
		}
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("调用 %s/%s 失败", service, tool))
	}

	text := joinText(res.Content)
	if res.IsError {
		if text == "" {
			text = "unknown error"
		}
		return nil, xerrors.New(xerrors.CodeToolExecution, fmt.Sprintf("工具 %s 执行失败: %s", tool, text))
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	if text == "" {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal([]byte(text), &value); err == nil {
		return value, nil
	}
	return text, nil
}

// Health 对每个服务执行 Ping。
func (g *MCP) Health(ctx context.Context) map[tools.Service]bool {
	return probeAll(sortedServices(g.endpoints), func(s tools.Service) bool {
		cs, err := g.session(ctx, s)
		if err != nil {
			g.logger.Debug("MCP 服务不可用", slog.String("service", string(s)), slog.String("error", err.Error()))
			return false
		}
		if err := cs.Ping(ctx, nil); err != nil {
			g.drop(s, cs)
			return false
		}
		return true
	})
}

// ListTools 返回服务声明的工具。
func (g *MCP) ListTools(ctx context.Context, service tools.Service) ([]ToolInfo, error) {
	cs, err := g.session(ctx, service)
	if err != nil {
		return nil, err
	}
	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolExecution, err, fmt.Sprintf("获取 %s 工具列表失败", service))
	}
	out := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, ToolInfo{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return out, nil
}

// Close 关闭所有会话。
func (g *MCP) Close() error {
	g.mu.Lock()
	sessions := g.sessions
	g.sessions = make(map[tools.Service]*mcp.ClientSession)
	g.mu.Unlock()

	var errs []string
	for service, cs := range sessions {
		if err := cs.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", service, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭 MCP 会话失败: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if t, ok := c.(*mcp.TextContent); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ Gateway = (*MCP)(nil)
