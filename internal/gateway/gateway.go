package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ardavaa/jarvis-agent/internal/tools"
)

// 支持的协议。
const (
	ProtocolHTTP = "http"
	ProtocolMCP  = "mcp"
)

// ToolInfo 是工具服务自述的工具信息。
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Gateway 是具备健康检查与工具发现能力的调用器。
type Gateway interface {
	tools.Invoker
	Health(ctx context.Context) map[tools.Service]bool
	ListTools(ctx context.Context, service tools.Service) ([]ToolInfo, error)
	Close() error
}

// New 按协议创建网关。
func New(protocol string, endpoints map[tools.Service]string, timeout time.Duration) (Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", ProtocolHTTP:
		return NewHTTP(HTTPConfig{Endpoints: endpoints, Timeout: timeout}), nil
	case ProtocolMCP:
		return NewMCP(MCPConfig{Endpoints: endpoints, Timeout: timeout}), nil
	default:
		return nil, fmt.Errorf("不支持的网关协议: %s", protocol)
	}
}

// ParseEndpoints 校验配置中的服务地址，键必须是已知服务。
func ParseEndpoints(raw map[string]string) (map[tools.Service]string, error) {
	out := make(map[tools.Service]string, len(raw))
	for key, endpoint := range raw {
		service := tools.Service(strings.TrimSpace(key))
		if !service.Valid() {
			return nil, fmt.Errorf("未知的工具服务: %s", key)
		}
		endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if endpoint == "" {
			return nil, fmt.Errorf("服务 %s 的地址为空", key)
		}
		out[service] = endpoint
	}
	return out, nil
}

func sortedServices(endpoints map[tools.Service]string) []tools.Service {
	services := make([]tools.Service, 0, len(endpoints))
	for s := range endpoints {
		services = append(services, s)
	}
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
	return services
}

// probeAll 并发执行 probe，汇总每个服务的结果。
func probeAll(services []tools.Service, probe func(tools.Service) bool) map[tools.Service]bool {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		status = make(map[tools.Service]bool, len(services))
	)
	for _, s := range services {
		wg.Add(1)
		go func(s tools.Service) {
			defer wg.Done()
			ok := probe(s)
			mu.Lock()
			status[s] = ok
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return status
}
