package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

func newCalendarServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "calendar", Version: "v0.0.1"}, nil)
	schema := map[string]any{"type": "object"}

	server.AddTool(&mcp.Tool{Name: "create_calendar_event", Description: "Create an event", InputSchema: schema},
		func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, err
			}
			payload, _ := json.Marshal(map[string]any{"event_id": "evt-1", "title": args["title"]})
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}}}, nil
		})
	server.AddTool(&mcp.Tool{Name: "delete_calendar_event", InputSchema: schema},
		func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "event not found"}},
			}, nil
		})
	server.AddTool(&mcp.Tool{Name: "list_calendar_events", InputSchema: schema},
		func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "no events today"}}}, nil
		})
	return server
}

func newTestMCP(t *testing.T) (*MCP, *int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	connects := 0
	server := newCalendarServer()
	g := NewMCP(MCPConfig{
		Endpoints: map[tools.Service]string{tools.ServiceCalendar: "memory://calendar"},
		Logger:    logger.Discard(),
		Transport: func(tools.Service, string) (mcp.Transport, error) {
			connects++
			serverTransport, clientTransport := mcp.NewInMemoryTransports()
			if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
				return nil, err
			}
			return clientTransport, nil
		},
	})
	t.Cleanup(func() { g.Close() })
	return g, &connects
}

func TestMCPInvokeDecodesJSONText(t *testing.T) {
	g, connects := newTestMCP(t)
	ctx := context.Background()

	got, err := g.Invoke(ctx, tools.ServiceCalendar, tools.CreateCalendarEvent, map[string]any{"title": "standup"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"event_id": "evt-1", "title": "standup"}, got)

	text, err := g.Invoke(ctx, tools.ServiceCalendar, tools.ListCalendarEvents, nil)
	require.NoError(t, err)
	assert.Equal(t, "no events today", text)
	assert.Equal(t, 1, *connects, "会话应被复用")
}

func TestMCPInvokeToolError(t *testing.T) {
	g, _ := newTestMCP(t)
	_, err := g.Invoke(context.Background(), tools.ServiceCalendar, tools.DeleteCalendarEvent, map[string]any{"event_id": "x"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeToolExecution, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "event not found")
}

func TestMCPUnknownService(t *testing.T) {
	g, _ := newTestMCP(t)
	_, err := g.Invoke(context.Background(), tools.ServiceMail, tools.SendEmail, nil)
	assert.Equal(t, xerrors.CodeNoRoute, xerrors.CodeOf(err))
}

func TestMCPHealthAndListTools(t *testing.T) {
	g, _ := newTestMCP(t)
	ctx := context.Background()

	assert.Equal(t, map[tools.Service]bool{tools.ServiceCalendar: true}, g.Health(ctx))

	list, err := g.ListTools(ctx, tools.ServiceCalendar)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, info := range list {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"create_calendar_event", "delete_calendar_event", "list_calendar_events"}, names)
}

func TestMCPSlowServiceDoesNotBlockOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	entered := make(chan struct{})
	release := make(chan struct{})
	server := newCalendarServer()
	g := NewMCP(MCPConfig{
		Endpoints: map[tools.Service]string{
			tools.ServiceCalendar: "memory://calendar",
			tools.ServiceMail:     "memory://mail",
		},
		Logger: logger.Discard(),
		Transport: func(service tools.Service, _ string) (mcp.Transport, error) {
			if service == tools.ServiceMail {
				close(entered)
				<-release
				return nil, errors.New("mail server unreachable")
			}
			serverTransport, clientTransport := mcp.NewInMemoryTransports()
			if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
				return nil, err
			}
			return clientTransport, nil
		},
	})
	t.Cleanup(func() { g.Close() })

	mailErr := make(chan error, 1)
	go func() {
		_, err := g.Invoke(ctx, tools.ServiceMail, tools.SendEmail, nil)
		mailErr <- err
	}()
	<-entered

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()
	got, err := g.Invoke(callCtx, tools.ServiceCalendar, tools.ListCalendarEvents, nil)
	require.NoError(t, err, "日历服务不应等待邮件服务建连")
	assert.Equal(t, "no events today", got)

	close(release)
	err = <-mailErr
	assert.Equal(t, xerrors.CodeToolExecution, xerrors.CodeOf(err))
}

func TestStreamClientHasNoWholeRequestTimeout(t *testing.T) {
	client := newStreamClient(5 * time.Second)
	assert.Zero(t, client.Timeout)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, transport.ResponseHeaderTimeout)
}
