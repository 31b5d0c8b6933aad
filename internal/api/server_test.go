package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ardavaa/jarvis-agent/internal/agent"
	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/memory/longterm"
	"github.com/Ardavaa/jarvis-agent/internal/memory/shortterm"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/internal/task"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

type stubRunner struct {
	resp *agent.Response
	err  error
	got  agent.Request
}

func (s *stubRunner) Run(_ context.Context, req agent.Request) (*agent.Response, error) {
	s.got = req
	return s.resp, s.err
}

type stubHealth map[tools.Service]bool

func (h stubHealth) Health(context.Context) map[tools.Service]bool { return h }

type fixture struct {
	server    *httptest.Server
	runner    *stubRunner
	window    *shortterm.Window
	longTerm  *longterm.SQLStore
	taskStore *task.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := longterm.Open(context.Background(), longterm.Config{Driver: longterm.DriverSQLite, DSN: ":memory:"},
		longterm.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := &stubRunner{resp: &agent.Response{Response: "Hello!", ConversationID: "c1", Iterations: 1}}
	window := shortterm.New(10)
	taskStore := task.NewMemoryStore()
	svc := task.NewService(taskStore, task.NewMemoryQueue(16), 3)

	srv := NewServer(":0", runner,
		WithTaskService(svc),
		WithShortTerm(window),
		WithLongTerm(store),
		WithToolHealth(stubHealth{tools.ServiceCalendar: true, tools.ServiceMail: false}),
		WithMetrics(metrics.New()),
		WithLogger(logger.Discard()),
	)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, runner: runner, window: window, longTerm: store, taskStore: taskStore}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestChatReturnsAgentResponse(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/api/v1/chat", `{"message":"hi","user_id":"alice"}`)
	require.Equal(t, http.StatusOK, status)

	var resp agent.Response
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "Hello!", resp.Response)
	assert.Equal(t, "alice", f.runner.got.UserID)
}

func TestChatErrorEnvelopeIsStillOK(t *testing.T) {
	f := newFixture(t)
	f.runner.resp = &agent.Response{Response: "I encountered an error: planning failed", ConversationID: "c1", Error: "boom"}
	f.runner.err = xerrors.New(xerrors.CodePlanningFailure, "planning failed")

	status, body := f.do(t, http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"error":"boom"`)
}

func TestChatValidationErrors(t *testing.T) {
	f := newFixture(t)
	f.runner.resp = nil
	f.runner.err = xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")

	status, body := f.do(t, http.MethodPost, "/api/v1/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), `"code":"INVALID_ARGUMENT"`)

	status, _ = f.do(t, http.MethodPost, "/api/v1/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTaskEndpoints(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/v1/tasks", `{"task_id":"t-1","message":"check my mail","conversation_id":"c9"}`)
	require.Equal(t, http.StatusAccepted, status)
	var created task.Task
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "t-1", created.ID)
	assert.Equal(t, task.StatusPending, created.Status)
	assert.Equal(t, "check my mail", created.Request.Message)

	status, body = f.do(t, http.MethodGet, "/api/v1/tasks/t-1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"conversation_id":"c9"`)

	status, _ = f.do(t, http.MethodGet, "/api/v1/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/api/v1/tasks", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/v1/tasks?status=pending&conversation_id=c9", "")
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Tasks []task.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Tasks, 1)

	status, body = f.do(t, http.MethodGet, "/api/v1/tasks/stats", "")
	require.Equal(t, http.StatusOK, status)
	var stats task.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Pending)
}

func TestConversationWindowEndpoints(t *testing.T) {
	f := newFixture(t)
	f.window.Append("c1", "user", "hello", nil)
	f.window.Append("c1", "assistant", "hi there", nil)

	status, body := f.do(t, http.MethodGet, "/api/v1/conversations/c1/messages", "")
	require.Equal(t, http.StatusOK, status)
	var view conversationView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Len(t, view.Messages, 2)
	assert.Equal(t, 1, view.Summary.UserMessages)

	status, body = f.do(t, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"conversations":["c1"]}`, string(body))

	status, _ = f.do(t, http.MethodDelete, "/api/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, f.window.Recent("c1", 0))

	status, body = f.do(t, http.MethodGet, "/api/v1/conversations/c1/messages", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"messages":[]`)
}

func TestToolsAndHealth(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/v1/tools", "")
	require.Equal(t, http.StatusOK, status)
	var resp struct {
		Tools []struct {
			Name      string `json:"name"`
			Service   string `json:"service"`
			Available *bool  `json:"available"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Tools, len(tools.All()))
	for _, tool := range resp.Tools {
		require.NotNil(t, tool.Available, tool.Name)
		assert.Equal(t, tool.Service == string(tools.ServiceCalendar), *tool.Available, tool.Name)
	}

	status, body = f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"degraded"`)
}

func TestUserMemoryEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, body := f.do(t, http.MethodPut, "/api/v1/users/alice/preferences", `{"language":"en","voice":true}`)
	require.Equal(t, http.StatusOK, status)
	status, body = f.do(t, http.MethodGet, "/api/v1/users/alice/preferences", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"user_id":"alice","preferences":{"language":"en","voice":true}}`, string(body))

	status, _ = f.do(t, http.MethodPut, "/api/v1/users/alice/preferences", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, status)

	convID, err := f.longTerm.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	_, err = f.longTerm.SaveMessage(ctx, convID, "user", "remember the milk", nil)
	require.NoError(t, err)
	_, err = f.longTerm.LogInteraction(ctx, "alice", longterm.InteractionChat, map[string]any{"iterations": 1})
	require.NoError(t, err)

	status, body = f.do(t, http.MethodGet, "/api/v1/users/alice/conversations", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"user_id":"alice"`)

	status, body = f.do(t, http.MethodGet, "/api/v1/users/alice/interactions?type=chat", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"interaction_type":"chat"`)

	status, body = f.do(t, http.MethodGet, "/api/v1/history/conversations/"+itoa(convID), "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "remember the milk")

	status, _ = f.do(t, http.MethodGet, "/api/v1/history/conversations/999", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodGet, "/api/v1/history/conversations/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/v1/history/tasks", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"tasks":[]}`, string(body))
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/v1/tasks/unknown", "")

	status, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	text := string(body)
	assert.True(t, strings.Contains(text, `jarvis_http_requests_total{code="404",method="GET",route="/api/v1/tasks/{taskID}"} 1`), text)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
