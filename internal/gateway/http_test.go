package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

func newToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req executeRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Tool {
		case "send_email":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"result":  map[string]any{"message_id": "m-1", "to": req.Parameters["to"]},
			})
		case "read_email":
			json.NewEncoder(w).Encode(map[string]any{"success": false, "result": nil, "error": "mailbox locked"})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"detail": "Tool '" + req.Tool + "' not found"})
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tools":[{"name":"send_email","description":"Send an email","parameters":[{"name":"to"}]}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTP(t *testing.T, endpoints map[tools.Service]string) *HTTP {
	t.Helper()
	g := NewHTTP(HTTPConfig{Endpoints: endpoints, Logger: logger.Discard()})
	t.Cleanup(func() { g.Close() })
	return g
}

func TestHTTPInvokeSuccess(t *testing.T) {
	srv := newToolServer(t)
	g := newTestHTTP(t, map[tools.Service]string{tools.ServiceMail: srv.URL + "/"})

	got, err := g.Invoke(context.Background(), tools.ServiceMail, tools.SendEmail, map[string]any{"to": "a@b.c"})
	require.NoError(t, err)
	result, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m-1", result["message_id"])
	assert.Equal(t, "a@b.c", result["to"])
}

func TestHTTPInvokeToolError(t *testing.T) {
	srv := newToolServer(t)
	g := newTestHTTP(t, map[tools.Service]string{tools.ServiceMail: srv.URL})

	_, err := g.Invoke(context.Background(), tools.ServiceMail, tools.ReadEmail, map[string]any{"email_id": "1"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeToolExecution, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "mailbox locked")
}

func TestHTTPInvokeStatusError(t *testing.T) {
	srv := newToolServer(t)
	g := newTestHTTP(t, map[tools.Service]string{tools.ServiceMail: srv.URL})

	_, err := g.Invoke(context.Background(), tools.ServiceMail, tools.ListEmails, nil)
	require.Error(t, err)
	assert.True(t, xerrors.RetryableError(err))
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not found")
}

func TestHTTPInvokeRejectsOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":true,"result":"`))
		w.Write([]byte(strings.Repeat("a", maxResponseBody)))
		w.Write([]byte(`"}`))
	}))
	t.Cleanup(srv.Close)
	g := newTestHTTP(t, map[tools.Service]string{tools.ServiceOSAutomation: srv.URL})

	_, err := g.Invoke(context.Background(), tools.ServiceOSAutomation, tools.RunPowerShell, map[string]any{"command": "dir"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeToolExecution, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "响应超过")
}

func TestHTTPInvokeUnknownService(t *testing.T) {
	g := newTestHTTP(t, nil)
	_, err := g.Invoke(context.Background(), tools.ServiceVoice, tools.TranscribeAudio, nil)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeNoRoute, xerrors.CodeOf(err))
}

func TestHTTPHealthAndListTools(t *testing.T) {
	srv := newToolServer(t)
	g := newTestHTTP(t, map[tools.Service]string{
		tools.ServiceMail:  srv.URL,
		tools.ServiceVoice: "http://127.0.0.1:1",
	})

	status := g.Health(context.Background())
	assert.Equal(t, map[tools.Service]bool{tools.ServiceMail: true, tools.ServiceVoice: false}, status)

	list, err := g.ListTools(context.Background(), tools.ServiceMail)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "send_email", list[0].Name)
}

func TestParseEndpoints(t *testing.T) {
	got, err := ParseEndpoints(map[string]string{"mail": " http://localhost:8005/ "})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8005", got[tools.ServiceMail])

	_, err = ParseEndpoints(map[string]string{"gmail": "http://x"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	_, err := New("grpc", nil, 0)
	assert.Error(t, err)

	g, err := New("", nil, 0)
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, g)
}
