package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ObserveRun("completed", 2)
	r.ObserveRun("exhausted", 5)
	r.ObserveToolCall("send_email", true, 10*time.Millisecond)
	r.ObserveToolCall("send_email", false, 10*time.Millisecond)
	r.ObserveToolCall("read_email", true, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolCalls.WithLabelValues("send_email", "failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.toolLatency))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.SetBreakerState("oracle", 1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `jarvis_circuit_breaker_state{name="oracle"} 1`)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveRun("completed", 1)
	r.ObserveToolCall("x", true, 0)
	r.ObserveOracle("plan", 0, nil)
	r.ObserveHTTPRequest("/", "GET", 200, 0)
	r.ObserveTask("succeeded")
	assert.Nil(t, r.Registry())
}
