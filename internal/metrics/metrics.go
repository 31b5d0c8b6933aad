// Package metrics exposes Prometheus collectors for the agent loop, tool
// dispatch, oracle calls and the REST API. A nil *Recorder is valid and
// records nothing, so components can take one optionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jarvis"

// Recorder 汇总了系统内所有 Prometheus 指标。
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	iterations    prometheus.Histogram
	toolCalls     *prometheus.CounterVec
	toolLatency   *prometheus.HistogramVec
	oracleLatency *prometheus.HistogramVec
	oracleErrors  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	tasks         *prometheus.CounterVec
}

// New 在独立的 Registry 上注册全部指标。
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by termination reason.",
		}, []string{"outcome"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_iterations",
			Help:      "Plan-act-observe iterations used per run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 10, 15, 20},
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		oracleLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Oracle round-trip latency by stage.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		oracleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_errors_total",
			Help:      "Failed oracle round trips by stage.",
		}, []string{"stage"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route", "method"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Asynchronous agent tasks by final state.",
		}, []string{"state"}),
	}
}

// Registry 返回底层 Registry，主要用于测试。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /metrics 的处理器。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRun 记录一次智能体运行。
func (r *Recorder) ObserveRun(outcome string, iterations int) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.iterations.Observe(float64(iterations))
}

// ObserveToolCall 记录一次工具调用。
func (r *Recorder) ObserveToolCall(tool string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.toolCalls.WithLabelValues(tool, outcome).Inc()
	r.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveOracle 记录一次模型调用。
func (r *Recorder) ObserveOracle(stage string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.oracleLatency.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		r.oracleErrors.WithLabelValues(stage).Inc()
	}
}

// SetBreakerState 记录熔断器当前状态。
func (r *Recorder) SetBreakerState(name string, state int) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (r *Recorder) ObserveHTTPRequest(route, method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveTask 记录异步任务的最终状态。
func (r *Recorder) ObserveTask(state string) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(state).Inc()
}
