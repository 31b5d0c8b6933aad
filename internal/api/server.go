package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Ardavaa/jarvis-agent/internal/agent"
	"github.com/Ardavaa/jarvis-agent/internal/memory/longterm"
	"github.com/Ardavaa/jarvis-agent/internal/memory/shortterm"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/internal/task"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// Runner 是同步对话所需的智能体能力。
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// ToolHealth 报告各工具服务的可用性，通常由 gateway.Gateway 实现。
type ToolHealth interface {
	Health(ctx context.Context) map[tools.Service]bool
}

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	addr            string
	runner          Runner
	tasks           *task.Service
	shortTerm       *shortterm.Window
	longTerm        longterm.Store
	toolHealth      ToolHealth
	metrics         *metrics.Recorder
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithTaskService 启用异步任务接口。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithShortTerm 启用会话窗口接口。
func WithShortTerm(w *shortterm.Window) Option {
	return func(s *Server) { s.shortTerm = w }
}

// WithLongTerm 启用用户记忆接口。
func WithLongTerm(store longterm.Store) Option {
	return func(s *Server) { s.longTerm = store }
}

// WithToolHealth 让工具列表附带服务健康状态。
func WithToolHealth(h ToolHealth) Option {
	return func(s *Server) { s.toolHealth = h }
}

// WithMetrics 记录请求指标并暴露 /metrics。
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = rec }
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner Runner, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		runner:          runner,
		logger:          logger.Named("api"),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Routes 返回完整的路由树。
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleSubmitTask)
			r.Get("/", s.handleListTasks)
			r.Get("/stats", s.handleTaskStats)
			r.Get("/{taskID}", s.handleTaskDetail)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Get("/{conversationID}/messages", s.handleConversationMessages)
			r.Delete("/{conversationID}", s.handleClearConversation)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/conversations", s.handleUserConversations)
			r.Get("/preferences", s.handleGetPreferences)
			r.Put("/preferences", s.handlePutPreferences)
			r.Get("/interactions", s.handleUserInteractions)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/conversations/{id}", s.handleStoredConversation)
			r.Get("/tasks", s.handleTaskHistory)
		})

		r.Get("/tools", s.handleListTools)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// observe 记录每个请求的路由模板、状态码与耗时。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
		s.logger.Debug("HTTP 请求",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
			slog.Duration("duration", time.Since(start)))
	})
}
