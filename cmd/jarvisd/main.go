package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Ardavaa/jarvis-agent/internal/agent"
	"github.com/Ardavaa/jarvis-agent/internal/api"
	"github.com/Ardavaa/jarvis-agent/internal/config"
	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/gateway"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/internal/llm/ollama"
	"github.com/Ardavaa/jarvis-agent/internal/llm/openai"
	"github.com/Ardavaa/jarvis-agent/internal/memory/longterm"
	"github.com/Ardavaa/jarvis-agent/internal/memory/semantic"
	"github.com/Ardavaa/jarvis-agent/internal/memory/shortterm"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/internal/observability/alerting"
	"github.com/Ardavaa/jarvis-agent/internal/resilience"
	"github.com/Ardavaa/jarvis-agent/internal/task"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// main 是 JARVIS 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("jarvisd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	recorder := metrics.New()

	oracle, err := createOracle(cfg, recorder)
	if err != nil {
		return err
	}

	gw, err := createGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()
	invoker := tools.Invoker(gw)
	if b := cfg.Resilience.GatewayBreaker; b.Enabled {
		invoker = tools.Guard(gw, newBreaker("gateway", b, recorder, func(err error) bool {
			return !xerrors.HasCode(err, xerrors.CodeNoRoute)
		}))
	}
	executor := tools.NewExecutor(invoker, tools.WithExecutorMetrics(recorder))

	longTerm, err := longterm.Open(ctx, longterm.Config{
		Driver:          cfg.Memory.LongTerm.Driver,
		DSN:             cfg.Memory.LongTerm.DSN,
		MaxOpenConns:    cfg.Memory.LongTerm.MaxOpenConns,
		MaxIdleConns:    cfg.Memory.LongTerm.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Memory.LongTerm.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	defer longTerm.Close()

	shortTerm := shortterm.New(cfg.Memory.ShortTerm.Capacity)

	budget, err := llm.NewTokenBudget(cfg.Memory.Semantic.ContextMaxTokens)
	if err != nil {
		return err
	}

	retry := resilience.Policy{
		InitialDelay:  cfg.Resilience.InitialDelay(),
		BackoffFactor: cfg.Resilience.BackoffFactor,
		MaxDelay:      30 * time.Second,
	}
	plannerPolicy, executorPolicy := retry, retry
	plannerPolicy.MaxRetries = cfg.Resilience.PlannerRetries
	executorPolicy.MaxRetries = cfg.Resilience.ExecutorRetries

	agentOpts := []agent.Option{
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithContextWindow(cfg.Agent.ContextWindow),
		agent.WithTemperatures(cfg.Agent.PlannerTemperature, cfg.Agent.ObserverTemperature),
		agent.WithTokenBudget(budget),
		agent.WithPlannerPolicy(plannerPolicy),
		agent.WithExecutorPolicy(executorPolicy),
		agent.WithMetrics(recorder),
	}
	if cfg.Memory.Semantic.Enabled {
		store, err := createVectorStore(cfg)
		if err != nil {
			return err
		}
		agentOpts = append(agentOpts, agent.WithSemanticMemory(semantic.New(oracle, store), cfg.Memory.Semantic.RetrieveLimit))
	}
	jarvis := agent.New(oracle, executor, shortTerm, longTerm, agentOpts...)

	queue, err := createQueue(ctx, cfg)
	if err != nil {
		return err
	}
	taskStore := task.NewMemoryStore()
	tasks := task.NewService(taskStore, queue, cfg.TaskQueue.MaxRetries)
	defer tasks.Close()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.Telegram {
		notifiers = append(notifiers, &alerting.ToolNotifier{
			Invoker:     invoker,
			MinSeverity: xerrors.Severity(cfg.Alerting.MinSeverity),
		})
	}
	processor := task.NewProcessor(jarvis, taskStore, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithRunTimeout(cfg.TaskQueue.RunTimeout()),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		task.WithProcessorMetrics(recorder),
	)

	server := api.NewServer(cfg.Server.Address, jarvis,
		api.WithTaskService(tasks),
		api.WithShortTerm(shortTerm),
		api.WithLongTerm(longTerm),
		api.WithToolHealth(gw),
		api.WithMetrics(recorder),
		api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownSeconds)*time.Second),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() { errCh <- processor.Start(ctx) }()
	go func() { errCh <- server.Start(ctx) }()

	logger.L().Info("JARVIS 已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("gateway", cfg.Gateway.Protocol),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.Bool("semantic_memory", cfg.Memory.Semantic.Enabled))

	err = <-errCh
	cancel()
	<-errCh
	return err
}

func createOracle(cfg *config.Config, recorder *metrics.Recorder) (llm.Oracle, error) {
	var (
		oracle llm.Oracle
		err    error
	)
	switch cfg.LLM.Provider {
	case "openai":
		oracle, err = openai.NewClient(openai.Config{
			APIKey:     cfg.LLM.OpenAI.APIKey,
			BaseURL:    cfg.LLM.OpenAI.BaseURL,
			Model:      cfg.LLM.OpenAI.Model,
			EmbedModel: cfg.LLM.OpenAI.EmbedModel,
			Timeout:    cfg.LLM.OpenAI.Timeout(),
		})
	default:
		oracle, err = ollama.NewClient(ollama.Config{
			BaseURL:    cfg.LLM.Ollama.BaseURL,
			Model:      cfg.LLM.Ollama.Model,
			EmbedModel: cfg.LLM.Ollama.EmbedModel,
			Timeout:    cfg.LLM.Ollama.Timeout(),
		})
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建大模型客户端失败")
	}
	if b := cfg.Resilience.OracleBreaker; b.Enabled {
		oracle = llm.Guard(oracle, newBreaker("oracle", b, recorder, nil))
	}
	return oracle, nil
}

func createGateway(cfg *config.Config) (gateway.Gateway, error) {
	endpoints, err := gateway.ParseEndpoints(cfg.Gateway.Endpoints)
	if err != nil {
		return nil, err
	}
	return gateway.New(cfg.Gateway.Protocol, endpoints, cfg.Gateway.Timeout())
}

func createVectorStore(cfg *config.Config) (semantic.Store, error) {
	path := ""
	if cfg.Memory.Semantic.Persist {
		path = filepath.Join(cfg.Runtime.DataDir, "vectors")
	}
	return semantic.NewChromemStore(path, cfg.Memory.Semantic.Collection)
}

func createQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
	default:
		return task.NewMemoryQueue(cfg.TaskQueue.Buffer), nil
	}
}

func newBreaker(name string, cfg config.BreakerConfig, recorder *metrics.Recorder, countable func(error) bool) *resilience.Breaker {
	opts := []resilience.BreakerOption{
		resilience.WithBreakerName(name),
		resilience.WithStateChangeHook(func(name string, from, to resilience.State) {
			recorder.SetBreakerState(name, int(to))
			logger.L().Warn("熔断器状态变化",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}),
	}
	if countable != nil {
		opts = append(opts, resilience.WithFailurePredicate(countable))
	}
	return resilience.NewBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout(), opts...)
}
