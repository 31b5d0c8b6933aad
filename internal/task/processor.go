package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ardavaa/jarvis-agent/internal/agent"
	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/metrics"
	"github.com/Ardavaa/jarvis-agent/internal/observability/alerting"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// Runner 定义了处理器所需的智能体能力，*agent.Agent 满足该接口。
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Processor 负责从队列消费任务并交给智能体执行。
type Processor struct {
	runner      Runner
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	timeout     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	metrics     *metrics.Recorder
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRunTimeout 限制单次运行的耗时，超时视为可重试失败。
func WithRunTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = d
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithProcessorMetrics 记录任务终态。
func WithProcessorMetrics(rec *metrics.Recorder) ProcessorOption {
	return func(p *Processor) {
		p.metrics = rec
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner Runner, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task.processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到上下文取消或队列出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	result, runErr := p.run(ctx, task)
	if runErr != nil {
		return p.handleRunFailure(ctx, task, result, runErr)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), result, false); storeErr != nil {
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		return nil
	}
	p.metrics.ObserveTask(string(StatusSucceeded))

	attrs := []any{slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts)}
	if result != nil {
		attrs = append(attrs,
			slog.String("conversation_id", result.ConversationID),
			slog.Int("iterations", result.Iterations))
	}
	logger.Audit().Info("任务执行成功", attrs...)
	return nil
}

func (p *Processor) run(ctx context.Context, task *Task) (*agent.Response, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	result, err := p.runner.Run(ctx, task.Request)
	if err != nil && stdErrors.Is(err, context.DeadlineExceeded) && !xerrors.HasCode(err, xerrors.CodeTimeout) {
		err = xerrors.Wrap(xerrors.CodeTimeout, err, "任务执行超时")
	}
	return result, err
}

func (p *Processor) handleRunFailure(ctx context.Context, task *Task, envelope *agent.Response, runErr error) error {
	code := xerrors.CodeOf(runErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(runErr)
	exhausted := task.Attempts >= task.MaxRetries
	terminal := exhausted || !retryable

	if err := p.store.MarkFailed(ctx, task.ID, code, runErr.Error(), envelope, terminal); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", runErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	switch {
	case terminal && retryable:
		p.metrics.ObserveTask(string(StatusFailed))
		p.emitAlert(ctx, task, CodeTaskExhausted, runErr, "terminal")
	case terminal:
		p.metrics.ObserveTask(string(StatusFailed))
		p.emitAlert(ctx, task, code, runErr, "non_retryable")
	default:
		p.metrics.ObserveTask("retried")
		p.emitAlert(ctx, task, code, runErr, "retry")
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = xerrors.UserMessage(cause)
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
