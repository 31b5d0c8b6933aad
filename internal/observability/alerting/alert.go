package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelTelegram Channel = "telegram"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TaskID     string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 将事件投递到全部已注册的通知器。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher，同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有渠道，各渠道的错误合并返回。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 按严重程度写日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	level := slog.LevelWarn
	switch event.Severity {
	case xerrors.SeverityCritical:
		level = slog.LevelError
	case xerrors.SeverityInfo:
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("code", string(event.Code)),
		slog.String("task_id", event.TaskID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.String("message", event.Message),
	}
	for _, key := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String(key, event.Metadata[key]))
	}
	l.LogAttrs(ctx, level, "告警", attrs...)
	return nil
}

// ToolNotifier 通过 send_telegram_notification 工具把告警推送给用户。
type ToolNotifier struct {
	Invoker tools.Invoker
	// MinSeverity 以下的事件不推送，默认只推送 critical。
	MinSeverity xerrors.Severity
}

// Channel 返回 Telegram 渠道。
func (n *ToolNotifier) Channel() Channel { return ChannelTelegram }

// Notify 调用消息服务发送通知。
func (n *ToolNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Invoker == nil {
		logger.L().Warn("ToolNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	minimum := n.MinSeverity
	if minimum == "" {
		minimum = xerrors.SeverityCritical
	}
	if rank(event.Severity) < rank(minimum) {
		return nil
	}
	service, _ := tools.ServiceOf(tools.SendTelegramNotification)
	_, err := n.Invoker.Invoke(ctx, service, tools.SendTelegramNotification, map[string]any{
		"message": FormatMessage(event),
	})
	return err
}

// FormatMessage 渲染面向用户的告警文本。
func FormatMessage(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(event.Severity)), event.Code)
	if event.TaskID != "" {
		fmt.Fprintf(&b, "任务: %s\n重试: %d/%d\n", event.TaskID, event.Attempts, event.MaxRetries)
	}
	b.WriteString(event.Message)
	for _, key := range sortedKeys(event.Metadata) {
		fmt.Fprintf(&b, "\n- %s: %s", key, event.Metadata[key])
	}
	return b.String()
}

func rank(s xerrors.Severity) int {
	switch s {
	case xerrors.SeverityInfo:
		return 0
	case xerrors.SeverityWarning:
		return 1
	case xerrors.SeverityCritical:
		return 2
	default:
		return 1
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
