package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog  Channel = "log"
	ChannelAMQP Channel = "amqp"
)

// Event 描述一次需要上报的结构化事件：候选后端的单次失败、
// 策略闸门的拦截、结算层的执行失败等。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TurnID     string
	Candidate  string
	IntentID   string
	Status     string
	Factors    []string
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

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
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

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将事件写入结构化日志，是默认渠道。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 创建日志通知器。
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.Named("alerting")}
}

// Channel 返回渠道标识。
func (n *LogNotifier) Channel() Channel {
	return ChannelLog
}

// Notify 按严重程度选择日志级别输出事件。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("message", event.Message),
		slog.String("turn_id", event.TurnID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.Candidate != "" {
		attrs = append(attrs, slog.String("candidate", event.Candidate))
	}
	if event.IntentID != "" {
		attrs = append(attrs, slog.String("intent_id", event.IntentID))
	}
	if event.Status != "" {
		attrs = append(attrs, slog.String("status", event.Status))
	}
	if len(event.Factors) > 0 {
		attrs = append(attrs, slog.Any("factors", event.Factors))
	}

	switch event.Severity {
	case xerrors.SeverityCritical:
		n.logger.Error("alert event", attrs...)
	case xerrors.SeverityWarning:
		n.logger.Warn("alert event", attrs...)
	default:
		n.logger.Info("alert event", attrs...)
	}
	return nil
}
