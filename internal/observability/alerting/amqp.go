package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig 描述 RabbitMQ 告警通道的连接参数。
type AMQPConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// AMQPNotifier 将事件以 JSON 形式投递到 RabbitMQ 队列，
// 供外部审计或告警系统消费。
type AMQPNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// amqpEvent 是事件在队列上的线格式。
type amqpEvent struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Severity   string            `json:"severity"`
	TurnID     string            `json:"turn_id,omitempty"`
	Candidate  string            `json:"candidate,omitempty"`
	IntentID   string            `json:"intent_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Factors    []string          `json:"factors,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewAMQPNotifier 建立连接并声明告警队列。
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "arcflow.alerts"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明告警队列失败: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// Channel 返回渠道标识。
func (n *AMQPNotifier) Channel() Channel {
	return ChannelAMQP
}

// Notify 发布事件到告警队列。
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.ch == nil {
		return errors.New("告警队列未初始化")
	}
	body, err := json.Marshal(amqpEvent{
		Code:       string(event.Code),
		Message:    event.Message,
		Severity:   string(event.Severity),
		TurnID:     event.TurnID,
		Candidate:  event.Candidate,
		IntentID:   event.IntentID,
		Status:     event.Status,
		Factors:    event.Factors,
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("序列化告警事件失败: %w", err)
	}
	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close 释放连接。
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	var errs []error
	if n.ch != nil {
		errs = append(errs, n.ch.Close())
	}
	if n.conn != nil {
		errs = append(errs, n.conn.Close())
	}
	return errors.Join(errs...)
}
