package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 结算队列的连接参数。
type RabbitMQConfig struct {
	URL     string
	Queue   string
	Durable bool
}

// RabbitMQDispatcher 把结算指令发布到 RabbitMQ 队列。
type RabbitMQDispatcher struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch *amqp.Channel
}

var _ Dispatcher = (*RabbitMQDispatcher)(nil)

// NewRabbitMQDispatcher 建立连接并声明队列。
func NewRabbitMQDispatcher(cfg RabbitMQConfig) (*RabbitMQDispatcher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "openmcp.bank.settlement"
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
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQDispatcher{conn: conn, ch: ch, queue: queue}, nil
}

// Dispatch 实现 Dispatcher。amqp channel 不是并发安全的，发布时加锁。
func (d *RabbitMQDispatcher) Dispatch(ctx context.Context, inst Instruction) (string, error) {
	if d == nil || d.ch == nil {
		return "", errors.New("RabbitMQ 结算器未初始化")
	}
	inst, body, err := prepare(inst)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	err = d.ch.PublishWithContext(ctx, "", d.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     inst.Reference,
		CorrelationId: inst.OperationID,
		Timestamp:     inst.ConfirmedAt,
		Body:          body,
	})
	d.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("RabbitMQ 发布结算指令失败: %w", err)
	}
	return result(inst, "rabbitmq:"+d.queue), nil
}

// Close 关闭 RabbitMQ 连接。
func (d *RabbitMQDispatcher) Close() error {
	if d == nil {
		return nil
	}
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
