package settlement

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisDispatcher 使用 Redis list 投递结算指令。
type RedisDispatcher struct {
	client goredis.UniversalClient
	queue  string
}

var _ Dispatcher = (*RedisDispatcher)(nil)

// NewRedisDispatcher 基于已建立的客户端创建结算器。
func NewRedisDispatcher(client goredis.UniversalClient, queue string) (*RedisDispatcher, error) {
	if client == nil {
		return nil, errors.New("Redis client 不能为空")
	}
	if queue == "" {
		queue = "openmcp:bank:settlement"
	}
	return &RedisDispatcher{client: client, queue: queue}, nil
}

// Dispatch 将指令写入队列头部，下游通过 BRPOP 消费。
func (d *RedisDispatcher) Dispatch(ctx context.Context, inst Instruction) (string, error) {
	inst, body, err := prepare(inst)
	if err != nil {
		return "", err
	}
	if err := d.client.LPush(ctx, d.queue, body).Err(); err != nil {
		return "", fmt.Errorf("Redis 投递结算指令失败: %w", err)
	}
	return result(inst, "redis:"+d.queue), nil
}

// Close 关闭 Redis 连接。
func (d *RedisDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
