package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisLimiter 在 Redis 中按窗口分桶计数，适合多实例部署共享限流状态。
type RedisLimiter struct {
	client goredis.Cmdable
	policy Policy
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter 创建 Redis 限流器。
func NewRedisLimiter(client goredis.Cmdable, policy Policy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "openmcp:bank:ratelimit"
	}
	return &RedisLimiter{client: client, policy: policy.normalised(), prefix: prefix, now: time.Now}
}

// bucket 返回 key 在 now 所处窗口的 Redis 键与窗口结束时间。
func (l *RedisLimiter) bucket(key string, now time.Time) (string, time.Time) {
	window := l.policy.Window
	start := now.Truncate(window)
	return l.prefix + ":" + key + ":" + strconv.FormatInt(start.Unix(), 10), start.Add(window)
}

// Allow 使用 INCR 与 PEXPIRE 组成的流水线完成原子计数。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	redisKey, resetAt := l.bucket(key, now)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, l.policy.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis 限流计数失败: %w", err)
	}

	count := int(incr.Val())
	if count > l.policy.Limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: l.policy.Limit - count, ResetAt: resetAt}, nil
}
