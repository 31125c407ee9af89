package ratelimit

import (
	"context"
	"log/slog"

	loggerpkg "OpenMCP-Bank/pkg/logger"
)

// FailOpen 包装一个后端限流器：后端故障时放行请求并记录告警。
type FailOpen struct {
	next   Limiter
	logger *slog.Logger
	onFail func(key string, err error)
}

var _ Limiter = (*FailOpen)(nil)

// NewFailOpen 创建故障放行包装器，onFail 可为空。
func NewFailOpen(next Limiter, onFail func(key string, err error)) *FailOpen {
	return &FailOpen{next: next, logger: loggerpkg.Named("ratelimit"), onFail: onFail}
}

// Allow 实现 Limiter。
func (f *FailOpen) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := f.next.Allow(ctx, key)
	if err == nil {
		return d, nil
	}
	f.logger.Warn("限流后端不可用，放行请求", slog.String("caller_id", key), slog.Any("error", err))
	if f.onFail != nil {
		f.onFail(key, err)
	}
	return Decision{Allowed: true, Remaining: -1}, nil
}
