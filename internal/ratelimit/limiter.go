// Package ratelimit implements the fixed-window request counter that guards
// the chat endpoint. Windows reset lazily on the next request for a key, and
// the memory limiter drops expired windows at most once per window length.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision 是一次限流判定的结果。
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter 返回距离窗口重置的剩余时间。
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter 按调用方标识做原子的计数加判定。
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Policy 定义窗口内允许的请求数。
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) normalised() Policy {
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return p
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter 在进程内存中维护计数。
type MemoryLimiter struct {
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	nextSweep time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryOption 定制 MemoryLimiter。
type MemoryOption func(*MemoryLimiter)

// WithClock 注入时钟，便于测试窗口重置。
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryLimiter 创建内存限流器。
func NewMemoryLimiter(policy Policy, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		policy:  policy.normalised(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow 实现 Limiter。
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.policy.Window)}
		l.windows[key] = w
	}
	if w.count >= l.policy.Limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: l.policy.Limit - w.count, ResetAt: w.resetAt}, nil
}

// sweep 删除已过期的窗口，调用方需持有锁。
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.nextSweep = now.Add(l.policy.Window)
}

// Len 返回当前跟踪的键数量。
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
