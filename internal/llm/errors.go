package llm

import (
	"context"
	"errors"
	"fmt"
)

// Kind 对上游故障分类。
type Kind string

const (
	KindNotConfigured Kind = "not_configured"
	KindAuth          Kind = "auth"
	KindRateLimited   Kind = "rate_limited"
	KindTimeout       Kind = "timeout"
	KindTransport     Kind = "transport"
	KindBadResponse   Kind = "bad_response"
)

// ErrNotConfigured 表示未配置可用的模型。
var ErrNotConfigured = errors.New("reasoning model is not configured")

// UpstreamError 描述模型调用失败的原因。
type UpstreamError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Misconfigured 报告错误是否源于配置问题，这类问题需要在降级回复中提示。
func (e *UpstreamError) Misconfigured() bool {
	return e.Kind == KindNotConfigured || e.Kind == KindAuth
}

// NewUpstreamError 构造分类错误。
func NewUpstreamError(kind Kind, status int, err error) *UpstreamError {
	return &UpstreamError{Kind: kind, Status: status, Err: err}
}

// Classify 把任意错误归入 UpstreamError，上下文超时归为 KindTimeout。
func Classify(err error) *UpstreamError {
	if err == nil {
		return nil
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		return NewUpstreamError(KindNotConfigured, 0, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewUpstreamError(KindTimeout, 0, err)
	default:
		return NewUpstreamError(KindTransport, 0, err)
	}
}
