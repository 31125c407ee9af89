package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	xerrors "OpenMCP-Bank/internal/errors"
	loggerpkg "OpenMCP-Bank/pkg/logger"
)

// ErrUnknownTool 表示工具未在注册表中。
var ErrUnknownTool = errors.New("unknown tool")

// ErrMissingCaller 表示执行上下文未携带调用方身份。
var ErrMissingCaller = errors.New("tool execution requires a caller id")

// identityKeys 是会被从参数中剔除的身份字段，身份只能来自执行上下文。
var identityKeys = []string{"callerId", "callerID", "caller_id", "profileId", "profileID", "profile_id", "userId", "user_id"}

const defaultTimeout = 10 * time.Second

// Observer 接收每次工具执行的结果，用于指标上报。
type Observer func(tool string, success bool, duration time.Duration)

// Executor 将工具调用绑定到调用方身份。
type Executor struct {
	registry *Registry
	timeout  time.Duration
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

// ExecutorOption 定制 Executor。
type ExecutorOption func(*Executor)

// WithTimeout 设置单次调用的超时时间。
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver 注册执行观察者。
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor 创建执行器。
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		timeout:  defaultTimeout,
		now:      time.Now,
		logger:   loggerpkg.Named("tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry 返回执行器绑定的注册表。
func (e *Executor) Registry() *Registry { return e.registry }

// Execute 执行工具。仅未知工具和缺失身份以 error 返回，其余失败都落在 Result 中。
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, ec ExecutionContext) (Result, error) {
	entry, ok := e.registry.lookup(name)
	if !ok {
		return Result{}, xerrors.Wrap(xerrors.CodeNotFound, ErrUnknownTool, fmt.Sprintf("unknown tool: %s", name),
			xerrors.WithMetadata("tool", name))
	}
	if strings.TrimSpace(ec.CallerID) == "" {
		return Result{}, xerrors.Wrap(xerrors.CodeUnauthorized, ErrMissingCaller, "missing caller identity")
	}

	start := e.now()
	result := e.run(ctx, entry, stripIdentity(args), ec)
	if e.observer != nil {
		e.observer(name, result.Success, e.now().Sub(start))
	}
	if !result.Success {
		e.logger.Warn("工具执行失败",
			slog.String("tool", name),
			slog.String("caller_id", ec.CallerID),
			slog.String("error", result.Error),
		)
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, entry *entry, args map[string]any, ec ExecutionContext) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = e.failure(fmt.Sprintf("tool %s failed unexpectedly", entry.tool.Name))
			e.logger.Error("工具处理函数 panic", slog.String("tool", entry.tool.Name), slog.Any("panic", r))
		}
	}()

	if entry.explicitOnly && !ec.AllowOnchainLookup {
		return e.failure("this lookup only runs when the user explicitly asks for it (for example \"check onchain\")")
	}
	if msg := validate(entry.schema, args); msg != "" {
		return e.failure(msg)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := entry.handler(callCtx, args, ec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return e.failure(fmt.Sprintf("tool %s timed out after %s", entry.tool.Name, e.timeout))
		}
		return e.failure(errorText(err))
	}
	return Result{Success: true, Data: data, Timestamp: stamp(e.now())}
}

func (e *Executor) failure(msg string) Result {
	return Result{Success: false, Error: msg, Timestamp: stamp(e.now())}
}

func validate(schema *gojsonschema.Schema, args map[string]any) string {
	if schema == nil {
		return ""
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Sprintf("invalid arguments: %v", err)
	}
	if res.Valid() {
		return ""
	}
	parts := make([]string, 0, len(res.Errors()))
	for _, desc := range res.Errors() {
		parts = append(parts, desc.String())
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// errorText 返回适合展示给调用方的错误描述，内部错误不暴露细节。
func errorText(err error) string {
	if coded, ok := xerrors.From(err); ok {
		return coded.Message()
	}
	return err.Error()
}

func stripIdentity(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, key := range identityKeys {
		delete(out, key)
	}
	return out
}
