package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/internal/knowledge"
	"OpenMCP-Bank/internal/llm"
	"OpenMCP-Bank/internal/observability/alerting"
	"OpenMCP-Bank/internal/operation"
	"OpenMCP-Bank/internal/ratelimit"
	"OpenMCP-Bank/internal/tools"
	loggerpkg "OpenMCP-Bank/pkg/logger"
)

// ChatRequest 是一次聊天轮次的输入，CallerID 为空表示匿名访客。
type ChatRequest struct {
	Message    string       `json:"message"`
	CallerID   string       `json:"-"`
	SessionID  string       `json:"-"`
	// RemoteAddr 是客户端地址，匿名调用方按它限流。
	RemoteAddr string       `json:"-"`
	Context    ContextFlags `json:"context"`
}

// ChatResponse 是聊天轮次的输出。
type ChatResponse struct {
	Response    string            `json:"response"`
	Operation   *operation.Parsed `json:"operation,omitempty"`
	OperationID string            `json:"operationId,omitempty"`
	// Degraded 表示本轮由确定性回落生成。
	Degraded  bool     `json:"degraded,omitempty"`
	ToolCalls []string `json:"toolCalls,omitempty"`
}

// Observer 接收编排过程中的指标事件。
type Observer interface {
	ObserveModelCall(phase string, err error, duration time.Duration)
	ObserveFallback(reason string)
	ObserveRateLimited()
}

type noopObserver struct{}

func (noopObserver) ObserveModelCall(string, error, time.Duration) {}
func (noopObserver) ObserveFallback(string)                         {}
func (noopObserver) ObserveRateLimited()                            {}

// Orchestrator 协调限流、上下文、模型与工具，产出一次聊天回复。
type Orchestrator struct {
	limiter    ratelimit.Limiter
	executor   *tools.Executor
	model      llm.Client
	modelErr   error
	assembler  *Assembler
	gate       *operation.Gate
	knowledge  knowledge.Provider
	alerts     alerting.Dispatcher
	observer   Observer
	maxLength  int
	llmTimeout time.Duration
	logger     *slog.Logger
}

// Option 定制 Orchestrator。
type Option func(*Orchestrator)

// WithModel 设置语言模型客户端，client 为 nil 时 err 说明原因。
func WithModel(client llm.Client, err error) Option {
	return func(o *Orchestrator) {
		o.model = client
		o.modelErr = err
	}
}

// WithAssembler 设置上下文组装器。
func WithAssembler(a *Assembler) Option {
	return func(o *Orchestrator) { o.assembler = a }
}

// WithGate 设置操作确认网关。
func WithGate(g *operation.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithKnowledgeProvider 注入知识库检索能力。
func WithKnowledgeProvider(p knowledge.Provider) Option {
	return func(o *Orchestrator) { o.knowledge = p }
}

// WithAlerts 设置模型降级时的告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(o *Orchestrator) { o.alerts = d }
}

// WithObserver 设置指标观察者。
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithMaxMessageLength 设置清洗后消息的最大长度。
func WithMaxMessageLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxLength = n
		}
	}
}

// WithLLMTimeout 配置单次模型调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.llmTimeout = timeout
		}
	}
}

// New 创建编排器。
func New(limiter ratelimit.Limiter, executor *tools.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		limiter:    limiter,
		executor:   executor,
		observer:   noopObserver{},
		maxLength:  DefaultMaxMessageLength,
		llmTimeout: 45 * time.Second,
		logger:     loggerpkg.Named("agent"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chat 执行一次完整的聊天轮次。
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message is required")
	}
	if err := o.admit(ctx, req); err != nil {
		return nil, err
	}

	message := Sanitize(req.Message, o.maxLength)
	if message == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message is empty after sanitization")
	}
	authenticated := req.CallerID != ""
	ec := tools.ExecutionContext{
		CallerID:           req.CallerID,
		SessionID:          req.SessionID,
		AllowOnchainLookup: ExplicitOnchainRequest(message),
	}

	var cc ConversationContext
	if authenticated {
		assembled, err := o.assembler.Assemble(ctx, req.CallerID, req.Context)
		if err != nil {
			o.logger.Warn("组装对话上下文失败", slog.String("caller_id", req.CallerID), slog.String("error", err.Error()))
		} else {
			cc = assembled
		}
	}

	if o.model == nil {
		cause := o.modelErr
		if cause == nil {
			cause = llm.ErrNotConfigured
		}
		return o.degrade(ctx, message, ec, llm.Classify(cause)), nil
	}

	answer, called, err := o.converse(ctx, message, ec, cc)
	if err != nil {
		return o.degrade(ctx, message, ec, llm.Classify(err)), nil
	}

	resp := &ChatResponse{Response: answer, ToolCalls: called}
	if authenticated && o.gate != nil {
		parsed, record, err := o.gate.Detect(ctx, req.CallerID, message, answer)
		if err != nil {
			o.logger.Error("记录识别出的操作失败", slog.String("caller_id", req.CallerID), slog.String("error", err.Error()))
		}
		resp.Operation = parsed
		if record != nil {
			resp.OperationID = record.ID
		}
	}
	return resp, nil
}

func (o *Orchestrator) admit(ctx context.Context, req ChatRequest) error {
	if o.limiter == nil {
		return nil
	}
	key := limitKey(req)
	decision, err := o.limiter.Allow(ctx, key)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "rate limiter unavailable")
	}
	if !decision.Allowed {
		o.observer.ObserveRateLimited()
		retry := decision.RetryAfter(time.Now())
		return xerrors.New(xerrors.CodeRateLimited, "too many requests, please try again later",
			xerrors.WithMetadata("retry_after_seconds", strconv.Itoa(int(retry.Round(time.Second).Seconds()))))
	}
	return nil
}

// limitKey 返回限流键，匿名调用方按客户端地址计数。
func limitKey(req ChatRequest) string {
	if req.CallerID != "" {
		return req.CallerID
	}
	if req.RemoteAddr != "" {
		return "anonymous:" + req.RemoteAddr
	}
	return "anonymous"
}

// converse 执行两阶段模型调用，返回最终回答与调用过的工具。
func (o *Orchestrator) converse(ctx context.Context, message string, ec tools.ExecutionContext, cc ConversationContext) (string, []string, error) {
	authenticated := ec.CallerID != ""
	var notes []knowledge.Snippet
	if o.knowledge != nil {
		notes = o.knowledge.Query(message)
	}
	conv := llm.NewConversation(systemPrompt(authenticated, cc, notes)).User(message)

	var specs []llm.FunctionSpec
	if authenticated && o.executor != nil {
		specs = functionSpecs(o.executor.Registry().List())
	}

	first, err := o.complete(ctx, "initial", conv.Request(specs))
	if err != nil {
		return "", nil, err
	}
	if !first.WantsTools() || len(specs) == 0 {
		if strings.TrimSpace(first.Content) == "" {
			return "", nil, llm.NewUpstreamError(llm.KindBadResponse, 0, errors.New("empty answer"))
		}
		return first.Content, nil, nil
	}

	outputs := o.runTools(ctx, first.ToolCalls, ec)
	conv = conv.Assistant(first)
	called := make([]string, 0, len(first.ToolCalls))
	for i, call := range first.ToolCalls {
		conv = conv.ToolResult(call.ID, call.Name, outputs[i])
		called = append(called, call.Name)
	}

	final, err := o.complete(ctx, "final", conv.Request(nil))
	if err != nil {
		return "", called, err
	}
	if strings.TrimSpace(final.Content) == "" {
		return "", called, llm.NewUpstreamError(llm.KindBadResponse, 0, errors.New("empty final answer"))
	}
	return final.Content, called, nil
}

func (o *Orchestrator) complete(ctx context.Context, phase string, req llm.Request) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()
	start := time.Now()
	resp, err := o.model.Complete(callCtx, req)
	if err == nil && resp == nil {
		err = llm.NewUpstreamError(llm.KindBadResponse, 0, errors.New("nil response"))
	}
	o.observer.ObserveModelCall(phase, err, time.Since(start))
	return resp, err
}

// runTools 并发执行同一轮的全部工具调用，结果按请求顺序返回，失败被编码为工具结果。
func (o *Orchestrator) runTools(ctx context.Context, calls []llm.ToolCall, ec tools.ExecutionContext) []string {
	outputs := make([]string, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			outputs[i] = o.runTool(ctx, call, ec)
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

func (o *Orchestrator) runTool(ctx context.Context, call llm.ToolCall, ec tools.ExecutionContext) string {
	var args map[string]any
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return encodeResult(tools.Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)})
		}
	}
	result, err := o.executor.Execute(ctx, call.Name, args, ec)
	if err != nil {
		result = tools.Result{Success: false, Error: err.Error()}
	}
	return encodeResult(result)
}

func encodeResult(result tools.Result) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return `{"success":false,"error":"result could not be encoded"}`
	}
	return string(raw)
}

func (o *Orchestrator) degrade(ctx context.Context, message string, ec tools.ExecutionContext, cause *llm.UpstreamError) *ChatResponse {
	reason := string(cause.Kind)
	o.observer.ObserveFallback(reason)
	o.logger.Warn("模型不可用，使用确定性回落",
		slog.String("reason", reason),
		slog.String("caller_id", ec.CallerID),
		slog.String("error", cause.Error()),
	)
	if cause.Kind != llm.KindNotConfigured && o.alerts != nil {
		alerting.Notify(ctx, o.alerts, alerting.Event{
			Code:       xerrors.CodeUpstreamFailure,
			Message:    "language model degraded: " + reason,
			Severity:   xerrors.SeverityWarning,
			Component:  "agent",
			CallerID:   ec.CallerID,
			Metadata:   map[string]string{"kind": reason},
			OccurredAt: time.Now().UTC(),
		})
	}
	f := fallback{executor: o.executor, knowledge: o.knowledge}
	return &ChatResponse{Response: f.respond(ctx, message, ec, cause), Degraded: true}
}

func functionSpecs(list []tools.Tool) []llm.FunctionSpec {
	specs := make([]llm.FunctionSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, llm.FunctionSpec{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return specs
}
