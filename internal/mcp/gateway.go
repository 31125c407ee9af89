// Package mcp 实现两方法的工具协议网关：list 返回工具目录，call 执行单个工具。
// 身份在解析方法之前校验，任何缺失或不合法的身份都直接返回 401。
package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"OpenMCP-Bank/internal/auth"
	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/internal/tools"
	loggerpkg "OpenMCP-Bank/pkg/logger"
)

// 协议方法。
const (
	MethodList = "list"
	MethodCall = "call"
)

// SessionHeader 携带可选的会话标识。
const SessionHeader = "X-Session-ID"

const maxBodyBytes = 1 << 20

// Request 是协议请求体。
type Request struct {
	Method  string      `json:"method"`
	Params  *CallParams `json:"params,omitempty"`
	Context struct {
		ProfileID string `json:"profileId"`
	} `json:"context"`
}

// CallParams 是 call 方法的参数。
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ListResponse 是 list 方法的响应。
type ListResponse struct {
	Tools []tools.Tool `json:"tools"`
}

// Content 是 call 响应中的一段内容。
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResponse 是 call 方法的响应，Text 为 JSON 编码的 tools.Result。
type CallResponse struct {
	Content []Content `json:"content"`
}

// ErrorBody 是协议错误响应。
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Gateway 是协议网关的 HTTP 处理器。
type Gateway struct {
	auth     *auth.Service
	executor *tools.Executor
	audit    *slog.Logger
	now      func() time.Time
}

// Option 定制 Gateway。
type Option func(*Gateway)

// WithAuditLogger 替换审计日志记录器。
func WithAuditLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.audit = l
		}
	}
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway 创建协议网关。
func NewGateway(authSvc *auth.Service, executor *tools.Executor, opts ...Option) *Gateway {
	g := &Gateway{
		auth:     authSvc,
		executor: executor,
		audit:    loggerpkg.Audit(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type exchange struct {
	method   string
	tool     string
	callerID string
}

// ServeHTTP 实现 http.Handler。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ex exchange
	status, err := g.serve(w, r, &ex)
	if err != nil {
		status = xerrors.HTTPStatusOf(err)
		writeError(w, status, err)
	}
	g.log(ex, status, err)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, ex *exchange) (int, error) {
	body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var req Request
	decodeErr := readErr
	if decodeErr == nil {
		decodeErr = json.Unmarshal(body, &req)
	}

	claimed := req.Context.ProfileID
	if claimed == "" {
		claimed = r.Header.Get(auth.ProfileHeader)
	}
	subject, err := g.auth.ResolveCaller(r.Context(), r.Header.Get("Authorization"), claimed)
	if err != nil {
		return 0, err
	}
	ex.callerID = subject.ProfileID

	if decodeErr != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, decodeErr, "request body must be a JSON protocol request")
	}
	ex.method = req.Method

	switch req.Method {
	case MethodList:
		writeJSON(w, http.StatusOK, ListResponse{Tools: g.executor.Registry().List()})
		return http.StatusOK, nil
	case MethodCall:
		if req.Params == nil || strings.TrimSpace(req.Params.Name) == "" {
			return 0, xerrors.New(xerrors.CodeInvalidArgument, "params.name is required for call")
		}
		ex.tool = req.Params.Name
		if _, ok := g.executor.Registry().Lookup(req.Params.Name); !ok {
			return 0, xerrors.New(xerrors.CodeNotFound, "unknown tool: "+req.Params.Name)
		}
		result, err := g.executor.Execute(r.Context(), req.Params.Name, req.Params.Arguments, tools.ExecutionContext{
			CallerID:  subject.ProfileID,
			SessionID: r.Header.Get(SessionHeader),
			// 协议调用方点名调用工具，本身即为显式请求。
			AllowOnchainLookup: true,
		})
		if err != nil {
			return 0, err
		}
		text, err := json.Marshal(result)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeUnknown, err, "encode tool result")
		}
		writeJSON(w, http.StatusOK, CallResponse{Content: []Content{{Type: "text", Text: string(text)}}})
		return http.StatusOK, nil
	default:
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "unsupported method: "+req.Method)
	}
}

func (g *Gateway) log(ex exchange, status int, err error) {
	attrs := []any{
		slog.String("timestamp", g.now().UTC().Format(time.RFC3339Nano)),
		slog.Any("method", nullable(ex.method)),
		slog.Any("tool", nullable(ex.tool)),
		slog.Any("callerId", nullable(ex.callerID)),
		slog.Int("status", status),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		g.audit.Warn("mcp_request", attrs...)
		return
	}
	attrs = append(attrs, slog.Any("error", nil))
	g.audit.Info("mcp_request", attrs...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	var body ErrorBody
	body.Error.Code = xerrors.PublicCode(err)
	body.Error.Message = PublicMessage(err)
	writeJSON(w, status, body)
}

// PublicMessage 返回可展示给调用方的错误描述，内部错误不暴露细节。
func PublicMessage(err error) string {
	if xerrors.PublicCode(err) == "INTERNAL_ERROR" {
		return "internal error"
	}
	var coded *xerrors.Error
	if errors.As(err, &coded) {
		return coded.Message()
	}
	return err.Error()
}
