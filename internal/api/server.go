package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenMCP-Bank/internal/agent"
	"OpenMCP-Bank/internal/auth"
	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/internal/mcp"
	"OpenMCP-Bank/internal/observability/metrics"
	"OpenMCP-Bank/internal/operation"
	loggerpkg "OpenMCP-Bank/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Config 控制 HTTP 服务的监听与超时参数。
type Config struct {
	Address            string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	AllowAnonymousChat bool
}

// Dependencies 汇集服务依赖的组件，Metrics 可以为空。
type Dependencies struct {
	Orchestrator *agent.Orchestrator
	Gateway      *mcp.Gateway
	Gate         *operation.Gate
	Auth         *auth.Service
	Metrics      *metrics.Metrics
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, deps Dependencies) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 90 * time.Second
	}
	return &Server{cfg: cfg, deps: deps, logger: loggerpkg.Named("api")}
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protected := func(event string, h http.HandlerFunc) http.Handler {
		return s.deps.Auth.Middleware(auth.MiddlewareConfig{AuditEvent: event})(h)
	}

	s.route(mux, "POST /mcp", "mcp", s.deps.Gateway)
	s.route(mux, "POST /api/v1/chat", "chat", http.HandlerFunc(s.handleChat))
	s.route(mux, "POST /api/v1/auth/token", "auth.token", http.HandlerFunc(s.handleToken))
	s.route(mux, "GET /api/v1/operations", "operation.list", protected("operation.list", s.handleListOperations))
	s.route(mux, "POST /api/v1/operations", "operation.submit", protected("operation.submit", s.handleSubmitOperation))
	s.route(mux, "GET /api/v1/operations/{id}", "operation.get", protected("operation.get", s.handleGetOperation))
	s.route(mux, "POST /api/v1/operations/{id}/confirm", "operation.confirm", protected("operation.confirm", s.handleConfirmOperation))
	s.route(mux, "POST /api/v1/operations/{id}/reject", "operation.reject", protected("operation.reject", s.handleRejectOperation))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	if s.deps.Metrics != nil {
		h = s.deps.Metrics.Middleware(name, h)
	}
	mux.Handle(pattern, h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.cfg.Address))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type chatRequest struct {
	Message string `json:"message"`
	Context struct {
		ProfileID           string `json:"profileId"`
		IncludeBalance      bool   `json:"includeBalance"`
		IncludeTransactions bool   `json:"includeTransactions"`
		IncludeRecipients   bool   `json:"includeRecipients"`
	} `json:"context"`
}

type chatResponse struct {
	Success     bool              `json:"success"`
	Response    string            `json:"response,omitempty"`
	Operation   *operation.Parsed `json:"operation"`
	OperationID string            `json:"operationId,omitempty"`
	Message     string            `json:"message,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orchestrator == nil {
		writeChatError(w, xerrors.New(xerrors.CodeInitializationFailure, "chat is not available"))
		return
	}
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeChatError(w, err)
		return
	}

	callerID, err := s.chatCaller(r, req.Context.ProfileID)
	if err != nil {
		writeChatError(w, err)
		return
	}

	// 轮次开始后一直运行到完成或超时，客户端断开不会中途取消。
	resp, err := s.deps.Orchestrator.Chat(context.WithoutCancel(r.Context()), agent.ChatRequest{
		Message:    req.Message,
		CallerID:   callerID,
		SessionID:  r.Header.Get(mcp.SessionHeader),
		RemoteAddr: clientHost(r.RemoteAddr),
		Context: agent.ContextFlags{
			IncludeBalance:      req.Context.IncludeBalance,
			IncludeTransactions: req.Context.IncludeTransactions,
			IncludeRecipients:   req.Context.IncludeRecipients,
		},
	})
	if err != nil {
		if coded, ok := xerrors.From(err); ok && coded.Code() == xerrors.CodeRateLimited {
			if retry := coded.Metadata()["retry_after_seconds"]; retry != "" {
				w.Header().Set("Retry-After", retry)
			}
		}
		if xerrors.HTTPStatusOf(err) >= http.StatusInternalServerError {
			s.logger.Error("聊天请求失败", slog.String("caller_id", callerID), slog.String("error", err.Error()))
		}
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Success:     true,
		Response:    resp.Response,
		Operation:   resp.Operation,
		OperationID: resp.OperationID,
	})
}

// chatCaller 解析聊天的调用方，未携带任何身份时按配置决定是否允许匿名。
func (s *Server) chatCaller(r *http.Request, claimed string) (string, error) {
	authorization := r.Header.Get("Authorization")
	if claimed == "" {
		claimed = r.Header.Get(auth.ProfileHeader)
	}
	if s.cfg.AllowAnonymousChat && strings.TrimSpace(authorization) == "" && strings.TrimSpace(claimed) == "" {
		return "", nil
	}
	subject, err := s.deps.Auth.ResolveCaller(r.Context(), authorization, claimed)
	if err != nil {
		return "", err
	}
	return subject.ProfileID, nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req auth.TokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.deps.Auth.IssueToken(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrDisabled):
		writeError(w, xerrors.Wrap(xerrors.CodeNotFound, err, "token issuance is disabled"))
	case err != nil:
		writeError(w, xerrors.Wrap(xerrors.CodeUnauthorized, err, err.Error()))
	default:
		writeJSON(w, http.StatusOK, token)
	}
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	records, err := s.deps.Gate.List(r.Context(), subject.ProfileID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": records})
}

type submitRequest struct {
	Type        operation.Type `json:"type"`
	Data        map[string]any `json:"data"`
	UserMessage string         `json:"userMessage"`
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.deps.Gate.Submit(r.Context(), subject.ProfileID, operation.Parsed{Type: req.Type, Data: req.Data}, req.UserMessage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	record, err := s.deps.Gate.Get(r.Context(), subject.ProfileID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation": record})
}

func (s *Server) handleConfirmOperation(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	var conf operation.Confirmation
	if err := decodeBody(w, r, &conf); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.deps.Gate.Confirm(r.Context(), subject.ProfileID, r.PathValue("id"), conf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRejectOperation(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	record, err := s.deps.Gate.Reject(r.Context(), subject.ProfileID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation": record})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request body too large or unreadable")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request body must be valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, xerrors.HTTPStatusOf(err), map[string]any{
		"error": map[string]string{"code": xerrors.PublicCode(err), "message": mcp.PublicMessage(err)},
	})
}

func writeChatError(w http.ResponseWriter, err error) {
	writeJSON(w, xerrors.HTTPStatusOf(err), chatResponse{Success: false, Message: mcp.PublicMessage(err)})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// clientHost 去掉端口，同一主机的不同连接共享匿名限流额度。
func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
