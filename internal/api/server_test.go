package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"OpenMCP-Bank/internal/agent"
	"OpenMCP-Bank/internal/auth"
	"OpenMCP-Bank/internal/bank"
	"OpenMCP-Bank/internal/llm"
	"OpenMCP-Bank/internal/mcp"
	"OpenMCP-Bank/internal/observability/metrics"
	"OpenMCP-Bank/internal/operation"
	"OpenMCP-Bank/internal/ratelimit"
	"OpenMCP-Bank/internal/settlement"
	"OpenMCP-Bank/internal/tools"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type scriptedModel struct {
	mu     sync.Mutex
	answer string
}

func (m *scriptedModel) Complete(context.Context, llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &llm.Response{Content: m.answer}, nil
}

type testServer struct {
	handler http.Handler
}

type serverOptions struct {
	model     llm.Client
	limit     int
	anonymous bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	store := bank.NewMemoryStore(bank.DemoDataset(testNow))
	registry, err := tools.NewBankRegistry(tools.Catalog{Store: store, Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("NewBankRegistry: %v", err)
	}
	m := metrics.New()
	executor := tools.NewExecutor(registry, tools.WithObserver(m.ObserveTool))
	authSvc, err := auth.NewService(context.Background(), auth.Config{Mode: auth.ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	gate := operation.NewGate(operation.NewMemoryStore(), store, settlement.NewLogDispatcher())
	if opts.limit == 0 {
		opts.limit = 10
	}
	agentOpts := []agent.Option{
		agent.WithAssembler(agent.NewAssembler(store)),
		agent.WithGate(gate),
		agent.WithObserver(m),
	}
	if opts.model != nil {
		agentOpts = append(agentOpts, agent.WithModel(opts.model, nil))
	}
	orchestrator := agent.New(ratelimit.NewMemoryLimiter(ratelimit.Policy{Limit: opts.limit, Window: time.Minute}), executor, agentOpts...)

	srv := NewServer(Config{AllowAnonymousChat: opts.anonymous}, Dependencies{
		Orchestrator: orchestrator,
		Gateway:      mcp.NewGateway(authSvc, executor),
		Gate:         gate,
		Auth:         authSvc,
		Metrics:      m,
	})
	return &testServer{handler: srv.Handler()}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	return resp
}

func TestChatFallbackBalance(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(http.MethodPost, "/api/v1/chat", `{"message":"What's my balance?","context":{"profileId":"u1"}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeChat(t, rec)
	if !resp.Success || !strings.HasPrefix(resp.Response, agent.WarningPrefix) || !strings.Contains(resp.Response, "$4,250.75") {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Operation != nil {
		t.Fatalf("no operation expected: %+v", resp.Operation)
	}
}

func TestChatIdentityAndValidation(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(http.MethodPost, "/api/v1/chat", `{"message":"hi"}`, nil)
	if rec.Code != http.StatusUnauthorized || decodeChat(t, rec).Success {
		t.Fatalf("expected 401 for missing identity, got %d", rec.Code)
	}
	rec = s.do(http.MethodPost, "/api/v1/chat", `{"message":"","context":{"profileId":"u1"}}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}
	rec = s.do(http.MethodPost, "/api/v1/chat", `{"message":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestChatAnonymousWhenAllowed(t *testing.T) {
	s := newTestServer(t, serverOptions{anonymous: true})
	rec := s.do(http.MethodPost, "/api/v1/chat", `{"message":"how do I invest?"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	resp := decodeChat(t, rec)
	if !strings.Contains(resp.Response, "sign in") || strings.Contains(resp.Response, "Treasury Yield") {
		t.Fatalf("anonymous chat should get guidance only: %q", resp.Response)
	}
}

func TestChatRateLimited(t *testing.T) {
	s := newTestServer(t, serverOptions{limit: 1})
	body := `{"message":"balance","context":{"profileId":"u1"}}`
	if rec := s.do(http.MethodPost, "/api/v1/chat", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec := s.do(http.MethodPost, "/api/v1/chat", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if resp := decodeChat(t, rec); resp.Success || resp.Message == "" {
		t.Fatalf("unexpected failure envelope: %+v", resp)
	}
}

func TestPaymentConfirmationFlow(t *testing.T) {
	s := newTestServer(t, serverOptions{model: &scriptedModel{answer: "Sure. Send $50 to Alice after you confirm."}})
	rec := s.do(http.MethodPost, "/api/v1/chat", `{"message":"pay alice 50","context":{"profileId":"u1"}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	resp := decodeChat(t, rec)
	if resp.Operation == nil || resp.Operation.Type != operation.TypePayment || resp.OperationID == "" {
		t.Fatalf("expected payment operation: %+v", resp)
	}
	path := "/api/v1/operations/" + resp.OperationID
	u1 := map[string]string{auth.ProfileHeader: "u1"}

	if rec := s.do(http.MethodGet, path, "", map[string]string{auth.ProfileHeader: "u2"}); rec.Code != http.StatusNotFound {
		t.Fatalf("other callers must not see the record, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, path, "", u1); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, path+"/confirm", `{"amount":"50","recipientId":"rcp-u1-alice","network":"ethereum"}`, u1)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("confirmation without acknowledgement must be blocked, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, path+"/confirm", `{"amount":"50","recipientId":"rcp-u1-alice","network":"ethereum","fee":"0.42","acknowledgeIrreversible":true}`, u1)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected confirmation to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	var outcome operation.Outcome
	if err := json.NewDecoder(rec.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if !outcome.Record.Executed || !outcome.Record.UserConfirmed || outcome.Record.ExecutionResult == "" {
		t.Fatalf("unexpected outcome: %+v", outcome.Record)
	}

	if rec := s.do(http.MethodPost, path+"/reject", "", u1); rec.Code != http.StatusConflict {
		t.Fatalf("executed operation cannot be rejected, got %d", rec.Code)
	}
	rec = s.do(http.MethodGet, "/api/v1/operations?limit=5", "", u1)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), resp.OperationID) {
		t.Fatalf("expected operation in listing: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitQueryRunsImmediately(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(http.MethodPost, "/api/v1/operations", `{"type":"query","data":{},"userMessage":"refresh balance"}`,
		map[string]string{auth.ProfileHeader: "u1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var outcome operation.Outcome
	if err := json.NewDecoder(rec.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !outcome.Record.Executed || !strings.Contains(outcome.Record.ExecutionResult, "4250.75") {
		t.Fatalf("unexpected outcome: %+v", outcome.Record)
	}
}

func TestProtocolHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	if rec := s.do(http.MethodPost, "/mcp", `{"method":"list","context":{"profileId":"u1"}}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("unexpected /mcp status %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/mcp", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /mcp, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("unexpected /healthz status %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/v1/auth/token", `{"username":"a","password":"b"}`, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("token issuance is disabled in this mode, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/metrics", "", nil)
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `openmcp_bank_http_requests_total{code="200",handler="mcp",method="POST"} 1`) {
		t.Fatalf("expected mcp request in metrics:\n%s", body)
	}
}
