package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"OpenMCP-Bank/internal/bank"
	xerrors "OpenMCP-Bank/internal/errors"
	"OpenMCP-Bank/internal/llm"
	"OpenMCP-Bank/internal/operation"
	"OpenMCP-Bank/internal/ratelimit"
	"OpenMCP-Bank/internal/settlement"
	"OpenMCP-Bank/internal/tools"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	requests  []llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.Response{Content: "done"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *stubLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type countingObserver struct {
	mu          sync.Mutex
	modelCalls  int
	fallbacks   []string
	rateLimited int
}

func (c *countingObserver) ObserveModelCall(string, error, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modelCalls++
}

func (c *countingObserver) ObserveFallback(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks = append(c.fallbacks, reason)
}

func (c *countingObserver) ObserveRateLimited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimited++
}

type fixture struct {
	orchestrator *Orchestrator
	model        *stubLLM
	observer     *countingObserver
	operations   *operation.MemoryStore
}

// hangingLLM 一直阻塞到调用上下文结束。
type hangingLLM struct{}

func (hangingLLM) Complete(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newFixture(t *testing.T, model *stubLLM, limit int, extra ...Option) *fixture {
	t.Helper()
	store := bank.NewMemoryStore(bank.DemoDataset(testNow))
	registry, err := tools.NewBankRegistry(tools.Catalog{Store: store, Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("NewBankRegistry: %v", err)
	}
	executor := tools.NewExecutor(registry, tools.WithClock(func() time.Time { return testNow }))
	ops := operation.NewMemoryStore()
	gate := operation.NewGate(ops, store, settlement.NewLogDispatcher())
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Policy{Limit: limit, Window: time.Minute})
	observer := &countingObserver{}

	opts := []Option{
		WithAssembler(NewAssembler(store)),
		WithGate(gate),
		WithObserver(observer),
	}
	if model != nil {
		opts = append(opts, WithModel(model, nil))
	}
	opts = append(opts, extra...)
	return &fixture{
		orchestrator: New(limiter, executor, opts...),
		model:        model,
		observer:     observer,
		operations:   ops,
	}
}

func TestChatWithoutModelAnswersBalanceFromLiveData(t *testing.T) {
	f := newFixture(t, nil, 10)

	resp, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "What's my balance?", CallerID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("expected degraded response")
	}
	if !strings.HasPrefix(resp.Response, WarningPrefix) {
		t.Fatalf("expected warning prefix, got %q", resp.Response)
	}
	if !strings.Contains(resp.Response, "$4,250.75") {
		t.Fatalf("expected live balance in response, got %q", resp.Response)
	}
	if len(f.observer.fallbacks) != 1 || f.observer.fallbacks[0] != string(llm.KindNotConfigured) {
		t.Fatalf("unexpected fallback reasons: %v", f.observer.fallbacks)
	}
}

func TestChatHungModelDegradesAfterTimeout(t *testing.T) {
	f := newFixture(t, nil, 10, WithModel(hangingLLM{}, nil), WithLLMTimeout(50*time.Millisecond))

	done := make(chan *ChatResponse, 1)
	go func() {
		resp, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "What's my balance?", CallerID: "u1"})
		if err != nil {
			t.Errorf("Chat: %v", err)
		}
		done <- resp
	}()

	select {
	case resp := <-done:
		if resp == nil || !resp.Degraded || !strings.Contains(resp.Response, "$4,250.75") {
			t.Fatalf("expected degraded answer with live balance, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("chat turn did not finish after the model timeout")
	}
	if len(f.observer.fallbacks) != 1 || f.observer.fallbacks[0] != string(llm.KindTimeout) {
		t.Fatalf("unexpected fallback reasons: %v", f.observer.fallbacks)
	}
}

func TestChatAnonymousCallersLimitedByAddress(t *testing.T) {
	model := &stubLLM{}
	f := newFixture(t, model, 1)
	ctx := context.Background()

	if _, err := f.orchestrator.Chat(ctx, ChatRequest{Message: "hi", SessionID: "s1", RemoteAddr: "203.0.113.7"}); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	_, err := f.orchestrator.Chat(ctx, ChatRequest{Message: "hi", SessionID: "s2", RemoteAddr: "203.0.113.7"})
	if xerrors.CodeOf(err) != xerrors.CodeRateLimited {
		t.Fatalf("rotating the session id must not reset the limit, got %v", err)
	}
	if _, err := f.orchestrator.Chat(ctx, ChatRequest{Message: "hi", SessionID: "s2", RemoteAddr: "198.51.100.2"}); err != nil {
		t.Fatalf("another address has its own window: %v", err)
	}
	if model.calls() != 2 {
		t.Fatalf("rate limited turn must not reach the model, got %d calls", model.calls())
	}
}

func TestChatRateLimitedSkipsModel(t *testing.T) {
	model := &stubLLM{}
	f := newFixture(t, model, 1)

	if _, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "hi", CallerID: "u1"}); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	_, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "hi again", CallerID: "u1"})
	if xerrors.CodeOf(err) != xerrors.CodeRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if model.calls() != 1 {
		t.Fatalf("rejected request must not reach the model, calls=%d", model.calls())
	}
	if f.observer.rateLimited != 1 {
		t.Fatalf("expected one rate limit observation, got %d", f.observer.rateLimited)
	}
}

func TestChatRunsToolRoundAndRecordsPayment(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: tools.GetBalance, Arguments: "{}"},
			{ID: "c2", Name: tools.GetSavedRecipients, Arguments: ""},
		}, FinishReason: "tool_calls"},
		{Content: "You can afford it. Send $50 to Alice once you confirm."},
	}}
	f := newFixture(t, model, 10)

	resp, err := f.orchestrator.Chat(context.Background(), ChatRequest{
		Message:  "Pay Alice 50 dollars",
		CallerID: "u1",
		Context:  ContextFlags{IncludeBalance: true},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if model.calls() != 2 {
		t.Fatalf("expected two model calls, got %d", model.calls())
	}
	first := model.requests[0]
	if len(first.Tools) != 7 {
		t.Fatalf("expected full catalog for authenticated caller, got %d tools", len(first.Tools))
	}
	if !strings.Contains(first.Messages[0].Content, "4250.75") {
		t.Fatalf("expected balance context in system prompt: %q", first.Messages[0].Content)
	}

	second := model.requests[1]
	var toolTurns []llm.Message
	for _, m := range second.Messages {
		if m.Role == llm.RoleTool {
			toolTurns = append(toolTurns, m)
		}
	}
	if len(toolTurns) != 2 || toolTurns[0].ToolCallID != "c1" || toolTurns[1].ToolCallID != "c2" {
		t.Fatalf("unexpected tool turns: %+v", toolTurns)
	}
	if !strings.Contains(toolTurns[0].Content, `"success":true`) || !strings.Contains(toolTurns[1].Content, "Alice") {
		t.Fatalf("unexpected tool contents: %+v", toolTurns)
	}

	if resp.Operation == nil || resp.Operation.Type != operation.TypePayment || resp.OperationID == "" {
		t.Fatalf("expected recorded payment, got %+v", resp)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("unexpected tool calls: %v", resp.ToolCalls)
	}
	record, err := f.operations.Get(context.Background(), resp.OperationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != operation.StatusPending || record.Executed || record.CallerID != "u1" {
		t.Fatalf("payment must wait for confirmation: %+v", record)
	}
}

func TestChatToolFailuresBecomeToolTurns(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			{ID: "a", Name: "drop_tables", Arguments: "{}"},
			{ID: "b", Name: tools.GetRecentTransactions, Arguments: "{not json"},
			{ID: "c", Name: tools.GetOnchainTransactions, Arguments: "{}"},
		}},
		{Content: "Sorry, I could not load that."},
	}}
	f := newFixture(t, model, 10)

	resp, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "show my history", CallerID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Response != "Sorry, I could not load that." {
		t.Fatalf("unexpected response: %q", resp.Response)
	}
	var contents []string
	for _, m := range model.requests[1].Messages {
		if m.Role == llm.RoleTool {
			contents = append(contents, m.Content)
		}
	}
	if len(contents) != 3 {
		t.Fatalf("expected three tool turns, got %d", len(contents))
	}
	for _, c := range contents {
		if !strings.Contains(c, `"success":false`) {
			t.Fatalf("expected failure envelope, got %s", c)
		}
	}
	if !strings.Contains(contents[2], "explicitly") {
		t.Fatalf("onchain lookup must require an explicit request: %s", contents[2])
	}
}

func TestChatAnonymousCallerGetsNoTools(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{{Content: "Please sign in. Send $5 to Bob"}}}
	f := newFixture(t, model, 10)

	resp, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "what is my balance", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(model.requests[0].Tools) != 0 {
		t.Fatalf("anonymous caller must not receive the tool catalog")
	}
	if resp.Operation != nil || resp.OperationID != "" {
		t.Fatalf("anonymous turns must not record operations: %+v", resp)
	}
}

func TestChatUpstreamAuthFailureIsFlagged(t *testing.T) {
	model := &stubLLM{err: llm.NewUpstreamError(llm.KindAuth, 401, errors.New("bad key"))}
	f := newFixture(t, model, 10)

	resp, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "list my recipients", CallerID: "u1"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.HasPrefix(resp.Response, WarningPrefix) || !strings.Contains(resp.Response, "auth") {
		t.Fatalf("expected configuration warning, got %q", resp.Response)
	}
	if !strings.Contains(resp.Response, "Alice") {
		t.Fatalf("expected recipients from fallback, got %q", resp.Response)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, &stubLLM{}, 10)
	_, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "   ", CallerID: "u1"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected bad request, got %v", err)
	}
	if f.model.calls() != 0 {
		t.Fatalf("model must not be called")
	}
}

func TestChatSetsOnchainFlagOnlyOnExplicitRequest(t *testing.T) {
	model := &stubLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: tools.GetOnchainTransactions, Arguments: "{}"}}},
		{Content: "Here is your chain activity."},
	}}
	f := newFixture(t, model, 10)

	if _, err := f.orchestrator.Chat(context.Background(), ChatRequest{Message: "please check onchain for my wallet", CallerID: "u1"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	var content string
	for _, m := range model.requests[1].Messages {
		if m.Role == llm.RoleTool {
			content = m.Content
		}
	}
	// 未配置链上数据源时，工具被允许执行但返回不可用。
	if strings.Contains(content, "explicitly") || !strings.Contains(content, "not configured") {
		t.Fatalf("expected lookup to pass the explicit gate: %s", content)
	}
}
