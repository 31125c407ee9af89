package bankmcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost", nil); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}

func TestAuthenticateStoresToken(t *testing.T) {
	var chatAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			var creds Credentials
			if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username != "jordan" {
				t.Errorf("unexpected credentials: %+v %v", creds, err)
			}
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", TokenType: "Bearer", ProfileID: "u1"})
		case "/api/v1/chat":
			chatAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(ChatResponse{Success: true, Response: "hi"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	token, err := client.Authenticate(context.Background(), Credentials{Username: "jordan", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token.ProfileID != "u1" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if _, err := client.Chat(context.Background(), ChatRequest{Message: "hello"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if chatAuth != "Bearer abc123" {
		t.Fatalf("expected bearer token on chat, got %q", chatAuth)
	}
}

func TestListAndCallTool(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Profile-ID") != "u1" || r.Header.Get("X-Session-ID") != "s-1" {
			t.Errorf("missing identity headers: %v", r.Header)
		}
		var req struct {
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "list":
			_, _ = w.Write([]byte(`{"tools":[{"name":"get_balance","description":"balance","inputSchema":{"type":"object"}}]}`))
		case "call":
			if req.Params.Name != "get_balance" {
				t.Errorf("unexpected tool: %q", req.Params.Name)
			}
			text := `{"success":true,"data":{"available":4250.75},"timestamp":"2024-01-01T00:00:00Z"}`
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]string{{"type": "text", "text": text}},
			})
		}
	})
	client.SetProfileID("u1")
	client.SetSessionID("s-1")

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "get_balance" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	result, err := client.CallTool(context.Background(), "get_balance", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var balance struct {
		Available float64 `json:"available"`
	}
	if !result.Success || json.Unmarshal(result.Data, &balance) != nil || balance.Available != 4250.75 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := client.CallTool(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty tool name")
	}
}

func TestChatRateLimitedError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(ChatResponse{Success: false, Message: "too many requests"})
	})

	_, err := client.Chat(context.Background(), ChatRequest{Message: "balance"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.RetryAfter != 42*time.Second {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if apiErr.Message != "too many requests" {
		t.Fatalf("unexpected message: %q", apiErr.Message)
	}
}

func TestOperationLifecycle(t *testing.T) {
	var confirmed Confirmation
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/operations":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("unexpected limit: %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"operations":[{"id":"op-1","status":"pending"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/operations/op-404":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"operation not found"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/operations/op-1/confirm":
			_ = json.NewDecoder(r.Body).Decode(&confirmed)
			_, _ = w.Write([]byte(`{"operation":{"id":"op-1","status":"executed","executed":true,"userConfirmed":true}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/operations/op-2/reject":
			_, _ = w.Write([]byte(`{"operation":{"id":"op-2","status":"rejected"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	ctx := context.Background()

	ops, err := client.ListOperations(ctx, 5)
	if err != nil || len(ops) != 1 || ops[0].ID != "op-1" {
		t.Fatalf("ListOperations: %+v %v", ops, err)
	}

	_, err = client.GetOperation(ctx, "op-404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	outcome, err := client.ConfirmOperation(ctx, "op-1", Confirmation{Amount: "50", Network: "ach", AcknowledgeIrreversible: true})
	if err != nil {
		t.Fatalf("ConfirmOperation: %v", err)
	}
	if !outcome.Operation.Executed || !confirmed.AcknowledgeIrreversible || confirmed.Amount != "50" {
		t.Fatalf("unexpected confirm: %+v %+v", outcome, confirmed)
	}

	rejected, err := client.RejectOperation(ctx, "op-2")
	if err != nil || rejected.Status != "rejected" {
		t.Fatalf("RejectOperation: %+v %v", rejected, err)
	}
}
