// Package bankmcp provides a small HTTP client for the OpenMCP-Bank gateway,
// chat and operation endpoints.
package bankmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Chat requests may include two model round trips, so it is longer than a
// plain REST timeout.
const DefaultHTTPTimeout = 60 * time.Second

// Client wraps the HTTP interactions with an OpenMCP-Bank server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
	profileID   string
	sessionID   string
}

// Credentials are exchanged for an access token when the server runs in jwt mode.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token represents an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	ProfileID   string `json:"profile_id"`
}

// Tool describes one catalog entry exposed by the gateway.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolResult is the uniform result envelope returned for every tool call.
type ToolResult struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// ChatContext selects which customer data the assistant may see.
type ChatContext struct {
	ProfileID           string `json:"profileId,omitempty"`
	IncludeBalance      bool   `json:"includeBalance,omitempty"`
	IncludeTransactions bool   `json:"includeTransactions,omitempty"`
	IncludeRecipients   bool   `json:"includeRecipients,omitempty"`
}

// ChatRequest is a single chat turn.
type ChatRequest struct {
	Message string      `json:"message"`
	Context ChatContext `json:"context"`
}

// ParsedOperation is an operation the assistant proposed in its reply.
type ParsedOperation struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Success     bool             `json:"success"`
	Response    string           `json:"response,omitempty"`
	Operation   *ParsedOperation `json:"operation"`
	OperationID string           `json:"operationId,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// Operation is an audited operation record.
type Operation struct {
	ID              string         `json:"id"`
	CallerID        string         `json:"callerId"`
	Type            string         `json:"operationType"`
	Data            map[string]any `json:"operationData"`
	UserMessage     string         `json:"userMessage"`
	ModelResponse   string         `json:"modelResponse"`
	UserConfirmed   bool           `json:"userConfirmed"`
	Executed        bool           `json:"executed"`
	Status          string         `json:"status"`
	ExecutionResult string         `json:"executionResult,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	DecidedAt       *time.Time     `json:"decidedAt,omitempty"`
	ExecutedAt      *time.Time     `json:"executedAt,omitempty"`
}

// Confirmation echoes the payment details the user reviewed.
type Confirmation struct {
	Amount                  string `json:"amount"`
	RecipientID             string `json:"recipientId,omitempty"`
	Address                 string `json:"address,omitempty"`
	Network                 string `json:"network"`
	Fee                     string `json:"fee,omitempty"`
	AcknowledgeIrreversible bool   `json:"acknowledgeIrreversible"`
}

// Outcome is returned by confirm and submit.
type Outcome struct {
	Operation Operation `json:"operation"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// APIError represents a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	// RetryAfter is set from the Retry-After header on rate limited chat turns.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("bankmcp api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("bankmcp api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges credentials for an access token and stores it for
// subsequent calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SetProfileID sets the identity header used when the server runs without jwt.
func (c *Client) SetProfileID(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profileID = profileID
}

// SetSessionID sets the session header. Anonymous chat turns are rate limited
// per session.
func (c *Client) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// ListTools returns the gateway's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.post(ctx, "/mcp", map[string]any{"method": "list"}, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// CallTool invokes one tool and decodes its result envelope. Tool level
// failures come back as a ToolResult with Success=false, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (ToolResult, error) {
	if name == "" {
		return ToolResult{}, errors.New("bankmcp: tool name is required")
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	payload := map[string]any{
		"method": "call",
		"params": map[string]any{"name": name, "arguments": arguments},
	}
	if err := c.post(ctx, "/mcp", payload, &out); err != nil {
		return ToolResult{}, err
	}
	if len(out.Content) == 0 {
		return ToolResult{}, errors.New("bankmcp: empty tool response")
	}
	var result ToolResult
	if err := json.Unmarshal([]byte(out.Content[0].Text), &result); err != nil {
		return ToolResult{}, fmt.Errorf("decode tool result: %w", err)
	}
	return result, nil
}

// Chat sends one message to the assistant.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// ListOperations returns the caller's most recent operations.
func (c *Client) ListOperations(ctx context.Context, limit int) ([]Operation, error) {
	endpoint := "/api/v1/operations"
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": []string{strconv.Itoa(limit)}}
	}
	var out struct {
		Operations []Operation `json:"operations"`
	}
	if err := c.get(ctx, endpoint, query, &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// GetOperation fetches one operation owned by the caller.
func (c *Client) GetOperation(ctx context.Context, id string) (Operation, error) {
	var out struct {
		Operation Operation `json:"operation"`
	}
	if err := c.get(ctx, "/api/v1/operations/"+id, nil, &out); err != nil {
		return Operation{}, err
	}
	return out.Operation, nil
}

// ConfirmOperation confirms a pending payment or query.
func (c *Client) ConfirmOperation(ctx context.Context, id string, conf Confirmation) (Outcome, error) {
	var out Outcome
	if err := c.post(ctx, "/api/v1/operations/"+id+"/confirm", conf, &out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// RejectOperation declines a pending operation.
func (c *Client) RejectOperation(ctx context.Context, id string) (Operation, error) {
	var out struct {
		Operation Operation `json:"operation"`
	}
	if err := c.post(ctx, "/api/v1/operations/"+id+"/reject", struct{}{}, &out); err != nil {
		return Operation{}, err
	}
	return out.Operation, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.mu.RLock()
	token, profileID, sessionID := c.accessToken, c.profileID, c.sessionID
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if profileID != "" {
		req.Header.Set("X-Profile-ID", profileID)
	}
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if retry, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && retry > 0 {
			apiErr.RetryAfter = time.Duration(retry) * time.Second
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		// 接口返回 {"error":{...}}，聊天接口返回 {"success":false,"message":...}
		var envelope struct {
			Error   *APIError `json:"error"`
			Message string    `json:"message"`
		}
		if len(data) > 0 && json.Unmarshal(data, &envelope) == nil {
			if envelope.Error != nil {
				apiErr.Code = envelope.Error.Code
				apiErr.Message = envelope.Error.Message
			} else {
				apiErr.Message = envelope.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
