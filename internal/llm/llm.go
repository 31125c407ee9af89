package llm

import "context"

// Role 是对话轮次的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 是模型请求执行的一次函数调用，Arguments 为 JSON 文本。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message 是对话中的一个轮次。
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// FunctionSpec 向模型描述一个可调用的函数。
type FunctionSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request 是一次补全请求。
type Request struct {
	Messages []Message
	Tools    []FunctionSpec
}

// Response 是模型的回复，可能是文字，也可能是工具调用请求。
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// WantsTools 判断模型是否请求了工具调用。
func (r *Response) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
