package tools

import (
	"context"
	"time"
)

// Tool 是一个带参数描述的只读操作，名称即身份。
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ExecutionContext 限定单次工具调用的数据范围。
type ExecutionContext struct {
	CallerID  string
	SessionID string
	// AllowOnchainLookup 只在调用方明确要求查询链上数据时为 true。
	AllowOnchainLookup bool
}

// Result 是所有工具统一的返回信封。
type Result struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Handler 执行工具逻辑，参数中已剔除身份字段。
type Handler func(ctx context.Context, args map[string]any, ec ExecutionContext) (any, error)

func stamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}

func clone(tool Tool) Tool {
	out := tool
	out.InputSchema = cloneMap(tool.InputSchema)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
