package llm

// Conversation 是不可变的对话构建器，每次追加都返回新值，原值保持不变。
type Conversation struct {
	turns []Message
}

// NewConversation 以系统指令开始一段对话。
func NewConversation(system string) Conversation {
	if system == "" {
		return Conversation{}
	}
	return Conversation{turns: []Message{{Role: RoleSystem, Content: system}}}
}

func (c Conversation) with(m Message) Conversation {
	turns := make([]Message, len(c.turns), len(c.turns)+1)
	copy(turns, c.turns)
	return Conversation{turns: append(turns, m)}
}

// User 追加用户轮次。
func (c Conversation) User(content string) Conversation {
	return c.with(Message{Role: RoleUser, Content: content})
}

// Assistant 追加模型回复，包括其中的工具调用请求。
func (c Conversation) Assistant(resp *Response) Conversation {
	if resp == nil {
		return c
	}
	calls := make([]ToolCall, len(resp.ToolCalls))
	copy(calls, resp.ToolCalls)
	return c.with(Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: calls})
}

// ToolResult 追加一次工具执行结果。
func (c Conversation) ToolResult(callID, name, content string) Conversation {
	return c.with(Message{Role: RoleTool, ToolCallID: callID, Name: name, Content: content})
}

// Messages 返回轮次的副本。
func (c Conversation) Messages() []Message {
	out := make([]Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len 返回轮次数量。
func (c Conversation) Len() int { return len(c.turns) }

// Request 以当前对话构造请求。
func (c Conversation) Request(tools []FunctionSpec) Request {
	return Request{Messages: c.Messages(), Tools: tools}
}
