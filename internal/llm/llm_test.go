package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConversationIsImmutable(t *testing.T) {
	base := NewConversation("system").User("What's my balance?")
	first := base.Assistant(&Response{ToolCalls: []ToolCall{{ID: "call_1", Name: "get_balance", Arguments: "{}"}}})
	second := base.Assistant(&Response{Content: "direct answer"})

	if base.Len() != 2 || first.Len() != 3 || second.Len() != 3 {
		t.Fatalf("unexpected lengths: %d %d %d", base.Len(), first.Len(), second.Len())
	}
	if first.Messages()[2].ToolCalls[0].Name != "get_balance" || second.Messages()[2].Content != "direct answer" {
		t.Fatalf("appends from the same base interfered with each other")
	}

	withResult := first.ToolResult("call_1", "get_balance", `{"success":true}`)
	msgs := withResult.Messages()
	if msgs[3].Role != RoleTool || msgs[3].ToolCallID != "call_1" {
		t.Fatalf("unexpected tool turn: %+v", msgs[3])
	}

	msgs[0].Content = "mutated"
	if withResult.Messages()[0].Content != "system" {
		t.Fatalf("Messages must return a copy")
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatalf("nil error should classify to nil")
	}
	if k := Classify(ErrNotConfigured); k.Kind != KindNotConfigured || !k.Misconfigured() {
		t.Fatalf("unexpected classification: %+v", k)
	}
	if k := Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)); k.Kind != KindTimeout || k.Misconfigured() {
		t.Fatalf("unexpected classification: %+v", k)
	}
	wrapped := fmt.Errorf("outer: %w", NewUpstreamError(KindAuth, 401, errors.New("bad key")))
	if k := Classify(wrapped); k.Kind != KindAuth || k.Status != 401 || !k.Misconfigured() {
		t.Fatalf("unexpected classification: %+v", k)
	}
	if k := Classify(errors.New("connection reset")); k.Kind != KindTransport {
		t.Fatalf("unexpected classification: %+v", k)
	}
}
