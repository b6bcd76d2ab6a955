package session

import (
	"testing"

	"github.com/prediqt/voicepipe/core/llms"
)

func TestConversationContextKeepsRecallAfterSystemPrompt(t *testing.T) {
	c := NewConversationContext("base prompt")
	c.AppendMessage(llms.Message{Role: llms.RoleUser, Content: "first"})
	c.AppendMessage(llms.Message{Role: llms.RoleAssistant, Content: "reply"})

	c.SetMemoryRecall("recalled facts")

	messages := c.Messages()
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Content != "base prompt" {
		t.Fatalf("expected system prompt first, got %q", messages[0].Content)
	}
	if messages[1].Role != llms.RoleSystem || messages[1].Content != "recalled facts" {
		t.Fatalf("expected recall at position 1, got %+v", messages[1])
	}
	if messages[2].Content != "first" || messages[3].Content != "reply" {
		t.Fatalf("expected history preserved after recall, got %+v", messages[2:])
	}
}

func TestConversationContextReplacesPreviousRecall(t *testing.T) {
	c := NewConversationContext("base prompt")
	c.SetMemoryRecall("old recall")
	c.AppendMessage(llms.Message{Role: llms.RoleUser, Content: "question"})
	c.SetMemoryRecall("new recall")

	messages := c.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected recall to be replaced, got %d messages", len(messages))
	}
	if messages[1].Content != "new recall" {
		t.Fatalf("expected new recall at position 1, got %q", messages[1].Content)
	}
}

func TestConversationContextRecallWithoutSystemPrompt(t *testing.T) {
	c := NewConversationContext("")
	c.SetMemoryRecall("recall only")

	messages := c.Messages()
	if len(messages) != 1 || messages[0].Content != "recall only" {
		t.Fatalf("expected recall as sole message, got %+v", messages)
	}

	c.AppendMessage(llms.Message{Role: llms.RoleUser, Content: "question"})
	c.SetMemoryRecall("newer recall")

	messages = c.Messages()
	if len(messages) != 2 || messages[0].Content != "newer recall" {
		t.Fatalf("expected recall replaced in place, got %+v", messages)
	}
	if messages[1].Content != "question" {
		t.Fatalf("expected user message preserved, got %+v", messages[1])
	}
}

func TestConversationContextToolExchangeIsIdempotent(t *testing.T) {
	c := NewConversationContext("base prompt")

	call := llms.ToolCall{ID: "call-1", Name: "search", Response: "result"}
	if !c.AppendToolExchange(call) {
		t.Fatalf("expected first delivery to append")
	}
	if c.AppendToolExchange(call) {
		t.Fatalf("expected redelivery to be a no-op")
	}

	messages := c.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected system + assistant + tool messages, got %d", len(messages))
	}
	if messages[1].Role != llms.RoleAssistant || len(messages[1].ToolCalls) != 1 {
		t.Fatalf("expected assistant tool-call message, got %+v", messages[1])
	}
	if messages[2].Role != llms.RoleTool || messages[2].ToolCallID != "call-1" {
		t.Fatalf("expected tool response message, got %+v", messages[2])
	}
}

func TestConversationContextMessagesReturnsCopy(t *testing.T) {
	c := NewConversationContext("base prompt")
	messages := c.Messages()
	messages[0].Content = "mutated"

	if c.Messages()[0].Content != "base prompt" {
		t.Fatalf("expected snapshot mutation to not affect context")
	}
}
