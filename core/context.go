package session

import (
	"sync"

	"github.com/prediqt/voicepipe/core/llms"
)

// ConversationContext is the ordered message history shared by the pipeline
// stages. The base system prompt stays at position zero and recalled memory
// occupies the slot right after it, so recall outranks every later message
// the model sees.
type ConversationContext struct {
	mu       sync.RWMutex
	messages []llms.Message

	recallIndex int

	deliveredToolCalls map[string]bool
}

func NewConversationContext(systemPrompt string) *ConversationContext {
	c := &ConversationContext{recallIndex: -1, deliveredToolCalls: map[string]bool{}}
	if systemPrompt != "" {
		c.messages = append(c.messages, llms.Message{Role: llms.RoleSystem, Content: systemPrompt})
	}
	return c
}

// Messages returns a point-in-time copy of the context.
func (c *ConversationContext) Messages() []llms.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := make([]llms.Message, len(c.messages))
	copy(messages, c.messages)
	return messages
}

// AppendMessage appends a message to the end of the context.
func (c *ConversationContext) AppendMessage(message llms.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
}

// SetMemoryRecall places the recalled-memory system message at the fixed
// slot after the base system prompt, replacing the recall from the previous
// turn so the context does not accumulate stale recalls.
func (c *ConversationContext) SetMemoryRecall(recall string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	message := llms.Message{Role: llms.RoleSystem, Content: recall}
	if c.recallIndex >= 0 {
		c.messages[c.recallIndex] = message
		return
	}

	index := min(1, len(c.messages))
	c.messages = append(c.messages, llms.Message{})
	copy(c.messages[index+1:], c.messages[index:])
	c.messages[index] = message
	c.recallIndex = index
}

// AppendToolExchange appends the assistant tool-call message and its tool
// response for one completed invocation. Redelivery of the same call ID is
// a no-op, so a retried result cannot duplicate context entries.
func (c *ConversationContext) AppendToolExchange(call llms.ToolCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deliveredToolCalls[call.ID] {
		return false
	}
	c.deliveredToolCalls[call.ID] = true

	c.messages = append(c.messages,
		llms.Message{Role: llms.RoleAssistant, ToolCalls: []llms.ToolCall{call}},
		llms.Message{Role: llms.RoleTool, Content: call.Response, ToolCallID: call.ID},
	)
	return true
}
