package llms

// Message is a single role-tagged entry in a conversation context.
type Message struct {
	Role    Role
	Content string

	// ToolCalls carries the calls requested by an assistant message.
	ToolCalls []ToolCall
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall correlates one capability invocation with its result. A call ID
// maps to exactly one result.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Response  string
}
