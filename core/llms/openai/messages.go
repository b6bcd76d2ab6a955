package openai

import (
	"encoding/json"

	"github.com/jinzhu/copier"

	"github.com/prediqt/voicepipe/core/llms"
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string               `json:"type"`
	Function openAIToolDefinition `json:"function"`
}

type openAIToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toOpenAIMessages(instructions string, messages []llms.Message) []openAIMessage {
	wireMessages := []openAIMessage{}
	if instructions != "" {
		wireMessages = append(wireMessages, openAIMessage{
			Role:    string(llms.RoleSystem),
			Content: instructions,
		})
	}

	for _, message := range messages {
		wireMessage := openAIMessage{
			Role:       string(message.Role),
			Content:    message.Content,
			ToolCallID: message.ToolCallID,
		}
		for _, toolCall := range message.ToolCalls {
			wireMessage.ToolCalls = append(wireMessage.ToolCalls, openAIToolCall{
				ID:   toolCall.ID,
				Type: "function",
				Function: openAIToolFunction{
					Name:      toolCall.Name,
					Arguments: toolCall.Arguments,
				},
			})
		}
		wireMessages = append(wireMessages, wireMessage)
	}
	return wireMessages
}

func toOpenAITools(tools []llms.Tool) []openAITool {
	if len(tools) == 0 {
		return nil
	}

	var definitions []openAIToolDefinition
	copier.Copy(&definitions, tools)

	wireTools := make([]openAITool, 0, len(definitions))
	for _, definition := range definitions {
		wireTools = append(wireTools, openAITool{Type: "function", Function: definition})
	}
	return wireTools
}
