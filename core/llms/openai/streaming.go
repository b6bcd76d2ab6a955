package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/prediqt/voicepipe/core/llms"
)

const chunkPrefix = "data:"

// Stream is a prepared chat-completions generation. Chunks drives the
// request and yields content and tool-call chunks as they arrive.
type Stream struct {
	client   *Client
	messages []openAIMessage
	tools    []openAITool
}

type requestBody struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	Stream     bool            `json:"stream"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
}

type responseChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		reqBody := requestBody{
			Model:    s.client.model,
			Messages: s.messages,
			Stream:   true,
			Tools:    s.tools,
		}
		if len(s.tools) > 0 {
			reqBody.ToolChoice = "auto"
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			yield(nil, fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.client.baseURL+"/chat/completions", bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			yield(nil, fmt.Errorf("error creating HTTP request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.client.apiKey)

		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			yield(nil, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(nil, fmt.Errorf("unexpected response status: %s", resp.Status))
			return
		}

		pendingToolCalls := map[int]*llms.ToolCall{}
		pendingOrder := []int{}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, chunkPrefix) {
				continue
			}

			payload := strings.TrimSpace(strings.TrimPrefix(line, chunkPrefix))
			if payload == "[DONE]" {
				break
			}

			var chunk responseChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				yield(nil, fmt.Errorf("error parsing stream chunk: %w", err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			for _, delta := range choice.Delta.ToolCalls {
				pending, ok := pendingToolCalls[delta.Index]
				if !ok {
					pending = &llms.ToolCall{}
					pendingToolCalls[delta.Index] = pending
					pendingOrder = append(pendingOrder, delta.Index)
				}
				if delta.ID != "" {
					pending.ID = delta.ID
				}
				if delta.Function.Name != "" {
					pending.Name = delta.Function.Name
				}
				pending.Arguments += delta.Function.Arguments
			}

			if choice.Delta.Content != "" {
				if !yield(contentChunk{content: choice.Delta.Content, finishReason: choice.FinishReason}, nil) {
					return
				}
			}

			if choice.FinishReason != nil {
				for _, index := range pendingOrder {
					if !yield(toolCallChunk{toolCall: *pendingToolCalls[index], finishReason: choice.FinishReason}, nil) {
						return
					}
				}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("error reading stream: %w", err))
		}
	}
}

type contentChunk struct {
	content      string
	finishReason *string
}

func (c contentChunk) Content() string       { return c.content }
func (c contentChunk) FinishReason() *string { return c.finishReason }

type toolCallChunk struct {
	toolCall     llms.ToolCall
	finishReason *string
}

func (c toolCallChunk) ToolCall() llms.ToolCall { return c.toolCall }
func (c toolCallChunk) FinishReason() *string   { return c.finishReason }
