package session

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prediqt/voicepipe/core/llms"
)

// llmStage turns committed user messages into streamed assistant responses.
// Each trigger allocates one generation; content deltas flow downstream as
// they arrive and tool calls are routed synchronously, feeding their results
// back into a follow-up prompt until the model finishes with plain text.
type llmStage struct {
	client     StreamingLLM
	context    *ConversationContext
	router     *toolRouter
	controller *turnController
}

func newLLMStage(client StreamingLLM, conversation *ConversationContext, router *toolRouter, controller *turnController) *llmStage {
	return &llmStage{client: client, context: conversation, router: router, controller: controller}
}

func (s *llmStage) name() string { return "llm" }

func (s *llmStage) processFrame(ctx context.Context, frame Frame, emit emitFunc) error {
	switch frame := frame.(type) {
	case ContextMessageFrame:
		emit(frame)
		if frame.Message.Role == llms.RoleUser {
			s.generate(ctx, emit)
		}
	case RunFrame:
		s.generate(ctx, emit)
	default:
		emit(frame)
	}
	return nil
}

func (s *llmStage) processControl(context.Context, ControlFrame, emitFunc) error {
	return nil
}

// generate runs one model generation to completion or cancellation. Stream
// failures are recoverable: the generation is abandoned and the session
// stays alive for the next turn.
func (s *llmStage) generate(ctx context.Context, emit emitFunc) {
	gen := s.controller.beginGeneration()
	defer s.controller.finishGeneration(gen)

	ctx, span := tracer.Start(gen.ctx, "llm generation")
	defer span.End()
	span.SetAttributes(attribute.String("generation.id", gen.id))

	var turnMessages []llms.Message
	for {
		stream := s.client.PromptWithStream(
			llms.WithMessages(append(s.context.Messages(), turnMessages...)...),
			llms.WithTools(s.router.available()...),
		)

		response := strings.Builder{}
		var toolCalls []llms.ToolCall
		var streamErr error
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				streamErr = err
				break
			}
			if gen.isCancelled() {
				return
			}

			if contentChunk, ok := chunk.(llms.StreamContentChunk); ok && contentChunk.Content() != "" {
				response.WriteString(contentChunk.Content())
				emit(TranscriptDeltaFrame{
					Role:         llms.RoleAssistant,
					Text:         contentChunk.Content(),
					GenerationID: gen.id,
				})
			}
			if toolCallChunk, ok := chunk.(llms.StreamToolCallChunk); ok {
				toolCalls = append(toolCalls, toolCallChunk.ToolCall())
			}
		}
		if streamErr != nil {
			recordedErr := fmt.Errorf("failed to stream llm response: %w", streamErr)
			span.RecordError(recordedErr)
			span.SetStatus(codes.Error, recordedErr.Error())
			return
		}
		if gen.isCancelled() {
			return
		}

		if len(toolCalls) == 0 {
			emit(ContextMessageFrame{
				Message:      llms.Message{Role: llms.RoleAssistant, Content: response.String()},
				GenerationID: gen.id,
			})
			return
		}

		for _, call := range toolCalls {
			emit(ToolCallRequestFrame{Call: call, GenerationID: gen.id})

			result, failed, delivered := s.router.dispatch(ctx, call)
			if !delivered {
				return
			}

			turnMessages = append(turnMessages,
				llms.Message{Role: llms.RoleAssistant, ToolCalls: []llms.ToolCall{result}},
				llms.Message{Role: llms.RoleTool, Content: result.Response, ToolCallID: result.ID},
			)
			emit(ToolCallResultFrame{Call: result, GenerationID: gen.id, Failed: failed})
		}
	}
}
