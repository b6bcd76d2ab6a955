package session

import (
	"context"
	"log"
	"strings"

	"github.com/prediqt/voicepipe/core/llms"
	"github.com/prediqt/voicepipe/core/memories"
)

// userAggregatorStage collects user transcript deltas and, on end of turn,
// commits them to the conversation context as a single user message before
// passing that message downstream.
type userAggregatorStage struct {
	context *ConversationContext

	parts []string
}

func newUserAggregatorStage(conversation *ConversationContext) *userAggregatorStage {
	return &userAggregatorStage{context: conversation}
}

func (s *userAggregatorStage) name() string { return "user aggregator" }

func (s *userAggregatorStage) processFrame(_ context.Context, frame Frame, emit emitFunc) error {
	delta, ok := frame.(TranscriptDeltaFrame)
	if !ok || delta.Role != llms.RoleUser {
		emit(frame)
		return nil
	}

	s.parts = append(s.parts, delta.Text)
	return nil
}

func (s *userAggregatorStage) processControl(_ context.Context, frame ControlFrame, emit emitFunc) error {
	if frame.Signal != ControlEndOfTurn {
		return nil
	}

	content := strings.TrimSpace(strings.Join(s.parts, " "))
	s.parts = nil
	if content == "" {
		return nil
	}

	message := llms.Message{Role: llms.RoleUser, Content: content}
	s.context.AppendMessage(message)
	emit(ContextMessageFrame{Message: message})
	return nil
}

// assistantAggregatorStage is the pipeline tail. It commits completed
// assistant output and delivered tool results to the conversation context
// and records finished messages to long-term memory.
//
// Tool results are committed only while their generation is live, and at
// most once per call ID. An interrupted assistant message is committed
// truncated to the portion that was actually spoken.
type assistantAggregatorStage struct {
	context    *ConversationContext
	controller *turnController
	memory     memories.Store
}

func newAssistantAggregatorStage(conversation *ConversationContext, controller *turnController, memory memories.Store) *assistantAggregatorStage {
	return &assistantAggregatorStage{context: conversation, controller: controller, memory: memory}
}

func (s *assistantAggregatorStage) name() string { return "assistant aggregator" }

func (s *assistantAggregatorStage) processFrame(ctx context.Context, frame Frame, _ emitFunc) error {
	switch frame := frame.(type) {
	case ToolCallResultFrame:
		if s.controller.isCancelled(frame.GenerationID) {
			return nil
		}
		s.context.AppendToolExchange(frame.Call)

	case ContextMessageFrame:
		switch frame.Message.Role {
		case llms.RoleUser:
			s.record(ctx, frame.Message)
		case llms.RoleAssistant:
			if !frame.Interrupted && s.controller.isCancelled(frame.GenerationID) {
				return nil
			}
			s.context.AppendMessage(frame.Message)
			s.record(ctx, frame.Message)
		}
	}
	return nil
}

func (s *assistantAggregatorStage) processControl(context.Context, ControlFrame, emitFunc) error {
	return nil
}

func (s *assistantAggregatorStage) record(ctx context.Context, message llms.Message) {
	if s.memory == nil || message.Content == "" {
		return
	}

	go func() {
		if err := s.memory.Record(context.WithoutCancel(ctx), string(message.Role), message.Content); err != nil {
			log.Println("Failed to record message to memory:", err)
		}
	}()
}
