package session

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/prediqt/voicepipe/core/llms"
	"github.com/prediqt/voicepipe/core/memories"
)

const memoryRecallPreamble = "Based on previous conversations, Here is What I recall: "

// memoryStage augments each user message with long-term memory. Relevant
// memories are searched before the message reaches the language model and
// placed at the fixed recall slot of the context, so recall always precedes
// the user message the model responds to. Search failures degrade to an
// unaugmented turn.
type memoryStage struct {
	store   memories.Store
	context *ConversationContext

	searchLimit    int
	scoreThreshold float64
}

func newMemoryStage(store memories.Store, conversation *ConversationContext, searchLimit int, scoreThreshold float64) *memoryStage {
	return &memoryStage{
		store:          store,
		context:        conversation,
		searchLimit:    searchLimit,
		scoreThreshold: scoreThreshold,
	}
}

func (s *memoryStage) name() string { return "memory" }

func (s *memoryStage) processFrame(ctx context.Context, frame Frame, emit emitFunc) error {
	message, ok := frame.(ContextMessageFrame)
	if !ok || message.Message.Role != llms.RoleUser {
		emit(frame)
		return nil
	}

	ctx, span := tracer.Start(ctx, "memory search")
	defer span.End()

	results, err := s.store.Search(ctx, message.Message.Content,
		memories.WithLimit(s.searchLimit),
		memories.WithThreshold(s.scoreThreshold),
	)
	if err != nil {
		recordedErr := fmt.Errorf("failed to search memories: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		emit(frame)
		return nil
	}

	if len(results) > 0 {
		recall := strings.Builder{}
		recall.WriteString(memoryRecallPreamble)
		for _, memory := range results {
			recall.WriteString("\n- ")
			recall.WriteString(memory.Text)
		}
		s.context.SetMemoryRecall(recall.String())
	}

	emit(frame)
	return nil
}

func (s *memoryStage) processControl(context.Context, ControlFrame, emitFunc) error {
	return nil
}
