package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prediqt/voicepipe/core/audio"
	"github.com/prediqt/voicepipe/core/llms"
)

type frameRecorder struct {
	frames []Frame
}

func (r *frameRecorder) emit(frame Frame) {
	r.frames = append(r.frames, frame)
}

func TestUserAggregatorFlushesOnEndOfTurn(t *testing.T) {
	conversation := NewConversationContext("base")
	s := newUserAggregatorStage(conversation)
	recorder := &frameRecorder{}

	ctx := context.Background()
	s.processFrame(ctx, TranscriptDeltaFrame{Role: llms.RoleUser, Text: "hello"}, recorder.emit)
	s.processFrame(ctx, TranscriptDeltaFrame{Role: llms.RoleUser, Text: "there"}, recorder.emit)
	if len(recorder.frames) != 0 {
		t.Fatalf("expected deltas to be buffered, got %+v", recorder.frames)
	}

	s.processControl(ctx, ControlFrame{Signal: ControlEndOfTurn}, recorder.emit)

	if len(recorder.frames) != 1 {
		t.Fatalf("expected one committed message, got %d", len(recorder.frames))
	}
	message, ok := recorder.frames[0].(ContextMessageFrame)
	if !ok || message.Message.Content != "hello there" {
		t.Fatalf("expected joined user message, got %+v", recorder.frames[0])
	}

	messages := conversation.Messages()
	if messages[len(messages)-1].Content != "hello there" {
		t.Fatalf("expected user message committed to context")
	}
}

func TestUserAggregatorIgnoresEmptyTurn(t *testing.T) {
	s := newUserAggregatorStage(NewConversationContext("base"))
	recorder := &frameRecorder{}

	s.processControl(context.Background(), ControlFrame{Signal: ControlEndOfTurn}, recorder.emit)
	if len(recorder.frames) != 0 {
		t.Fatalf("expected empty turn to emit nothing, got %+v", recorder.frames)
	}
}

func TestAssistantAggregatorSkipsCancelledResults(t *testing.T) {
	conversation := NewConversationContext("base")
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	s := newAssistantAggregatorStage(conversation, controller, nil)

	gen := controller.beginGeneration()
	controller.onSpeechStarted()

	ctx := context.Background()
	s.processFrame(ctx, ToolCallResultFrame{
		Call:         llms.ToolCall{ID: "call-1", Response: "late"},
		GenerationID: gen.id,
	}, nil)
	s.processFrame(ctx, ContextMessageFrame{
		Message:      llms.Message{Role: llms.RoleAssistant, Content: "stale reply"},
		GenerationID: gen.id,
	}, nil)

	if len(conversation.Messages()) != 1 {
		t.Fatalf("expected cancelled output to be dropped, got %+v", conversation.Messages())
	}
}

func TestAssistantAggregatorKeepsInterruptedMessage(t *testing.T) {
	conversation := NewConversationContext("base")
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	s := newAssistantAggregatorStage(conversation, controller, nil)

	gen := controller.beginGeneration()
	controller.onSpeechStarted()

	s.processFrame(context.Background(), ContextMessageFrame{
		Message:      llms.Message{Role: llms.RoleAssistant, Content: "the spoken part"},
		GenerationID: gen.id,
		Interrupted:  true,
	}, nil)

	messages := conversation.Messages()
	if messages[len(messages)-1].Content != "the spoken part" {
		t.Fatalf("expected interrupted message committed, got %+v", messages)
	}
}

func TestAssistantAggregatorToolResultsAreIdempotent(t *testing.T) {
	conversation := NewConversationContext("base")
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	s := newAssistantAggregatorStage(conversation, controller, nil)

	gen := controller.beginGeneration()
	frame := ToolCallResultFrame{
		Call:         llms.ToolCall{ID: "call-1", Response: "result"},
		GenerationID: gen.id,
	}

	ctx := context.Background()
	s.processFrame(ctx, frame, nil)
	s.processFrame(ctx, frame, nil)

	if len(conversation.Messages()) != 3 {
		t.Fatalf("expected a single tool exchange, got %+v", conversation.Messages())
	}
}

func TestLLMStageRunsToolLoop(t *testing.T) {
	conversation := NewConversationContext("base")
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	router := newToolRouter(echoTool())
	llmClient := newScriptedStreamLLM(
		[]llms.StreamChunk{streamToolCallChunkStub{call: llms.ToolCall{
			ID: "call-1", Name: "echo", Arguments: `{"value":"Paris"}`,
		}}},
		[]llms.StreamChunk{streamContentChunkStub{content: "It is Paris."}},
	)
	s := newLLMStage(llmClient, conversation, router, controller)

	userMessage := llms.Message{Role: llms.RoleUser, Content: "what city"}
	conversation.AppendMessage(userMessage)
	recorder := &frameRecorder{}
	s.processFrame(context.Background(), ContextMessageFrame{Message: userMessage}, recorder.emit)

	if llmClient.promptCount() != 2 {
		t.Fatalf("expected two prompts, got %d", llmClient.promptCount())
	}

	secondPrompt := llmClient.prompt(1)
	foundToolResponse := false
	for _, message := range secondPrompt.Messages {
		if message.Role == llms.RoleTool && message.Content == "Paris" {
			foundToolResponse = true
		}
	}
	if !foundToolResponse {
		t.Fatalf("expected tool response in follow-up prompt, got %+v", secondPrompt.Messages)
	}

	var sawRequest, sawResult, sawFinal bool
	for _, frame := range recorder.frames {
		switch frame := frame.(type) {
		case ToolCallRequestFrame:
			sawRequest = true
		case ToolCallResultFrame:
			sawResult = frame.Call.Response == "Paris"
		case ContextMessageFrame:
			if frame.Message.Role == llms.RoleAssistant {
				sawFinal = frame.Message.Content == "It is Paris."
			}
		}
	}
	if !sawRequest || !sawResult || !sawFinal {
		t.Fatalf("expected request, result, and final frames, got %+v", recorder.frames)
	}
}

func TestLLMStageDropsToolResultAfterInterruption(t *testing.T) {
	conversation := NewConversationContext("base")
	controller := newTurnController(context.Background(), func(ControlFrame) {})

	interrupting := llms.NewTool("interrupting", "Interrupts its own generation",
		func(struct{}) (string, error) {
			controller.onSpeechStarted()
			return "too late", nil
		})
	router := newToolRouter(interrupting)
	llmClient := newScriptedStreamLLM(
		[]llms.StreamChunk{streamToolCallChunkStub{call: llms.ToolCall{
			ID: "call-1", Name: "interrupting", Arguments: `{}`,
		}}},
	)
	s := newLLMStage(llmClient, conversation, router, controller)

	recorder := &frameRecorder{}
	s.processFrame(context.Background(), RunFrame{}, recorder.emit)

	for _, frame := range recorder.frames {
		if _, isResult := frame.(ToolCallResultFrame); isResult {
			t.Fatalf("expected no tool result after interruption, got %+v", recorder.frames)
		}
	}
	if llmClient.promptCount() != 1 {
		t.Fatalf("expected no follow-up prompt after interruption, got %d", llmClient.promptCount())
	}
}

func TestTTSStageEmitsTruncatedMessageOnCancel(t *testing.T) {
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	client := newScriptedTTSClient()
	s := newTTSStage(client, controller, audio.DefaultEncodingInfo())

	recorder := &frameRecorder{}
	if err := s.start(context.Background(), recorder.emit); err != nil {
		t.Fatalf("failed to start tts stage: %v", err)
	}

	gen := controller.beginGeneration()
	ctx := context.Background()
	s.processFrame(ctx, TranscriptDeltaFrame{Role: llms.RoleAssistant, Text: "partial ", GenerationID: gen.id}, recorder.emit)
	s.processFrame(ctx, TranscriptDeltaFrame{Role: llms.RoleAssistant, Text: "answer", GenerationID: gen.id}, recorder.emit)

	controller.onSpeechStarted()
	s.processControl(ctx, ControlFrame{Signal: ControlCancel, GenerationID: gen.id}, recorder.emit)

	select {
	case <-client.cancelled:
	default:
		t.Fatalf("expected synthesis cancellation")
	}

	var truncated *ContextMessageFrame
	for _, frame := range recorder.frames {
		if message, ok := frame.(ContextMessageFrame); ok && message.Interrupted {
			truncated = &message
		}
	}
	if truncated == nil {
		t.Fatalf("expected truncated assistant message, got %+v", recorder.frames)
	}
	if truncated.Message.Content != "partial answer" {
		t.Fatalf("expected spoken portion, got %q", truncated.Message.Content)
	}
}

func TestTTSStageDropsDeltasFromCancelledGeneration(t *testing.T) {
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	client := newScriptedTTSClient()
	s := newTTSStage(client, controller, audio.DefaultEncodingInfo())

	recorder := &frameRecorder{}
	s.start(context.Background(), recorder.emit)

	gen := controller.beginGeneration()
	controller.onSpeechStarted()

	s.processFrame(context.Background(), TranscriptDeltaFrame{
		Role: llms.RoleAssistant, Text: "stale", GenerationID: gen.id,
	}, recorder.emit)

	client.mu.Lock()
	sent := len(client.sent)
	client.mu.Unlock()
	if sent != 0 {
		t.Fatalf("expected no text sent for cancelled generation, got %d", sent)
	}
}

func TestAudioOutputDropsCancelledGenerationAudio(t *testing.T) {
	transport := newFakeTransport()
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	s := newAudioOutputStage(transport, controller)

	gen := controller.beginGeneration()
	ctx := context.Background()

	s.processFrame(ctx, AudioChunkFrame{Audio: []byte("live"), GenerationID: gen.id}, nil)
	select {
	case chunk := <-transport.written:
		if string(chunk) != "live" {
			t.Fatalf("expected live audio written, got %q", chunk)
		}
	default:
		t.Fatalf("expected live audio to reach the transport")
	}

	controller.onSpeechStarted()
	s.processFrame(ctx, AudioChunkFrame{Audio: []byte("stale"), GenerationID: gen.id}, nil)
	select {
	case chunk := <-transport.written:
		t.Fatalf("expected stale audio to be dropped, got %q", chunk)
	default:
	}
}

func TestSTTStageHoldsMidSentenceTranscript(t *testing.T) {
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	client := newScriptedSTTClient()
	detector := audio.NewSmartTurnDetector(audio.DefaultSmartTurnParams())
	s := newSTTStage(client, controller, detector, audio.DefaultEncodingInfo())
	s.holdFor = 200 * time.Millisecond

	recorder := &frameRecorder{}
	if err := s.start(context.Background(), recorder.emit); err != nil {
		t.Fatalf("failed to start stt stage: %v", err)
	}

	client.fireTranscript("I went to the")
	if len(recorder.frames) != 0 {
		t.Fatalf("expected mid-sentence transcript to be held, got %+v", recorder.frames)
	}

	client.fireTranscript("store yesterday")
	if len(recorder.frames) != 2 {
		t.Fatalf("expected delta and end-of-turn, got %+v", recorder.frames)
	}
	delta, ok := recorder.frames[0].(TranscriptDeltaFrame)
	if !ok || delta.Text != "I went to the store yesterday" {
		t.Fatalf("expected joined transcript, got %+v", recorder.frames[0])
	}
	control, ok := recorder.frames[1].(ControlFrame)
	if !ok || control.Signal != ControlEndOfTurn {
		t.Fatalf("expected end-of-turn control, got %+v", recorder.frames[1])
	}
	if state := controller.State(); state != TurnStateProcessing {
		t.Fatalf("expected processing after end of turn, got %q", state)
	}
}

func TestSTTStageForcesHeldTurnAfterTimeout(t *testing.T) {
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	client := newScriptedSTTClient()
	detector := audio.NewSmartTurnDetector(audio.DefaultSmartTurnParams())
	s := newSTTStage(client, controller, detector, audio.DefaultEncodingInfo())
	s.holdFor = 50 * time.Millisecond

	frames := make(chan Frame, 8)
	if err := s.start(context.Background(), func(frame Frame) { frames <- frame }); err != nil {
		t.Fatalf("failed to start stt stage: %v", err)
	}

	client.fireTranscript("I was thinking about the")

	select {
	case frame := <-frames:
		delta, ok := frame.(TranscriptDeltaFrame)
		if !ok || !strings.Contains(delta.Text, "thinking about the") {
			t.Fatalf("expected held transcript to flush, got %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forced end of turn")
	}
}

func TestSTTStageHoldWindowFollowsDetectorPatience(t *testing.T) {
	controller := newTurnController(context.Background(), func(ControlFrame) {})
	detector := audio.NewSmartTurnDetector(audio.SmartTurnParams{
		MaxTrailingSilence: 5 * time.Second,
	})
	s := newSTTStage(newScriptedSTTClient(), controller, detector, audio.DefaultEncodingInfo())

	if s.holdFor != 5*time.Second {
		t.Fatalf("expected hold window from detector, got %v", s.holdFor)
	}
}

func TestMemoryStageAugmentsUserMessages(t *testing.T) {
	conversation := NewConversationContext("base")
	store := &scriptedMemoryStore{}
	store.memories = append(store.memories, memoryFixture("likes espresso"))
	s := newMemoryStage(store, conversation, 10, 0.3)

	recorder := &frameRecorder{}
	frame := ContextMessageFrame{Message: llms.Message{Role: llms.RoleUser, Content: "coffee order"}}
	s.processFrame(context.Background(), frame, recorder.emit)

	if len(recorder.frames) != 1 {
		t.Fatalf("expected user message passed through, got %+v", recorder.frames)
	}
	messages := conversation.Messages()
	if len(messages) != 2 || !strings.Contains(messages[1].Content, "likes espresso") {
		t.Fatalf("expected recall inserted after system prompt, got %+v", messages)
	}
	if !strings.Contains(messages[1].Content, memoryRecallPreamble[:20]) {
		t.Fatalf("expected recall preamble, got %q", messages[1].Content)
	}
}
