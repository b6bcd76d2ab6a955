package session

import (
	"context"
	"testing"
)

func TestSpeechStartedWhileIdleDoesNotBroadcast(t *testing.T) {
	broadcasts := make(chan ControlFrame, 1)
	c := newTurnController(context.Background(), func(frame ControlFrame) {
		broadcasts <- frame
	})

	c.onSpeechStarted()

	if state := c.State(); state != TurnStateUserSpeaking {
		t.Fatalf("expected user speaking, got %q", state)
	}
	select {
	case frame := <-broadcasts:
		t.Fatalf("expected no broadcast, got %q", frame.Signal)
	default:
	}
}

func TestSpeechOverActiveGenerationCancelsIt(t *testing.T) {
	broadcasts := make(chan ControlFrame, 1)
	c := newTurnController(context.Background(), func(frame ControlFrame) {
		broadcasts <- frame
	})

	gen := c.beginGeneration()
	c.onSpeechStarted()

	if !gen.isCancelled() {
		t.Fatalf("expected interruption to cancel the generation")
	}
	if gen.ctx.Err() == nil {
		t.Fatalf("expected generation context to be cancelled")
	}
	if state := c.State(); state != TurnStateUserSpeaking {
		t.Fatalf("expected user speaking after interruption, got %q", state)
	}

	select {
	case frame := <-broadcasts:
		if frame.Signal != ControlCancel || frame.GenerationID != gen.id {
			t.Fatalf("expected cancel broadcast for %q, got %+v", gen.id, frame)
		}
	default:
		t.Fatalf("expected a cancel broadcast")
	}
}

func TestBeginGenerationCancelsPreviousLiveGeneration(t *testing.T) {
	c := newTurnController(context.Background(), func(ControlFrame) {})

	first := c.beginGeneration()
	second := c.beginGeneration()

	if !first.isCancelled() {
		t.Fatalf("expected first generation to be cancelled")
	}
	if second.isCancelled() {
		t.Fatalf("expected second generation to be live")
	}
	if c.activeGeneration() != second {
		t.Fatalf("expected second generation to be active")
	}
}

func TestFinishGenerationReturnsToIdle(t *testing.T) {
	c := newTurnController(context.Background(), func(ControlFrame) {})

	c.onSpeechStarted()
	c.onEndOfTurn()
	gen := c.beginGeneration()
	c.onAgentAudio(gen.id)

	if state := c.State(); state != TurnStateAgentSpeaking {
		t.Fatalf("expected agent speaking after first audio, got %q", state)
	}

	c.finishGeneration(gen)
	if state := c.State(); state != TurnStateIdle {
		t.Fatalf("expected idle after generation finished, got %q", state)
	}
}

func TestCancelledGenerationAudioDoesNotFlipState(t *testing.T) {
	c := newTurnController(context.Background(), func(ControlFrame) {})

	c.onEndOfTurn()
	gen := c.beginGeneration()
	c.onSpeechStarted()
	c.onAgentAudio(gen.id)

	if state := c.State(); state != TurnStateUserSpeaking {
		t.Fatalf("expected user speaking to win over stale audio, got %q", state)
	}
}

func TestUnknownGenerationCountsAsCancelled(t *testing.T) {
	c := newTurnController(context.Background(), func(ControlFrame) {})

	if !c.isCancelled("never-started") {
		t.Fatalf("expected unknown generation to be treated as cancelled")
	}
}

func TestCloseFreezesStateAndCancelsGeneration(t *testing.T) {
	c := newTurnController(context.Background(), func(ControlFrame) {})

	gen := c.beginGeneration()
	c.close()

	if !gen.isCancelled() {
		t.Fatalf("expected close to cancel the live generation")
	}
	if state := c.State(); state != TurnStateClosed {
		t.Fatalf("expected closed state, got %q", state)
	}

	c.onSpeechStarted()
	if state := c.State(); state != TurnStateClosed {
		t.Fatalf("expected closed state to be final, got %q", state)
	}
}
