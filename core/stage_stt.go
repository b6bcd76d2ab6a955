package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prediqt/voicepipe/core/audio"
	"github.com/prediqt/voicepipe/core/llms"
	"github.com/prediqt/voicepipe/core/speechtotext"
)

// sttEndpointedSilence is the trailing silence the transcription provider
// requires before finalizing an utterance, fed to the turn detector as the
// observed pause length.
const sttEndpointedSilence = 300 * time.Millisecond

// sttStage streams inbound audio to the transcription provider and turns
// finalized utterances into user transcript deltas followed by an in-band
// end-of-turn signal. A turn detector can hold the turn open across short
// pauses; a held turn is force-closed once the pause outlasts the detector's
// patience.
type sttStage struct {
	client     SpeechToTextClient
	controller *turnController
	detector   audio.TurnDetector
	encoding   audio.EncodingInfo
	holdFor    time.Duration

	mu        sync.Mutex
	emit      emitFunc
	pending   []string
	holdTimer *time.Timer
}

func newSTTStage(client SpeechToTextClient, controller *turnController, detector audio.TurnDetector, encoding audio.EncodingInfo) *sttStage {
	holdFor := audio.DefaultSmartTurnParams().MaxTrailingSilence
	if detector != nil {
		holdFor = detector.HoldTimeout()
	}
	return &sttStage{
		client:     client,
		controller: controller,
		detector:   detector,
		encoding:   encoding,
		holdFor:    holdFor,
	}
}

func (s *sttStage) name() string { return "speech to text" }

func (s *sttStage) start(ctx context.Context, emit emitFunc) error {
	s.mu.Lock()
	s.emit = emit
	s.mu.Unlock()

	return s.client.Transcribe(ctx,
		speechtotext.WithEncodingInfo(s.encoding),
		speechtotext.WithSpeechStartedCallback(func() {
			s.controller.onSpeechStarted()
		}),
		speechtotext.WithTranscriptionCallback(func(transcript string) {
			s.onTranscript(transcript)
		}),
	)
}

func (s *sttStage) stop(ctx context.Context) error {
	s.mu.Lock()
	if s.holdTimer != nil {
		s.holdTimer.Stop()
		s.holdTimer = nil
	}
	s.mu.Unlock()

	return s.client.Close(ctx)
}

func (s *sttStage) processFrame(_ context.Context, frame Frame, emit emitFunc) error {
	audioFrame, ok := frame.(AudioChunkFrame)
	if !ok || audioFrame.GenerationID != "" {
		if !ok {
			emit(frame)
		}
		return nil
	}

	if err := s.client.SendAudio(audioFrame.Audio); err != nil {
		log.Println("Failed to send audio to transcription:", err)
	}
	return nil
}

func (s *sttStage) processControl(context.Context, ControlFrame, emitFunc) error {
	return nil
}

// onTranscript accumulates one finalized utterance and decides whether the
// user's turn is over. When the detector judges the transcript mid-sentence
// the turn is held open; the hold timer closes it if nothing more arrives.
func (s *sttStage) onTranscript(transcript string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, transcript)
	if s.holdTimer != nil {
		s.holdTimer.Stop()
		s.holdTimer = nil
	}

	if s.detector != nil && !s.detector.EndOfTurn(strings.Join(s.pending, " "), sttEndpointedSilence) {
		s.holdTimer = time.AfterFunc(s.holdFor, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.holdTimer = nil
			s.endTurnLocked()
		})
		return
	}

	s.endTurnLocked()
}

func (s *sttStage) endTurnLocked() {
	transcript := strings.TrimSpace(strings.Join(s.pending, " "))
	s.pending = nil
	if s.detector != nil {
		s.detector.Reset()
	}
	if transcript == "" || s.emit == nil {
		return
	}

	s.controller.onEndOfTurn()
	s.emit(TranscriptDeltaFrame{Role: llms.RoleUser, Text: transcript})
	s.emit(ControlFrame{Signal: ControlEndOfTurn})
}
